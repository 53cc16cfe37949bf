package db

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is a plain lower-case SQL identifier,
// optionally schema-qualified.
func ValidIdent(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return false
		}
	}
	return true
}

// QuoteIdent quotes a table or column name. Schema-qualified names like
// "billing.wallets" are quoted per part.
func QuoteIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{name}.Sanitize()
}

// CheckIdents returns an error naming the first invalid identifier.
func CheckIdents(names ...string) error {
	for _, n := range names {
		if !ValidIdent(n) {
			return eris.Errorf("db: invalid identifier %q", n)
		}
	}
	return nil
}
