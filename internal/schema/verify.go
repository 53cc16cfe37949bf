package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/db"
)

// ErrStructural reports that a table or column the reconciler depends on is
// missing. Nothing has been mutated when it is returned.
var ErrStructural = eris.New("schema: structural mismatch")

// Column names a table column.
type Column struct {
	Table string
	Name  string
}

func (c Column) String() string { return c.Table + "." + c.Name }

func cols(table string, names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Table: table, Name: n}
	}
	return out
}

// RecordColumns are the per-context and identity columns the linker, the
// legacy sync and the grouper read or write.
var RecordColumns = concat(
	cols("identities", "id", "first_name", "last_name", "email", "email_verified",
		"phone", "phone_normalized", "phone_verified", "gender", "birth_date", "birth_place",
		"street", "city", "province", "postal_code", "country", "merged_from_ids",
		"created_at", "updated_at"),
	cols("accounts", "id", "company_id", "first_name", "last_name", "email", "phone",
		"email_verified", "phone_verified", "customer_ref", "identity_id", "created_at"),
	cols("customers", "id", "first_name", "last_name", "email", "phone_prefix", "phone",
		"email_verified", "phone_verified", "gender", "birth_date", "birth_place",
		"street", "city", "province", "postal_code", "country", "account_ref", "identity_id", "created_at"),
	cols("promoters", "id", "company_id", "first_name", "last_name", "email", "phone",
		"identity_id", "created_at"),
	cols("reconcile_runs", "id", "status", "started_at", "completed_at", "error", "metrics"),
)

func concat(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Verifier checks that required columns exist.
type Verifier struct {
	q db.Querier
}

// NewVerifier creates a Verifier.
func NewVerifier(q db.Querier) *Verifier {
	return &Verifier{q: q}
}

// Verify checks RecordColumns plus every extra column. It returns an error
// wrapping ErrStructural that lists every missing column.
func (v *Verifier) Verify(ctx context.Context, extra ...Column) error {
	want := concat(RecordColumns, extra)

	tableSet := make(map[string]bool)
	var tables []string
	for _, c := range want {
		if !tableSet[c.Table] {
			tableSet[c.Table] = true
			tables = append(tables, c.Table)
		}
	}

	rows, err := v.q.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ANY($1)`, tables)
	if err != nil {
		return eris.Wrap(err, "schema: query columns")
	}
	defer rows.Close()

	have := make(map[Column]bool)
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Table, &c.Name); err != nil {
			return eris.Wrap(err, "schema: scan column")
		}
		have[c] = true
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "schema: iterate columns")
	}

	seen := make(map[Column]bool)
	var missing []string
	for _, c := range want {
		if have[c] || seen[c] {
			continue
		}
		seen[c] = true
		missing = append(missing, c.String())
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return eris.Wrapf(ErrStructural, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}
