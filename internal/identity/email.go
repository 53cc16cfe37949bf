package identity

import (
	"strings"

	"golang.org/x/text/cases"
)

// EmailKey returns the case-folded comparison key for an email address, or
// "" when the address is empty or has no '@'. Σ, σ and ς share one key.
//
// The key is for in-process comparisons only. Stores compare addresses with
// their own case function on both sides (see PostgresStore.FindByEmail).
func EmailKey(email string) string {
	e := strings.TrimSpace(email)
	if e == "" || !strings.Contains(e, "@") {
		return ""
	}
	// A Caser holds state and must not be shared between goroutines.
	return cases.Fold().String(e)
}

// emailLookup returns the trimmed address to hand to Store.FindByEmail, or
// "" when the address cannot be matched.
func emailLookup(email string) string {
	if EmailKey(email) == "" {
		return ""
	}
	return strings.TrimSpace(email)
}
