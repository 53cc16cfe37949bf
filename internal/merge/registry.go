// Package merge collapses duplicate per-context records that share an
// identity and scope into the oldest record, re-owning every dependent row.
package merge

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/db"
	"github.com/sells-group/identity-cli/internal/schema"
)

// Entity is a per-context record type that can be merged.
type Entity struct {
	Name  string `json:"name" yaml:"name"`
	Table string `json:"table" yaml:"table"`
	// TenantColumn scopes grouping to a tenant. Empty means global scope.
	TenantColumn string `json:"tenant_column,omitempty" yaml:"tenant_column,omitempty"`
}

// Merge entities, in processing order.
var (
	Accounts  = Entity{Name: "accounts", Table: "accounts", TenantColumn: "company_id"}
	Customers = Entity{Name: "customers", Table: "customers"}
	Promoters = Entity{Name: "promoters", Table: "promoters", TenantColumn: "company_id"}

	Entities = []Entity{Accounts, Customers, Promoters}
)

// Policy says how a ref handles rows that would collide with a survivor row
// after rewriting.
type Policy int

const (
	// Rewrite re-points every dependent row.
	Rewrite Policy = iota
	// DiscardConflicts first deletes duplicate rows whose conflict key is
	// already held by the survivor, then re-points the rest.
	DiscardConflicts
)

func (p Policy) String() string {
	if p == DiscardConflicts {
		return "discard_conflicts"
	}
	return "rewrite"
}

// Ref is one foreign-key column that points at an entity's id.
type Ref struct {
	Table  string
	Column string
	Policy Policy
	// ConflictKeys are the columns that, together with Column, form a unique
	// key. Empty with DiscardConflicts means Column alone is unique.
	ConflictKeys []string
}

func (r Ref) String() string { return r.Table + "." + r.Column }

func rewrite(table, column string) Ref {
	return Ref{Table: table, Column: column}
}

func discard(table, column string, keys ...string) Ref {
	return Ref{Table: table, Column: column, Policy: DiscardConflicts, ConflictKeys: keys}
}

// Registry maps an entity table to every ref pointing at it.
type Registry map[string][]Ref

// DefaultRegistry returns the dependent tables of the ticketing platform.
func DefaultRegistry() Registry {
	return Registry{
		Accounts.Table: {
			rewrite("customers", "account_ref"),
			rewrite("audit_logs", "account_id"),
			rewrite("print_jobs", "account_id"),
			discard("scanner_assignments", "account_id", "event_id"),
			discard("notification_preferences", "account_id"),
			rewrite("api_keys", "account_id"),
		},
		Customers.Table: {
			rewrite("accounts", "customer_ref"),
			rewrite("tickets", "customer_id"),
			rewrite("subscriptions", "customer_id"),
			rewrite("reservations", "customer_id"),
			rewrite("wallets", "customer_id"),
			rewrite("wallet_transactions", "customer_id"),
			rewrite("loyalty_points", "customer_id"),
			rewrite("referrals", "referrer_customer_id"),
			rewrite("referrals", "referred_customer_id"),
			rewrite("ticket_transfers", "from_customer_id"),
			rewrite("ticket_transfers", "to_customer_id"),
			rewrite("resale_listings", "seller_customer_id"),
			discard("customer_consents", "customer_id", "consent_type"),
			discard("waitlist_entries", "customer_id", "event_id"),
		},
		Promoters.Table: {
			rewrite("promoter_commissions", "promoter_id"),
			rewrite("promoter_payouts", "promoter_id"),
			rewrite("affiliate_links", "promoter_id"),
			rewrite("referrals", "promoter_id"),
			rewrite("tickets", "promoter_id"),
			discard("promoter_event_assignments", "promoter_id", "event_id"),
		},
	}
}

// Refs returns the refs of an entity.
func (r Registry) Refs(e Entity) []Ref {
	return r[e.Table]
}

// Validate checks that every entity and ref uses plain identifiers and that
// no (table, column) pair is registered twice for the same entity.
func (r Registry) Validate() error {
	for _, e := range Entities {
		if err := db.CheckIdents(e.Table); err != nil {
			return eris.Wrapf(err, "merge: entity %s", e.Name)
		}
		if e.TenantColumn != "" {
			if err := db.CheckIdents(e.TenantColumn); err != nil {
				return eris.Wrapf(err, "merge: entity %s", e.Name)
			}
		}
	}
	for table, refs := range r {
		seen := make(map[string]bool, len(refs))
		for _, ref := range refs {
			if err := db.CheckIdents(append([]string{ref.Table, ref.Column}, ref.ConflictKeys...)...); err != nil {
				return eris.Wrapf(err, "merge: ref %s", ref)
			}
			if seen[ref.String()] {
				return eris.Errorf("merge: ref %s registered twice for %s", ref, table)
			}
			seen[ref.String()] = true
			if ref.Policy == Rewrite && len(ref.ConflictKeys) > 0 {
				return eris.Errorf("merge: ref %s has conflict keys but rewrite policy", ref)
			}
		}
	}
	return nil
}

// Columns lists every column the registry reads or writes, for structural
// verification.
func (r Registry) Columns() []schema.Column {
	var out []schema.Column
	for _, e := range Entities {
		out = append(out, schema.Column{Table: e.Table, Name: "id"})
		if e.TenantColumn != "" {
			out = append(out, schema.Column{Table: e.Table, Name: e.TenantColumn})
		}
		for _, ref := range r.Refs(e) {
			out = append(out, schema.Column{Table: ref.Table, Name: ref.Column})
			for _, k := range ref.ConflictKeys {
				out = append(out, schema.Column{Table: ref.Table, Name: k})
			}
		}
	}
	return out
}
