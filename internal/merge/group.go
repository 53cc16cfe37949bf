package merge

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/db"
)

// Group is a set of records of one entity sharing an identity and scope.
// Members are ordered oldest first; the first member survives.
type Group struct {
	Entity     string   `json:"entity" yaml:"entity"`
	IdentityID string   `json:"identity_id" yaml:"identity_id"`
	TenantID   *string  `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Members    []string `json:"members" yaml:"members"`
}

// Survivor returns the id of the oldest member.
func (g Group) Survivor() string {
	if len(g.Members) == 0 {
		return ""
	}
	return g.Members[0]
}

// Duplicates returns the members merged into the survivor, oldest first.
func (g Group) Duplicates() []string {
	if len(g.Members) < 2 {
		return nil
	}
	return g.Members[1:]
}

// Grouper finds duplicate groups.
type Grouper struct {
	q db.Querier
}

// NewGrouper creates a Grouper.
func NewGrouper(q db.Querier) *Grouper {
	return &Grouper{q: q}
}

func groupSQL(e Entity) string {
	table := db.QuoteIdent(e.Table)
	if e.TenantColumn == "" {
		return fmt.Sprintf(`
		SELECT identity_id, NULL::text, array_agg(id ORDER BY created_at, id)
		FROM %s
		WHERE identity_id IS NOT NULL
		GROUP BY identity_id
		HAVING COUNT(*) > 1
		ORDER BY MIN(created_at), identity_id`, table)
	}
	tenant := db.QuoteIdent(e.TenantColumn)
	return fmt.Sprintf(`
		SELECT identity_id, %[2]s, array_agg(id ORDER BY created_at, id)
		FROM %[1]s
		WHERE identity_id IS NOT NULL
		GROUP BY identity_id, %[2]s
		HAVING COUNT(*) > 1
		ORDER BY MIN(created_at), identity_id, %[2]s`, table, tenant)
}

// Groups returns every group of e with more than one member, ordered by
// the group's oldest member. Records of the same identity under different
// tenants are never grouped together.
func (g *Grouper) Groups(ctx context.Context, e Entity) ([]Group, error) {
	rows, err := g.q.Query(ctx, groupSQL(e))
	if err != nil {
		return nil, eris.Wrapf(err, "merge: group %s", e.Name)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		grp := Group{Entity: e.Name}
		if err := rows.Scan(&grp.IdentityID, &grp.TenantID, &grp.Members); err != nil {
			return nil, eris.Wrapf(err, "merge: scan %s group", e.Name)
		}
		out = append(out, grp)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "merge: iterate %s groups", e.Name)
	}
	return out, nil
}
