package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func sp(s string) *string { return &s }

func TestGroups_TenantScoped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`GROUP BY identity_id, "company_id"`).
		WillReturnRows(pgxmock.NewRows([]string{"identity_id", "company_id", "members"}).
			AddRow("i1", sp("tenant-a"), []string{"p-old", "p-new"}).
			AddRow("i1", sp("tenant-b"), []string{"p-b1", "p-b2", "p-b3"}))

	groups, err := NewGrouper(mock).Groups(context.Background(), Promoters)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "promoters", groups[0].Entity)
	assert.Equal(t, "tenant-a", *groups[0].TenantID)
	assert.Equal(t, "p-old", groups[0].Survivor())
	assert.Equal(t, []string{"p-new"}, groups[0].Duplicates())
	assert.Equal(t, []string{"p-b2", "p-b3"}, groups[1].Duplicates())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroups_GlobalScope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var none *string
	mock.ExpectQuery(`SELECT identity_id, NULL::text`).
		WillReturnRows(pgxmock.NewRows([]string{"identity_id", "tenant", "members"}).
			AddRow("i9", none, []string{"c1", "c2"}))

	groups, err := NewGrouper(mock).Groups(context.Background(), Customers)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Nil(t, groups[0].TenantID)
	assert.Equal(t, "c1", groups[0].Survivor())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroups_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM "accounts"`).WillReturnError(errors.New("relation \"accounts\" does not exist"))

	_, err = NewGrouper(mock).Groups(context.Background(), Accounts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge: group accounts")
}

func TestGroupSQL(t *testing.T) {
	q := groupSQL(Accounts)
	assert.Contains(t, q, `FROM "accounts"`)
	assert.Contains(t, q, "HAVING COUNT(*) > 1")
	assert.Contains(t, q, "array_agg(id ORDER BY created_at, id)")
	assert.Contains(t, q, "WHERE identity_id IS NOT NULL")

	q = groupSQL(Customers)
	assert.Contains(t, q, "GROUP BY identity_id\n")
	assert.NotContains(t, q, "company_id")
}

func TestGroupAccessors_Empty(t *testing.T) {
	assert.Equal(t, "", Group{}.Survivor())
	assert.Nil(t, Group{Members: []string{"only"}}.Duplicates())
}
