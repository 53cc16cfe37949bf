package merge

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// row is one table row keyed by column name. A missing column is NULL.
type row map[string]string

// memDB is a table-state fake of db.Pool that understands exactly the
// statements the executor builds from a Registry, so tests can assert the
// rows left behind by a merge rather than mocked row counts.
type memDB struct {
	mu       sync.Mutex
	tables   map[string][]row
	handlers map[string]func(args []any) int64
}

func newMemDB(reg Registry) *memDB {
	m := &memDB{tables: map[string][]row{}, handlers: map[string]func([]any) int64{}}
	for _, e := range Entities {
		m.handlers[deleteSQL(e)] = func(args []any) int64 {
			return m.remove(e.Table, func(r row) bool { return r["id"] == args[0] })
		}
		for _, ref := range reg.Refs(e) {
			m.handlers[rewriteSQL(ref)] = func(args []any) int64 {
				survivor, dup := args[0].(string), args[1].(string)
				var n int64
				for _, r := range m.tables[ref.Table] {
					if r[ref.Column] == dup {
						r[ref.Column] = survivor
						n++
					}
				}
				return n
			}
			if ref.Policy == DiscardConflicts {
				m.handlers[discardSQL(ref)] = func(args []any) int64 {
					dup, survivor := args[0].(string), args[1].(string)
					held := m.tables[ref.Table]
					return m.remove(ref.Table, func(d row) bool {
						if d[ref.Column] != dup {
							return false
						}
						for _, s := range held {
							if s[ref.Column] == survivor && sameKeys(s, d, ref.ConflictKeys) {
								return true
							}
						}
						return false
					})
				}
			}
		}
	}
	return m
}

func sameKeys(a, b row, keys []string) bool {
	for _, k := range keys {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func (m *memDB) insert(table string, rows ...row) {
	m.tables[table] = append(m.tables[table], rows...)
}

func (m *memDB) remove(table string, match func(row) bool) int64 {
	var kept []row
	var n int64
	for _, r := range m.tables[table] {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.tables[table] = kept
	return n
}

// count returns the rows of table whose col equals v.
func (m *memDB) count(table, col, v string) int {
	n := 0
	for _, r := range m.tables[table] {
		if r[col] == v {
			n++
		}
	}
	return n
}

func (m *memDB) snapshot() map[string][]row {
	out := make(map[string][]row, len(m.tables))
	for t, rows := range m.tables {
		cp := make([]row, len(rows))
		for i, r := range rows {
			cp[i] = maps.Clone(r)
		}
		out[t] = cp
	}
	return out
}

func (m *memDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	h, ok := m.handlers[sql]
	if !ok {
		return pgconn.CommandTag{}, fmt.Errorf("memdb: unsupported statement %q", sql)
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", h(args))), nil
}

func (m *memDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("memdb: query not supported")
}

func (m *memDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

// Begin serializes transactions and restores a snapshot on rollback.
func (m *memDB) Begin(context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	return &memTx{db: m, saved: m.snapshot()}, nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return fmt.Errorf("memdb: query not supported") }

// memTx implements the pgx.Tx methods the executor uses.
type memTx struct {
	pgx.Tx
	db    *memDB
	saved map[string][]row
	done  bool
}

func (t *memTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *memTx) Commit(context.Context) error {
	if !t.done {
		t.done = true
		t.db.mu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.done = true
		t.db.tables = t.saved
		t.db.mu.Unlock()
	}
	return nil
}
