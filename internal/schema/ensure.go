// Package schema creates the identity tables and columns the reconciler
// owns, and verifies the structure of the tables it reads.
package schema

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-cli/internal/db"
)

// ensureLockKey serializes concurrent Ensure calls.
const ensureLockKey int64 = 7_350_214

type checkKind int

const (
	checkTable checkKind = iota
	checkIndex
	checkColumn
)

// step is one guarded DDL statement: ddl runs only when the object named by
// check is missing. Columns and indexes are skipped while their table does
// not exist; the verifier reports those.
type step struct {
	name   string
	check  checkKind
	table  string
	object string
	ddl    string
}

var steps = []step{
	{
		name:   "identities",
		check:  checkTable,
		object: "identities",
		ddl: `CREATE TABLE identities (
			id               TEXT PRIMARY KEY,
			first_name       TEXT,
			last_name        TEXT,
			email            TEXT,
			email_verified   BOOLEAN NOT NULL DEFAULT false,
			phone            TEXT,
			phone_normalized TEXT,
			phone_verified   BOOLEAN NOT NULL DEFAULT false,
			gender           TEXT,
			birth_date       DATE,
			birth_place      TEXT,
			street           TEXT,
			city             TEXT,
			province         TEXT,
			postal_code      TEXT,
			country          TEXT,
			merged_from_ids  TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		name:   "idx_identities_phone_normalized",
		check:  checkIndex,
		table:  "identities",
		object: "idx_identities_phone_normalized",
		ddl:    `CREATE INDEX idx_identities_phone_normalized ON identities (phone_normalized)`,
	},
	{
		name:   "idx_identities_email_lower",
		check:  checkIndex,
		table:  "identities",
		object: "idx_identities_email_lower",
		ddl:    `CREATE INDEX idx_identities_email_lower ON identities (LOWER(email))`,
	},
	{
		name:   "accounts.identity_id",
		check:  checkColumn,
		table:  "accounts",
		object: "identity_id",
		ddl:    `ALTER TABLE accounts ADD COLUMN identity_id TEXT`,
	},
	{
		name:   "idx_accounts_identity_id",
		check:  checkIndex,
		table:  "accounts",
		object: "idx_accounts_identity_id",
		ddl:    `CREATE INDEX idx_accounts_identity_id ON accounts (identity_id)`,
	},
	{
		name:   "customers.identity_id",
		check:  checkColumn,
		table:  "customers",
		object: "identity_id",
		ddl:    `ALTER TABLE customers ADD COLUMN identity_id TEXT`,
	},
	{
		name:   "idx_customers_identity_id",
		check:  checkIndex,
		table:  "customers",
		object: "idx_customers_identity_id",
		ddl:    `CREATE INDEX idx_customers_identity_id ON customers (identity_id)`,
	},
	{
		name:   "promoters.identity_id",
		check:  checkColumn,
		table:  "promoters",
		object: "identity_id",
		ddl:    `ALTER TABLE promoters ADD COLUMN identity_id TEXT`,
	},
	{
		name:   "idx_promoters_identity_id",
		check:  checkIndex,
		table:  "promoters",
		object: "idx_promoters_identity_id",
		ddl:    `CREATE INDEX idx_promoters_identity_id ON promoters (identity_id)`,
	},
	{
		name:   "reconcile_runs",
		check:  checkTable,
		object: "reconcile_runs",
		ddl: `CREATE TABLE reconcile_runs (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			error        TEXT,
			metrics      JSONB
		)`,
	},
	{
		// At most one running row: a second concurrent run fails on insert.
		name:   "reconcile_runs_single_running",
		check:  checkIndex,
		table:  "reconcile_runs",
		object: "reconcile_runs_single_running",
		ddl:    `CREATE UNIQUE INDEX reconcile_runs_single_running ON reconcile_runs ((true)) WHERE status = 'running'`,
	},
	{
		name:   "idx_reconcile_runs_started_at",
		check:  checkIndex,
		table:  "reconcile_runs",
		object: "idx_reconcile_runs_started_at",
		ddl:    `CREATE INDEX idx_reconcile_runs_started_at ON reconcile_runs (started_at DESC)`,
	},
}

const (
	tableExistsSQL  = `SELECT to_regclass($1) IS NOT NULL`
	indexExistsSQL  = `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1)`
	columnExistsSQL = `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2)`
)

// EnsureReport lists the objects created by an Ensure call.
type EnsureReport struct {
	Created []string `json:"created" yaml:"created"`
}

// Ensurer creates the identity schema objects that are missing.
type Ensurer struct {
	pool    db.Pool
	timeout time.Duration
}

// NewEnsurer creates an Ensurer.
func NewEnsurer(pool db.Pool) *Ensurer {
	return &Ensurer{pool: pool, timeout: 5 * time.Minute}
}

// Ensure creates every missing table, column and index in a single
// transaction, holding a transaction-scoped advisory lock so concurrent
// callers serialize. Running it again is a no-op.
func (e *Ensurer) Ensure(ctx context.Context) (EnsureReport, error) {
	log := zap.L().With(zap.String("component", "schema.ensure"))

	var report EnsureReport
	err := db.InTx(ctx, e.pool, e.timeout, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ensureLockKey); err != nil {
			return eris.Wrap(err, "schema: acquire ensure lock")
		}

		for _, s := range steps {
			if s.check != checkTable {
				ok, err := tableExists(ctx, tx, s.table)
				if err != nil {
					return err
				}
				if !ok {
					log.Warn("table missing, skipping", zap.String("object", s.name), zap.String("table", s.table))
					continue
				}
			}

			exists, err := objectExists(ctx, tx, s)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if _, err := tx.Exec(ctx, s.ddl); err != nil {
				return eris.Wrapf(err, "schema: create %s", s.name)
			}
			log.Info("schema object created", zap.String("object", s.name))
			report.Created = append(report.Created, s.name)
		}
		return nil
	})
	if err != nil {
		return EnsureReport{}, err
	}
	return report, nil
}

func tableExists(ctx context.Context, q db.Querier, table string) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, tableExistsSQL, table).Scan(&ok); err != nil {
		return false, eris.Wrapf(err, "schema: check table %s", table)
	}
	return ok, nil
}

func objectExists(ctx context.Context, q db.Querier, s step) (bool, error) {
	var (
		exists bool
		err    error
	)
	switch s.check {
	case checkTable:
		return tableExists(ctx, q, s.object)
	case checkIndex:
		err = q.QueryRow(ctx, indexExistsSQL, s.object).Scan(&exists)
	case checkColumn:
		err = q.QueryRow(ctx, columnExistsSQL, s.table, s.object).Scan(&exists)
	}
	if err != nil {
		return false, eris.Wrapf(err, "schema: check %s", s.name)
	}
	return exists, nil
}
