package identity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-cli/internal/db"
)

// LegacyReport counts legacy pointers filled by a sync.
type LegacyReport struct {
	AccountCustomerRefs int64 `json:"account_customer_refs" yaml:"account_customer_refs"`
	CustomerAccountRefs int64 `json:"customer_account_refs" yaml:"customer_account_refs"`
}

// Total returns the number of pointers filled.
func (r LegacyReport) Total() int64 { return r.AccountCustomerRefs + r.CustomerAccountRefs }

// LegacySync fills the direct account <-> customer pointers that older
// readers still use, from records that share an identity.
type LegacySync struct {
	pool    db.Pool
	timeout time.Duration
}

// NewLegacySync creates a LegacySync. A zero timeout leaves the transaction
// unbounded.
func NewLegacySync(pool db.Pool, timeout time.Duration) *LegacySync {
	return &LegacySync{pool: pool, timeout: timeout}
}

const syncAccountCustomerRef = `
	UPDATE accounts a SET customer_ref = c.id
	FROM (
		SELECT DISTINCT ON (identity_id) identity_id, id
		FROM customers
		WHERE identity_id IS NOT NULL
		ORDER BY identity_id, created_at, id
	) c
	WHERE a.identity_id = c.identity_id AND a.customer_ref IS NULL`

const syncCustomerAccountRef = `
	UPDATE customers c SET account_ref = a.id
	FROM (
		SELECT DISTINCT ON (identity_id) identity_id, id
		FROM accounts
		WHERE identity_id IS NOT NULL
		ORDER BY identity_id, created_at, id
	) a
	WHERE c.identity_id = a.identity_id AND c.account_ref IS NULL`

// Sync sets each null legacy pointer to the oldest counterpart sharing the
// record's identity. Non-null pointers are never touched. Both directions
// commit together.
func (s *LegacySync) Sync(ctx context.Context) (LegacyReport, error) {
	var r LegacyReport
	err := db.InTx(ctx, s.pool, s.timeout, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, syncAccountCustomerRef)
		if err != nil {
			return eris.Wrap(err, "identity: sync accounts.customer_ref")
		}
		r.AccountCustomerRefs = tag.RowsAffected()

		tag, err = tx.Exec(ctx, syncCustomerAccountRef)
		if err != nil {
			return eris.Wrap(err, "identity: sync customers.account_ref")
		}
		r.CustomerAccountRefs = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return LegacyReport{}, err
	}

	zap.L().Info("legacy links synced",
		zap.String("component", "legacy_sync"),
		zap.Int64("account_customer_refs", r.AccountCustomerRefs),
		zap.Int64("customer_account_refs", r.CustomerAccountRefs),
	)
	return r, nil
}
