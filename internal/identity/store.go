package identity

import (
	"context"
	"time"
)

// Cursor is a keyset position over (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After returns the cursor positioned on r.
func After(r Record) Cursor {
	return Cursor{CreatedAt: r.Created(), ID: r.RecordID()}
}

// Store defines the persistence operations the linker needs.
type Store interface {
	// Unlinked* return up to limit records with a null identity_id, ordered
	// by (created_at, id) and strictly after the cursor.
	UnlinkedAccounts(ctx context.Context, after Cursor, limit int) ([]Account, error)
	UnlinkedCustomers(ctx context.Context, after Cursor, limit int) ([]CustomerProfile, error)
	UnlinkedPromoters(ctx context.Context, after Cursor, limit int) ([]PromoterProfile, error)

	// FindByPhone and FindByEmail return the oldest matching identity, or
	// nil when none matches. FindByEmail compares case-insensitively.
	FindByPhone(ctx context.Context, normalized string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	CreateIdentity(ctx context.Context, id *Identity) error
	// FillIdentity writes the identity's attributes without overwriting any
	// non-null column.
	FillIdentity(ctx context.Context, id *Identity) error
	// LinkRecord sets identity_id on a record whose identity_id is still
	// null. It reports whether the row was updated.
	LinkRecord(ctx context.Context, kind Kind, recordID, identityID string) (bool, error)

	CountIdentities(ctx context.Context) (int64, error)

	// WithTx runs fn against a Store bound to one transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
