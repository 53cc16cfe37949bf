package identity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/db"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool      db.Pool
	q         db.Querier
	txTimeout time.Duration
}

// NewPostgresStore creates a new PostgresStore. txTimeout bounds every
// transaction opened by WithTx; zero means no limit.
func NewPostgresStore(pool db.Pool, txTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool, txTimeout: txTimeout}
}

const identityColumns = `id, first_name, last_name, email, email_verified,
	phone, phone_normalized, phone_verified,
	gender, birth_date, birth_place, street, city, province, postal_code, country,
	merged_from_ids, created_at, updated_at`

// identityDests returns scan destinations for an Identity.
func identityDests(i *Identity) []any {
	return []any{
		&i.ID, &i.FirstName, &i.LastName, &i.Email, &i.EmailVerified,
		&i.Phone, &i.PhoneNormalized, &i.PhoneVerified,
		&i.Gender, &i.BirthDate, &i.BirthPlace, &i.Street, &i.City, &i.Province, &i.PostalCode, &i.Country,
		&i.MergedFromIDs, &i.CreatedAt, &i.UpdatedAt,
	}
}

// UnlinkedAccounts lists accounts without an identity.
func (s *PostgresStore) UnlinkedAccounts(ctx context.Context, after Cursor, limit int) ([]Account, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, company_id, first_name, last_name, email, phone,
			email_verified, phone_verified, customer_ref, identity_id, created_at
		FROM accounts
		WHERE identity_id IS NULL AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "identity: list unlinked accounts")
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.FirstName, &a.LastName, &a.Email, &a.Phone,
			&a.EmailVerified, &a.PhoneVerified, &a.CustomerRef, &a.IdentityID, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "identity: scan account")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "identity: iterate accounts")
}

// UnlinkedCustomers lists customer profiles without an identity.
func (s *PostgresStore) UnlinkedCustomers(ctx context.Context, after Cursor, limit int) ([]CustomerProfile, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, first_name, last_name, email, phone_prefix, phone,
			email_verified, phone_verified,
			gender, birth_date, birth_place, street, city, province, postal_code, country,
			account_ref, identity_id, created_at
		FROM customers
		WHERE identity_id IS NULL AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "identity: list unlinked customers")
	}
	defer rows.Close()

	var out []CustomerProfile
	for rows.Next() {
		var c CustomerProfile
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.PhonePrefix, &c.Phone,
			&c.EmailVerified, &c.PhoneVerified,
			&c.Gender, &c.BirthDate, &c.BirthPlace, &c.Street, &c.City, &c.Province, &c.PostalCode, &c.Country,
			&c.AccountRef, &c.IdentityID, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "identity: scan customer")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "identity: iterate customers")
}

// UnlinkedPromoters lists promoter profiles without an identity.
func (s *PostgresStore) UnlinkedPromoters(ctx context.Context, after Cursor, limit int) ([]PromoterProfile, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, company_id, first_name, last_name, email, phone, identity_id, created_at
		FROM promoters
		WHERE identity_id IS NULL AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "identity: list unlinked promoters")
	}
	defer rows.Close()

	var out []PromoterProfile
	for rows.Next() {
		var p PromoterProfile
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
			&p.IdentityID, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "identity: scan promoter")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "identity: iterate promoters")
}

// FindByPhone returns the oldest identity with the given normalized phone.
func (s *PostgresStore) FindByPhone(ctx context.Context, normalized string) (*Identity, error) {
	return s.findOne(ctx, `SELECT `+identityColumns+` FROM identities
		WHERE phone_normalized = $1
		ORDER BY created_at, id
		LIMIT 1`, normalized)
}

// FindByEmail returns the oldest identity with the same email ignoring case.
// Both sides go through LOWER so the comparison uses the database's case
// mapping and idx_identities_email_lower.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.findOne(ctx, `SELECT `+identityColumns+` FROM identities
		WHERE LOWER(email) = LOWER($1)
		ORDER BY created_at, id
		LIMIT 1`, email)
}

func (s *PostgresStore) findOne(ctx context.Context, sql string, arg string) (*Identity, error) {
	i := &Identity{}
	err := s.q.QueryRow(ctx, sql, arg).Scan(identityDests(i)...)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "identity: find")
	}
	return i, nil
}

// CreateIdentity inserts a new identity. The caller assigns the id.
func (s *PostgresStore) CreateIdentity(ctx context.Context, i *Identity) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO identities (
			id, first_name, last_name, email, email_verified,
			phone, phone_normalized, phone_verified,
			gender, birth_date, birth_place, street, city, province, postal_code, country
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING created_at, updated_at`,
		i.ID, i.FirstName, i.LastName, i.Email, i.EmailVerified,
		i.Phone, i.PhoneNormalized, i.PhoneVerified,
		i.Gender, i.BirthDate, i.BirthPlace, i.Street, i.City, i.Province, i.PostalCode, i.Country,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "identity: create %s", i.ID)
	}
	return nil
}

// FillIdentity writes null columns only; verified flags are OR-ed in.
func (s *PostgresStore) FillIdentity(ctx context.Context, i *Identity) error {
	_, err := s.q.Exec(ctx, `
		UPDATE identities SET
			first_name = COALESCE(first_name, $2),
			last_name = COALESCE(last_name, $3),
			email = COALESCE(email, $4),
			email_verified = email_verified OR $5,
			phone = COALESCE(phone, $6),
			phone_normalized = COALESCE(phone_normalized, $7),
			phone_verified = phone_verified OR $8,
			gender = COALESCE(gender, $9),
			birth_date = COALESCE(birth_date, $10),
			birth_place = COALESCE(birth_place, $11),
			street = COALESCE(street, $12),
			city = COALESCE(city, $13),
			province = COALESCE(province, $14),
			postal_code = COALESCE(postal_code, $15),
			country = COALESCE(country, $16),
			updated_at = now()
		WHERE id = $1`,
		i.ID, i.FirstName, i.LastName, i.Email, i.EmailVerified,
		i.Phone, i.PhoneNormalized, i.PhoneVerified,
		i.Gender, i.BirthDate, i.BirthPlace, i.Street, i.City, i.Province, i.PostalCode, i.Country,
	)
	if err != nil {
		return eris.Wrapf(err, "identity: fill %s", i.ID)
	}
	return nil
}

// LinkRecord sets identity_id on a still-unlinked record.
func (s *PostgresStore) LinkRecord(ctx context.Context, kind Kind, recordID, identityID string) (bool, error) {
	table := kind.Table()
	if table == "" {
		return false, eris.Errorf("identity: unknown kind %q", kind)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE `+table+` SET identity_id = $2 WHERE id = $1 AND identity_id IS NULL`,
		recordID, identityID)
	if err != nil {
		return false, eris.Wrapf(err, "identity: link %s %s", kind, recordID)
	}
	return tag.RowsAffected() == 1, nil
}

// CountIdentities returns the number of identities.
func (s *PostgresStore) CountIdentities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "identity: count")
	}
	return n, nil
}

// WithTx runs fn against a store bound to a single transaction. When the
// transaction outlives txTimeout it is rolled back and fn sees a canceled ctx.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return db.InTx(ctx, s.pool, s.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &PostgresStore{pool: s.pool, q: tx, txTimeout: s.txTimeout})
	})
}
