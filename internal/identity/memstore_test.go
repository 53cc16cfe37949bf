package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

func sp(s string) *string { return &s }

// memStore is an in-memory Store used to exercise linker behavior. WithTx
// restores a snapshot when fn fails.
type memStore struct {
	mu         sync.Mutex
	clock      time.Time
	identities []Identity
	accounts   []Account
	customers  []CustomerProfile
	promoters  []PromoterProfile

	// failLink makes LinkRecord fail for the given record ids.
	failLink map[string]error
	// stealLink makes LinkRecord report the row as already linked.
	stealLink map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failLink:  map[string]error{},
		stealLink: map[string]bool{},
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func before(at time.Time, id string, c Cursor) bool {
	if at.Equal(c.CreatedAt) {
		return id <= c.ID
	}
	return at.Before(c.CreatedAt)
}

func page[T Record](all []T, linked func(T) bool, after Cursor, limit int) []T {
	var out []T
	for _, r := range all {
		if linked(r) || before(r.Created(), r.RecordID(), after) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created().Equal(out[j].Created()) {
			return out[i].RecordID() < out[j].RecordID()
		}
		return out[i].Created().Before(out[j].Created())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) UnlinkedAccounts(_ context.Context, after Cursor, limit int) ([]Account, error) {
	return page(m.accounts, func(a Account) bool { return a.IdentityID != nil }, after, limit), nil
}

func (m *memStore) UnlinkedCustomers(_ context.Context, after Cursor, limit int) ([]CustomerProfile, error) {
	return page(m.customers, func(c CustomerProfile) bool { return c.IdentityID != nil }, after, limit), nil
}

func (m *memStore) UnlinkedPromoters(_ context.Context, after Cursor, limit int) ([]PromoterProfile, error) {
	return page(m.promoters, func(p PromoterProfile) bool { return p.IdentityID != nil }, after, limit), nil
}

func (m *memStore) FindByPhone(_ context.Context, normalized string) (*Identity, error) {
	for _, i := range m.identities {
		if i.PhoneNormalized != nil && *i.PhoneNormalized == normalized {
			cp := i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	key := EmailKey(email)
	for _, i := range m.identities {
		if i.Email != nil && EmailKey(*i.Email) == key {
			cp := i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateIdentity(_ context.Context, i *Identity) error {
	i.CreatedAt = m.tick()
	i.UpdatedAt = i.CreatedAt
	m.identities = append(m.identities, *i)
	return nil
}

func coalesce(dst **string, v *string) {
	if *dst == nil && v != nil {
		*dst = v
	}
}

func (m *memStore) FillIdentity(_ context.Context, i *Identity) error {
	for k := range m.identities {
		cur := &m.identities[k]
		if cur.ID != i.ID {
			continue
		}
		coalesce(&cur.FirstName, i.FirstName)
		coalesce(&cur.LastName, i.LastName)
		coalesce(&cur.Email, i.Email)
		coalesce(&cur.Phone, i.Phone)
		coalesce(&cur.PhoneNormalized, i.PhoneNormalized)
		coalesce(&cur.Gender, i.Gender)
		coalesce(&cur.BirthPlace, i.BirthPlace)
		coalesce(&cur.Street, i.Street)
		coalesce(&cur.City, i.City)
		coalesce(&cur.Province, i.Province)
		coalesce(&cur.PostalCode, i.PostalCode)
		coalesce(&cur.Country, i.Country)
		if cur.BirthDate == nil {
			cur.BirthDate = i.BirthDate
		}
		cur.EmailVerified = cur.EmailVerified || i.EmailVerified
		cur.PhoneVerified = cur.PhoneVerified || i.PhoneVerified
		cur.UpdatedAt = m.tick()
	}
	return nil
}

func (m *memStore) LinkRecord(_ context.Context, kind Kind, recordID, identityID string) (bool, error) {
	if err := m.failLink[recordID]; err != nil {
		return false, err
	}
	if m.stealLink[recordID] {
		return false, nil
	}
	set := func(p **string) bool {
		if *p != nil {
			return false
		}
		id := identityID
		*p = &id
		return true
	}
	switch kind {
	case KindAccount:
		for k := range m.accounts {
			if m.accounts[k].ID == recordID {
				return set(&m.accounts[k].IdentityID), nil
			}
		}
	case KindCustomer:
		for k := range m.customers {
			if m.customers[k].ID == recordID {
				return set(&m.customers[k].IdentityID), nil
			}
		}
	case KindPromoter:
		for k := range m.promoters {
			if m.promoters[k].ID == recordID {
				return set(&m.promoters[k].IdentityID), nil
			}
		}
	}
	return false, nil
}

func (m *memStore) CountIdentities(context.Context) (int64, error) {
	return int64(len(m.identities)), nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identities := append([]Identity(nil), m.identities...)
	accounts := append([]Account(nil), m.accounts...)
	customers := append([]CustomerProfile(nil), m.customers...)
	promoters := append([]PromoterProfile(nil), m.promoters...)

	if err := fn(ctx, m); err != nil {
		m.identities, m.accounts, m.customers, m.promoters = identities, accounts, customers, promoters
		return err
	}
	return nil
}

func (m *memStore) identity(id string) *Identity {
	for k := range m.identities {
		if m.identities[k].ID == id {
			return &m.identities[k]
		}
	}
	return nil
}
