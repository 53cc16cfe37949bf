// Package identity links per-context person records (accounts, customer
// profiles, promoter profiles) to one canonical Identity.
package identity

import (
	"strings"
	"time"
)

// Kind names a per-context record type.
type Kind string

// Per-context record kinds, in linking order.
const (
	KindAccount  Kind = "account"
	KindCustomer Kind = "customer"
	KindPromoter Kind = "promoter"
)

// Kinds lists every per-context kind in processing order.
var Kinds = []Kind{KindAccount, KindCustomer, KindPromoter}

// Table returns the table holding records of this kind.
func (k Kind) Table() string {
	switch k {
	case KindAccount:
		return "accounts"
	case KindCustomer:
		return "customers"
	case KindPromoter:
		return "promoters"
	default:
		return ""
	}
}

// Attributes are the person fields an Identity carries and a per-context
// record can contribute. Nil means unknown.
type Attributes struct {
	FirstName       *string    `json:"first_name,omitempty" db:"first_name"`
	LastName        *string    `json:"last_name,omitempty" db:"last_name"`
	Email           *string    `json:"email,omitempty" db:"email"`
	EmailVerified   bool       `json:"email_verified" db:"email_verified"`
	Phone           *string    `json:"phone,omitempty" db:"phone"`
	PhoneNormalized *string    `json:"phone_normalized,omitempty" db:"phone_normalized"`
	PhoneVerified   bool       `json:"phone_verified" db:"phone_verified"`
	Gender          *string    `json:"gender,omitempty" db:"gender"`
	BirthDate       *time.Time `json:"birth_date,omitempty" db:"birth_date"`
	BirthPlace      *string    `json:"birth_place,omitempty" db:"birth_place"`
	Street          *string    `json:"street,omitempty" db:"street"`
	City            *string    `json:"city,omitempty" db:"city"`
	Province        *string    `json:"province,omitempty" db:"province"`
	PostalCode      *string    `json:"postal_code,omitempty" db:"postal_code"`
	Country         *string    `json:"country,omitempty" db:"country"`
}

// Identity is the canonical person record.
type Identity struct {
	ID string `json:"id" db:"id"`
	Attributes

	// MergedFromIDs is a free-text audit list of absorbed identity ids.
	// Reserved for identity-level merges; never written here.
	MergedFromIDs *string `json:"merged_from_ids,omitempty" db:"merged_from_ids"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Record is a per-context row that can be linked to an Identity.
type Record interface {
	RecordID() string
	Created() time.Time
	// RawPhone is the phone as the record stores it, before normalization.
	RawPhone() string
	Attributes() Attributes
}

// Account is an authentication principal scoped to a tenant.
type Account struct {
	ID            string    `db:"id"`
	CompanyID     *string   `db:"company_id"`
	FirstName     *string   `db:"first_name"`
	LastName      *string   `db:"last_name"`
	Email         *string   `db:"email"`
	Phone         *string   `db:"phone"`
	EmailVerified bool      `db:"email_verified"`
	PhoneVerified bool      `db:"phone_verified"`
	CustomerRef   *string   `db:"customer_ref"`
	IdentityID    *string   `db:"identity_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func (a Account) RecordID() string   { return a.ID }
func (a Account) Created() time.Time { return a.CreatedAt }
func (a Account) RawPhone() string   { return deref(a.Phone) }

func (a Account) Attributes() Attributes {
	return Attributes{
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Phone:         a.Phone,
		PhoneVerified: a.PhoneVerified,
	}
}

// CustomerProfile is a ticket buyer, global across tenants. The phone is
// stored split into an international prefix and the subscriber number.
type CustomerProfile struct {
	ID            string     `db:"id"`
	FirstName     *string    `db:"first_name"`
	LastName      *string    `db:"last_name"`
	Email         *string    `db:"email"`
	PhonePrefix   *string    `db:"phone_prefix"`
	Phone         *string    `db:"phone"`
	EmailVerified bool       `db:"email_verified"`
	PhoneVerified bool       `db:"phone_verified"`
	Gender        *string    `db:"gender"`
	BirthDate     *time.Time `db:"birth_date"`
	BirthPlace    *string    `db:"birth_place"`
	Street        *string    `db:"street"`
	City          *string    `db:"city"`
	Province      *string    `db:"province"`
	PostalCode    *string    `db:"postal_code"`
	Country       *string    `db:"country"`
	AccountRef    *string    `db:"account_ref"`
	IdentityID    *string    `db:"identity_id"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (c CustomerProfile) RecordID() string   { return c.ID }
func (c CustomerProfile) Created() time.Time { return c.CreatedAt }

// RawPhone joins prefix and number unless the number already carries an
// international prefix of its own.
func (c CustomerProfile) RawPhone() string {
	num := strings.TrimSpace(deref(c.Phone))
	if num == "" {
		return ""
	}
	if strings.HasPrefix(num, "+") || strings.HasPrefix(num, "00") {
		return num
	}
	return strings.TrimSpace(deref(c.PhonePrefix)) + num
}

func (c CustomerProfile) Attributes() Attributes {
	var raw *string
	if p := c.RawPhone(); p != "" {
		raw = &p
	}
	return Attributes{
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Phone:         raw,
		PhoneVerified: c.PhoneVerified,
		Gender:        c.Gender,
		BirthDate:     c.BirthDate,
		BirthPlace:    c.BirthPlace,
		Street:        c.Street,
		City:          c.City,
		Province:      c.Province,
		PostalCode:    c.PostalCode,
		Country:       c.Country,
	}
}

// PromoterProfile is an affiliate profile scoped to a tenant.
type PromoterProfile struct {
	ID         string    `db:"id"`
	CompanyID  *string   `db:"company_id"`
	FirstName  *string   `db:"first_name"`
	LastName   *string   `db:"last_name"`
	Email      *string   `db:"email"`
	Phone      *string   `db:"phone"`
	IdentityID *string   `db:"identity_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (p PromoterProfile) RecordID() string   { return p.ID }
func (p PromoterProfile) Created() time.Time { return p.CreatedAt }
func (p PromoterProfile) RawPhone() string   { return deref(p.Phone) }

func (p PromoterProfile) Attributes() Attributes {
	return Attributes{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// blank reports whether s is nil or only whitespace.
func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
