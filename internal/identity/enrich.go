package identity

import (
	"strings"

	"github.com/sells-group/identity-cli/internal/phone"
)

// textField binds a nullable text attribute by name.
type textField struct {
	name string
	get  func(*Attributes) **string
	// same reports whether two non-null values carry the same information.
	same func(a, b string) bool
}

func exact(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }

func sameEmail(a, b string) bool { return EmailKey(a) == EmailKey(b) }

var textFields = []textField{
	{"first_name", func(a *Attributes) **string { return &a.FirstName }, strings.EqualFold},
	{"last_name", func(a *Attributes) **string { return &a.LastName }, strings.EqualFold},
	{"email", func(a *Attributes) **string { return &a.Email }, sameEmail},
	{"phone", func(a *Attributes) **string { return &a.Phone }, func(a, b string) bool { return phone.Normalize(a) == phone.Normalize(b) }},
	{"phone_normalized", func(a *Attributes) **string { return &a.PhoneNormalized }, exact},
	{"gender", func(a *Attributes) **string { return &a.Gender }, strings.EqualFold},
	{"birth_place", func(a *Attributes) **string { return &a.BirthPlace }, strings.EqualFold},
	{"street", func(a *Attributes) **string { return &a.Street }, strings.EqualFold},
	{"city", func(a *Attributes) **string { return &a.City }, strings.EqualFold},
	{"province", func(a *Attributes) **string { return &a.Province }, strings.EqualFold},
	{"postal_code", func(a *Attributes) **string { return &a.PostalCode }, exact},
	{"country", func(a *Attributes) **string { return &a.Country }, strings.EqualFold},
}

// Enrichment describes what Enrich changed on an identity.
type Enrichment struct {
	Filled    []string
	Conflicts []string
}

// Changed reports whether any identity field was written.
func (e Enrichment) Changed() bool { return len(e.Filled) > 0 }

// Enrich fills every null identity field from src. Existing values are never
// overwritten: a differing non-null value in src is recorded as a conflict
// and dropped. Verified flags only move from false to true, and only when the
// verified value is the one the identity holds.
func Enrich(dst *Identity, src Attributes) Enrichment {
	var out Enrichment
	for _, f := range textFields {
		d, s := f.get(&dst.Attributes), f.get(&src)
		if blank(*s) {
			continue
		}
		if blank(*d) {
			v := strings.TrimSpace(**s)
			*d = &v
			out.Filled = append(out.Filled, f.name)
			continue
		}
		if !f.same(**d, **s) {
			out.Conflicts = append(out.Conflicts, f.name)
		}
	}

	if src.BirthDate != nil {
		switch {
		case dst.BirthDate == nil:
			bd := *src.BirthDate
			dst.BirthDate = &bd
			out.Filled = append(out.Filled, "birth_date")
		case !dst.BirthDate.Equal(*src.BirthDate):
			out.Conflicts = append(out.Conflicts, "birth_date")
		}
	}

	if src.EmailVerified && !dst.EmailVerified && !blank(src.Email) && !blank(dst.Email) && sameEmail(*dst.Email, *src.Email) {
		dst.EmailVerified = true
		out.Filled = append(out.Filled, "email_verified")
	}
	if src.PhoneVerified && !dst.PhoneVerified && !blank(src.PhoneNormalized) && !blank(dst.PhoneNormalized) &&
		*dst.PhoneNormalized == *src.PhoneNormalized {
		dst.PhoneVerified = true
		out.Filled = append(out.Filled, "phone_verified")
	}
	return out
}
