// Package phone converts raw phone strings into a canonical dialable form
// (+<country code><national number>) used as an exact-match key.
package phone

import (
	"sort"
	"strings"
)

// DefaultCountryCode is assumed for numbers written without any prefix.
const DefaultCountryCode = "39"

// minDigits is the minimum number of digits (country code included) a
// normalized number must have.
const minDigits = 10

// country describes one calling code. min and max bound the length of the
// national significant number. trunk is the national trunk prefix that some
// countries drop in the international form (+44 0 20... is written +44 20...).
type country struct {
	code     string
	min, max int
	trunk    string
	national []nationalRule
}

// nationalRule recognizes a number written in national format, e.g. an
// Italian mobile "349 1234567".
type nationalRule struct {
	prefix   string
	min, max int
}

var countries = []country{
	{code: "1", min: 10, max: 10},
	{code: "7", min: 10, max: 10},
	{code: "30", min: 10, max: 10},
	{code: "31", min: 9, max: 9, trunk: "0"},
	{code: "32", min: 8, max: 9, trunk: "0"},
	{code: "33", min: 9, max: 9, trunk: "0"},
	{code: "34", min: 9, max: 9},
	{code: "36", min: 8, max: 9},
	{code: "39", min: 6, max: 11, national: []nationalRule{
		{prefix: "3", min: 9, max: 10},
		{prefix: "0", min: 6, max: 11},
	}},
	{code: "40", min: 9, max: 9, trunk: "0"},
	{code: "41", min: 9, max: 9, trunk: "0"},
	{code: "43", min: 4, max: 13, trunk: "0"},
	{code: "44", min: 9, max: 10, trunk: "0"},
	{code: "45", min: 8, max: 8},
	{code: "46", min: 7, max: 13, trunk: "0"},
	{code: "47", min: 8, max: 8},
	{code: "48", min: 9, max: 9},
	{code: "49", min: 6, max: 13, trunk: "0"},
	{code: "55", min: 10, max: 11, trunk: "0"},
	{code: "90", min: 10, max: 10, trunk: "0"},
	{code: "212", min: 9, max: 9, trunk: "0"},
	{code: "351", min: 9, max: 9},
	{code: "352", min: 4, max: 11},
	{code: "353", min: 7, max: 9, trunk: "0"},
	{code: "355", min: 8, max: 9, trunk: "0"},
	{code: "356", min: 8, max: 8},
	{code: "378", min: 6, max: 10},
	{code: "380", min: 9, max: 9, trunk: "0"},
	{code: "385", min: 8, max: 9, trunk: "0"},
	{code: "386", min: 8, max: 8, trunk: "0"},
}

// byCodeLength holds countries longest code first so "351" wins over "35x".
var byCodeLength = func() []country {
	out := make([]country, len(countries))
	copy(out, countries)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].code) > len(out[j].code)
	})
	return out
}()

// Normalizer normalizes phone numbers against a default country.
type Normalizer struct {
	def country
}

// New returns a Normalizer that assumes defaultCC for numbers without a
// country prefix. An unknown code is accepted with permissive length bounds.
func New(defaultCC string) *Normalizer {
	defaultCC = strings.TrimPrefix(strings.TrimSpace(defaultCC), "+")
	if defaultCC == "" {
		defaultCC = DefaultCountryCode
	}
	for _, c := range countries {
		if c.code == defaultCC {
			return &Normalizer{def: c}
		}
	}
	return &Normalizer{def: country{code: defaultCC, min: 4, max: 14}}
}

var std = New(DefaultCountryCode)

// Normalize normalizes raw with the default country code 39.
func Normalize(raw string) string {
	return std.Normalize(raw)
}

// Normalize returns raw as "+<cc><number>" or "" when raw cannot be turned
// into a number with at least 10 digits. It never panics and is idempotent:
// normalizing its own output returns the same string.
func (n *Normalizer) Normalize(raw string) string {
	s := strip(raw)
	if s == "" || s == "+" {
		return ""
	}

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}

	if !strings.HasPrefix(s, "+") {
		switch {
		case n.isNational(s):
			s = "+" + n.def.code + s
		case knownPrefix(s) != nil:
			s = "+" + s
		default:
			s = "+" + n.def.code + s
		}
	}

	s = collapse(s)

	if len(s)-1 < minDigits {
		return ""
	}
	return s
}

// strip keeps ASCII digits and a leading '+'.
func strip(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isNational reports whether digits look like a number of the default
// country written without any international prefix.
func (n *Normalizer) isNational(digits string) bool {
	for _, r := range n.def.national {
		if strings.HasPrefix(digits, r.prefix) && len(digits) >= r.min && len(digits) <= r.max {
			return true
		}
	}
	return false
}

// knownPrefix returns the country whose calling code prefixes digits and
// whose remaining length (with or without a trunk digit) is plausible.
func knownPrefix(digits string) *country {
	for i := range byCodeLength {
		c := &byCodeLength[i]
		if !strings.HasPrefix(digits, c.code) {
			continue
		}
		rest := digits[len(c.code):]
		if c.valid(len(rest)) {
			return c
		}
		if c.trunk != "" && strings.HasPrefix(rest, c.trunk) && c.valid(len(rest)-len(c.trunk)) {
			return c
		}
	}
	return nil
}

// collapse removes a repeated country code (+39 39 349...) and redundant
// trunk digits (+44 0 20...) from an internationally prefixed number.
func collapse(s string) string {
	digits := s[1:]
	var c *country
	for i := range byCodeLength {
		if strings.HasPrefix(digits, byCodeLength[i].code) {
			c = &byCodeLength[i]
			break
		}
	}
	if c == nil {
		return s
	}

	rest := digits[len(c.code):]
	if strings.HasPrefix(rest, c.code) && len(rest) > c.max && c.valid(len(rest)-len(c.code)) {
		rest = rest[len(c.code):]
	}
	// Repeat so the result is stable under re-normalization (+49 00 30...).
	for c.trunk != "" && strings.HasPrefix(rest, c.trunk) && c.valid(len(rest)-len(c.trunk)) {
		rest = rest[len(c.trunk):]
	}
	return "+" + c.code + rest
}

func (c *country) valid(n int) bool {
	return n >= c.min && n <= c.max
}
