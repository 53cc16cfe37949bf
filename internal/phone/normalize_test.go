package phone

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   "))
	assert.Equal(t, "", Normalize("+"))
	assert.Equal(t, "", Normalize("n/a"))
}

func TestNormalize_SameNumberManyForms(t *testing.T) {
	for _, raw := range []string{
		"3491234567",
		"349 123 4567",
		"0039 349 123 4567",
		"+39.349.1234567",
		"+39 349 123 4567",
		"(+39) 349-123-4567",
		"393491234567",
		"+39 39 349 1234567",
	} {
		assert.Equal(t, "+393491234567", Normalize(raw), raw)
	}
}

func TestNormalize_ItalianMobileStartingWithCountryDigits(t *testing.T) {
	// 392 is an Italian mobile prefix, not a +39 country code followed by 2.
	assert.Equal(t, "+393921234567", Normalize("3921234567"))
	assert.Equal(t, "+393921234567", Normalize("392 123 4567"))
}

func TestNormalize_ItalianLandlineKeepsLeadingZero(t *testing.T) {
	assert.Equal(t, "+390612345678", Normalize("06 1234 5678"))
	assert.Equal(t, "+390612345678", Normalize("+39 06 1234 5678"))
}

func TestNormalize_ForeignNumbers(t *testing.T) {
	assert.Equal(t, "+34612345678", Normalize("34612345678"))
	assert.Equal(t, "+34612345678", Normalize("0034 612 345 678"))
	assert.Equal(t, "+442079460958", Normalize("+44 20 7946 0958"))
	assert.Equal(t, "+15551234567", Normalize("+1 (555) 123-4567"))
	assert.Equal(t, "+15551234567", Normalize("15551234567"))
}

func TestNormalize_TrunkDigitCollapsed(t *testing.T) {
	assert.Equal(t, "+442079460958", Normalize("+44 (0) 20 7946 0958"))
	assert.Equal(t, "+442079460958", Normalize("0044 020 7946 0958"))
	assert.Equal(t, "+493012345678", Normalize("+49 030 12345678"))
}

func TestNormalize_TooShort(t *testing.T) {
	assert.Equal(t, "", Normalize("12345"))
	assert.Equal(t, "", Normalize("+39 349 12"))
	assert.Equal(t, "", Normalize("+1 555"))
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, raw := range []string{
		"3491234567",
		"0039 349 123 4567",
		"+44 (0) 20 7946 0958",
		"+49 030 12345678",
		"06 1234 5678",
		"34612345678",
		"+39 39 349 1234567",
		"+3531234567",
		"7 912 345 67 89",
		"+4900301234567",
		"4300571121834",
		"46003518905",
		"+44 00 20 7946 0958",
	} {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), raw)
	}
}

func TestNormalize_RepeatedTrunkDigitsCollapsed(t *testing.T) {
	assert.Equal(t, "+49301234567", Normalize("+4900301234567"))
	assert.Equal(t, "+43571121834", Normalize("4300571121834"))
	// Stripping both zeros leaves too few digits.
	assert.Equal(t, "", Normalize("46003518905"))
}

func TestNormalize_IdempotentRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	prefixes := []string{"", "+", "00", "0"}
	normalizers := []*Normalizer{std, New("44"), New("49"), New("999")}

	for i := 0; i < 200000; i++ {
		var b strings.Builder
		b.WriteString(prefixes[rng.Intn(len(prefixes))])
		n := 4 + rng.Intn(14)
		for j := 0; j < n; j++ {
			// Bias towards zeros so trunk and 00 prefixes show up often.
			if rng.Intn(4) == 0 {
				b.WriteByte('0')
			} else {
				b.WriteByte(byte('0' + rng.Intn(10)))
			}
		}
		raw := b.String()

		nz := normalizers[i%len(normalizers)]
		once := nz.Normalize(raw)
		if twice := nz.Normalize(once); twice != once {
			t.Fatalf("Normalize(%q) = %q, re-normalized to %q", raw, once, twice)
		}
	}
}

func TestNormalize_InnerPlusIgnored(t *testing.T) {
	assert.Equal(t, "+393491234567", Normalize("349+1234567"))
	assert.Equal(t, "+393491234567", Normalize("++39 349 1234567"))
}

func TestNew_DefaultCountry(t *testing.T) {
	gb := New("+44")
	assert.Equal(t, "+442079460958", gb.Normalize("2079460958"))
	assert.Equal(t, "+393491234567", gb.Normalize("+39 349 123 4567"))

	fallback := New("")
	assert.Equal(t, "+393491234567", fallback.Normalize("3491234567"))

	unknown := New("999")
	assert.Equal(t, "+9991234567", unknown.Normalize("1234567"))
}

func TestKnownPrefix_LongestCodeFirst(t *testing.T) {
	c := knownPrefix("351912345678")
	if assert.NotNil(t, c) {
		assert.Equal(t, "351", c.code)
	}
	assert.Nil(t, knownPrefix("3491234567"))
}
