package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"tickets"`, QuoteIdent("tickets"))
	assert.Equal(t, `"billing"."wallets"`, QuoteIdent("billing.wallets"))
	assert.Equal(t, `"weird""name"`, QuoteIdent(`weird"name`))
}

func TestValidIdent(t *testing.T) {
	assert.True(t, ValidIdent("customer_id"))
	assert.True(t, ValidIdent("billing.wallets"))
	assert.False(t, ValidIdent(""))
	assert.False(t, ValidIdent("Tickets"))
	assert.False(t, ValidIdent("a.b.c"))
	assert.False(t, ValidIdent("id; DROP TABLE x"))
}

func TestCheckIdents(t *testing.T) {
	assert.NoError(t, CheckIdents("tickets", "customer_id"))
	err := CheckIdents("tickets", "bad col")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad col")
}
