package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rentfold/ledger-engine/ledger"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	// GIVEN: The same logical posting fact
	// WHEN: Deriving the key twice
	// THEN: The keys are identical

	date := ledger.NewDate(2025, time.March, 1)
	amount := decimal.RequireFromString("1200.00")

	k1 := ledger.DeriveKey("1200", ledger.Debit, date, amount, "lease-1", "March rent")
	k2 := ledger.DeriveKey("1200", ledger.Debit, date, amount, "lease-1", "March rent")

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64, "hex-encoded SHA-256")
}

func TestDeriveKey_AmountCanonicalization(t *testing.T) {
	// GIVEN: The same amount written with different precision
	// WHEN: Deriving keys
	// THEN: 1200, 1200.0, and 1200.00 all collapse to one key

	date := ledger.NewDate(2025, time.March, 1)

	k1 := ledger.DeriveKey("1200", ledger.Debit, date, decimal.RequireFromString("1200"), "lease-1", "March rent")
	k2 := ledger.DeriveKey("1200", ledger.Debit, date, decimal.RequireFromString("1200.0"), "lease-1", "March rent")
	k3 := ledger.DeriveKey("1200", ledger.Debit, date, decimal.RequireFromString("1200.0000"), "lease-1", "March rent")

	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)
}

func TestDeriveKey_FieldSensitivity(t *testing.T) {
	// GIVEN: A base posting fact
	// WHEN: Varying any single field
	// THEN: The key changes

	date := ledger.NewDate(2025, time.March, 1)
	amount := decimal.RequireFromString("1200.00")
	base := ledger.DeriveKey("1200", ledger.Debit, date, amount, "lease-1", "March rent")

	variants := map[string]string{
		"account":     ledger.DeriveKey("4000", ledger.Debit, date, amount, "lease-1", "March rent"),
		"side":        ledger.DeriveKey("1200", ledger.Credit, date, amount, "lease-1", "March rent"),
		"date":        ledger.DeriveKey("1200", ledger.Debit, date.AddDays(1), amount, "lease-1", "March rent"),
		"amount":      ledger.DeriveKey("1200", ledger.Debit, date, amount.Add(decimal.New(1, -2)), "lease-1", "March rent"),
		"subject":     ledger.DeriveKey("1200", ledger.Debit, date, amount, "lease-2", "March rent"),
		"description": ledger.DeriveKey("1200", ledger.Debit, date, amount, "lease-1", "April rent"),
	}
	for field, key := range variants {
		assert.NotEqual(t, base, key, "changing %s must change the key", field)
	}
}

func TestDeriveKey_DayGranularity(t *testing.T) {
	// GIVEN: The same fact posted at different times on the same day
	// WHEN: Deriving keys from the day-truncated date
	// THEN: Wall-clock time does not leak into the key

	morning := ledger.DateOf(time.Date(2025, time.March, 1, 8, 15, 0, 0, time.UTC))
	evening := ledger.DateOf(time.Date(2025, time.March, 1, 22, 45, 59, 0, time.UTC))
	amount := decimal.RequireFromString("75.50")

	k1 := ledger.DeriveKey("4100", ledger.Credit, morning, amount, "lease-1", "Late fee")
	k2 := ledger.DeriveKey("4100", ledger.Credit, evening, amount, "lease-1", "Late fee")

	assert.Equal(t, k1, k2)
}
