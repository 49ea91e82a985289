package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentfold/ledger-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func charge(id string, date ledger.Date, amount string) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:          id,
		CreatedAt:   date.Time,
		EntryDate:   date,
		AccountCode: "1200",
		Amount:      decimal.RequireFromString(amount),
		Side:        ledger.Debit,
		Status:      ledger.StatusPosted,
	}
}

func payment(id string, date ledger.Date, amount string) ledger.LedgerEntry {
	e := charge(id, date, amount)
	e.Side = ledger.Credit
	return e
}

func eq(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)),
		"want %s, got %s %v", want, got, msgAndArgs)
}

// =============================================================================
// RUNNING BALANCE
// =============================================================================

func TestRunningBalance_NormalSideAddsOppositeSubtracts(t *testing.T) {
	// GIVEN: Two charges and one payment on a receivable (debit-normal)
	// WHEN: Folding the balance
	// THEN: 1200 + 75 - 1000 = 275

	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 1), "1200.00"),
		charge("c2", ledger.NewDate(2025, time.June, 5), "75.00"),
		payment("p1", ledger.NewDate(2025, time.June, 10), "1000.00"),
	}
	eq(t, "275.00", ledger.RunningBalance(entries, ledger.Debit))
}

func TestRunningBalance_SkipsVoidEntries(t *testing.T) {
	// GIVEN: A charge and a voided charge
	// WHEN: Folding the balance
	// THEN: Only the posted charge counts

	voided := charge("c2", ledger.NewDate(2025, time.June, 5), "500.00")
	voided.Status = ledger.StatusVoid

	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 1), "1200.00"),
		voided,
	}
	eq(t, "1200.00", ledger.RunningBalance(entries, ledger.Debit))
}

func TestRunningBalance_Overpayment_GoesNegative(t *testing.T) {
	// GIVEN: A payment exceeding all charges
	// WHEN: Folding the balance
	// THEN: The balance is negative (tenant credit)

	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 1), "1200.00"),
		payment("p1", ledger.NewDate(2025, time.June, 10), "1300.00"),
	}
	eq(t, "-100.00", ledger.RunningBalance(entries, ledger.Debit))
}

// =============================================================================
// FIFO AGING
// =============================================================================

func TestAgedBalance_PaymentsConsumeOldestChargesFirst(t *testing.T) {
	// GIVEN: March, April, and May rent with one payment covering March
	//        and part of April
	// WHEN: Aging as of June 15
	// THEN: The March charge is gone, April carries its remainder, May
	//       is untouched

	asOf := ledger.NewDate(2025, time.June, 15)
	entries := []ledger.LedgerEntry{
		charge("march", ledger.NewDate(2025, time.March, 1), "1200.00"),
		charge("april", ledger.NewDate(2025, time.April, 1), "1200.00"),
		charge("may", ledger.NewDate(2025, time.May, 1), "1200.00"),
		payment("p1", ledger.NewDate(2025, time.April, 10), "1500.00"),
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)

	// March 1 is 106 days old but fully paid. April 1 is 75 days old
	// with 900 remaining. May 1 is 45 days old.
	eq(t, "0", aging.Bucket(3))
	eq(t, "900.00", aging.Bucket(2))
	eq(t, "1200.00", aging.Bucket(1))
	eq(t, "0", aging.Bucket(0))
	eq(t, "0", aging.CreditBalance)
	eq(t, "2100.00", aging.Total)
}

func TestAgedBalance_InclusiveBucketBoundaries(t *testing.T) {
	// GIVEN: Charges exactly 30, 31, 60, 61, 90, and 91 days old
	// WHEN: Aging with no payments
	// THEN: Each lands on the young side of its boundary

	asOf := ledger.NewDate(2025, time.June, 30)
	entries := []ledger.LedgerEntry{
		charge("d30", asOf.AddDays(-30), "1.00"),
		charge("d31", asOf.AddDays(-31), "2.00"),
		charge("d60", asOf.AddDays(-60), "4.00"),
		charge("d61", asOf.AddDays(-61), "8.00"),
		charge("d90", asOf.AddDays(-90), "16.00"),
		charge("d91", asOf.AddDays(-91), "32.00"),
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)

	eq(t, "1.00", aging.Bucket(0), "30 days is still current")
	eq(t, "6.00", aging.Bucket(1))
	eq(t, "24.00", aging.Bucket(2))
	eq(t, "32.00", aging.Bucket(3))
	eq(t, "63.00", aging.Total)
}

func TestAgedBalance_OverpaymentBecomesCreditBalance(t *testing.T) {
	// GIVEN: One charge and a larger payment
	// WHEN: Aging
	// THEN: All buckets empty, the excess is a credit, Total is negative

	asOf := ledger.NewDate(2025, time.June, 15)
	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 1), "1200.00"),
		payment("p1", ledger.NewDate(2025, time.June, 5), "1400.00"),
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)

	eq(t, "0", aging.Bucket(0))
	eq(t, "200.00", aging.CreditBalance)
	eq(t, "-200.00", aging.Total)
}

func TestAgedBalance_IgnoresFutureAndVoidEntries(t *testing.T) {
	// GIVEN: A past charge, a future-dated charge, and a voided charge
	// WHEN: Aging as of today
	// THEN: Only the past posted charge appears

	asOf := ledger.NewDate(2025, time.June, 15)
	voided := charge("v1", ledger.NewDate(2025, time.June, 1), "500.00")
	voided.Status = ledger.StatusVoid

	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 10), "100.00"),
		charge("future", ledger.NewDate(2025, time.July, 1), "1200.00"),
		voided,
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)
	eq(t, "100.00", aging.Bucket(0))
	eq(t, "100.00", aging.Total)
}

func TestAgedBalance_MatchesRunningBalance(t *testing.T) {
	// GIVEN: A mixed history of charges and payments
	// WHEN: Computing both views as of a date covering every entry
	// THEN: Aging.Total equals RunningBalance

	asOf := ledger.NewDate(2025, time.June, 30)
	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.February, 1), "1200.00"),
		charge("c2", ledger.NewDate(2025, time.March, 1), "1200.00"),
		charge("c3", ledger.NewDate(2025, time.April, 1), "1250.00"),
		payment("p1", ledger.NewDate(2025, time.March, 3), "1200.00"),
		payment("p2", ledger.NewDate(2025, time.April, 28), "600.50"),
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)
	balance := ledger.RunningBalance(entries, ledger.Debit)
	assert.True(t, aging.Total.Equal(balance),
		"aging total %s must equal running balance %s", aging.Total, balance)
}

func TestAgedBalance_DeterministicAcrossInputOrder(t *testing.T) {
	// GIVEN: The same entries in two different input orders
	// WHEN: Aging both
	// THEN: The breakdown is identical

	asOf := ledger.NewDate(2025, time.June, 15)
	a := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.March, 1), "1200.00"),
		charge("c2", ledger.NewDate(2025, time.May, 1), "1200.00"),
		payment("p1", ledger.NewDate(2025, time.May, 5), "1300.00"),
	}
	b := []ledger.LedgerEntry{a[2], a[1], a[0]}

	agA := ledger.AgedBalance(a, ledger.Debit, asOf, nil)
	agB := ledger.AgedBalance(b, ledger.Debit, asOf, nil)

	assert.True(t, agA.Bucket(3).Equal(agB.Bucket(3)))
	assert.True(t, agA.Bucket(2).Equal(agB.Bucket(2)))
	assert.True(t, agA.Bucket(1).Equal(agB.Bucket(1)))
	assert.True(t, agA.Bucket(0).Equal(agB.Bucket(0)))
	assert.True(t, agA.Total.Equal(agB.Total))
}

func TestAgedBalance_CustomBoundaries(t *testing.T) {
	// GIVEN: Charges aged 5, 10, and 20 days
	// WHEN: Aging on weekly boundaries [7, 14]
	// THEN: Three buckets follow the custom cut-offs

	asOf := ledger.NewDate(2025, time.June, 30)
	entries := []ledger.LedgerEntry{
		charge("d5", asOf.AddDays(-5), "100.00"),
		charge("d10", asOf.AddDays(-10), "200.00"),
		charge("d20", asOf.AddDays(-20), "400.00"),
	}

	aging := ledger.AgedBalance(entries, ledger.Debit, asOf, []int{7, 14})

	assert.Equal(t, []int{7, 14}, aging.Boundaries)
	assert.Len(t, aging.Buckets, 3)
	eq(t, "100.00", aging.Bucket(0))
	eq(t, "200.00", aging.Bucket(1))
	eq(t, "400.00", aging.Bucket(2))
	eq(t, "700.00", aging.Total)
}

func TestAgedBalance_NilBoundariesUseDefault(t *testing.T) {
	// GIVEN: The same entries aged with nil and with the explicit default
	// WHEN: Comparing the breakdowns
	// THEN: They are identical

	asOf := ledger.NewDate(2025, time.June, 15)
	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.March, 1), "1200.00"),
		charge("c2", ledger.NewDate(2025, time.May, 1), "1200.00"),
	}

	implicit := ledger.AgedBalance(entries, ledger.Debit, asOf, nil)
	explicit := ledger.AgedBalance(entries, ledger.Debit, asOf, []int{30, 60, 90})

	require.Len(t, implicit.Buckets, 4)
	for i := range implicit.Buckets {
		assert.True(t, implicit.Bucket(i).Equal(explicit.Bucket(i)))
	}
	assert.Equal(t, ledger.DefaultAgingBoundaries, implicit.Boundaries)
}

func TestAgingRounded_RoundsToCents(t *testing.T) {
	// GIVEN: An aging with sub-cent precision
	// WHEN: Rounding for presentation
	// THEN: Every amount lands on two decimals

	asOf := ledger.NewDate(2025, time.June, 15)
	entries := []ledger.LedgerEntry{
		charge("c1", ledger.NewDate(2025, time.June, 1), "100.005"),
	}

	rounded := ledger.AgedBalance(entries, ledger.Debit, asOf, nil).Rounded()
	assert.Equal(t, "100.01", rounded.Bucket(0).StringFixed(2))
	assert.Equal(t, "100.01", rounded.Total.StringFixed(2))
}
