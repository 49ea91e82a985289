/*
aging.go - Balance and receivable aging over posted entries

PURPOSE:
  Pure read-side arithmetic. Balances are always derived by folding
  over posted entries; no running-balance column exists anywhere, so
  there is nothing to drift out of sync. Aging allocates payments to
  charges oldest-first (FIFO) and buckets what remains by age.

CONVENTIONS:
  - VOID entries never contribute.
  - An entry on the account's normal side increases the balance; the
    opposite side decreases it.
  - Aging bucket boundaries are inclusive: with the default [30 60 90]
    a charge exactly 30 days old is still current, exactly 60 days
    lands in the second bucket.
  - All arithmetic stays in decimal at full precision; callers round
    only at the presentation edge via Aging.Rounded.

SEE ALSO:
  - engine.go: the write path producing the entries folded here
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RUNNING BALANCE
// =============================================================================

// RunningBalance folds entries into a single balance relative to the
// account's normal side: normal-side entries add, opposite-side entries
// subtract. VOID entries are skipped. A negative result means the
// account carries a balance opposite to its normal side (for a
// receivable, a tenant credit).
func RunningBalance(entries []LedgerEntry, normal Side) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status != StatusPosted {
			continue
		}
		if e.Side == normal {
			total = total.Add(e.Amount)
		} else {
			total = total.Sub(e.Amount)
		}
	}
	return total
}

// =============================================================================
// AGING
// =============================================================================

// DefaultAgingBoundaries is the standard receivable aging: 0-30, 31-60,
// 61-90, over 90.
var DefaultAgingBoundaries = []int{30, 60, 90}

// Aging is an aged breakdown of an outstanding balance as of a date.
// Buckets holds unpaid charge remainders, one per boundary plus a
// final open-ended bucket for everything older; CreditBalance holds
// payment excess beyond all charges. Total is the net balance
// (buckets minus credit), matching RunningBalance over the same
// entries.
type Aging struct {
	AsOf          Date              `json:"asOf"`
	Boundaries    []int             `json:"boundaries"` // ascending inclusive upper bounds in days
	Buckets       []decimal.Decimal `json:"buckets"`    // len(Boundaries)+1; last is past the final boundary
	CreditBalance decimal.Decimal   `json:"creditBalance"`
	Total         decimal.Decimal   `json:"total"`
}

// Bucket returns the amount aged into bucket i, zero when out of range.
func (a Aging) Bucket(i int) decimal.Decimal {
	if i < 0 || i >= len(a.Buckets) {
		return decimal.Zero
	}
	return a.Buckets[i]
}

// Rounded returns a copy with every amount rounded to cents for
// presentation. Internal callers keep full precision.
func (a Aging) Rounded() Aging {
	out := Aging{
		AsOf:          a.AsOf,
		Boundaries:    a.Boundaries,
		Buckets:       make([]decimal.Decimal, len(a.Buckets)),
		CreditBalance: a.CreditBalance.Round(2),
		Total:         a.Total.Round(2),
	}
	for i, b := range a.Buckets {
		out.Buckets[i] = b.Round(2)
	}
	return out
}

// AgedBalance ages the given entries as of asOf. Entries dated after
// asOf and VOID entries are ignored. Entries on the normal side are
// charges; opposite-side entries form a payment pool consumed against
// charges in ascending date order. Each charge's remainder (never
// below zero) lands in the bucket for its age; pool left over after
// the last charge becomes CreditBalance.
//
// Boundaries are ascending inclusive upper bounds in days; a charge
// aged past the last boundary lands in the final open-ended bucket.
// Nil or empty means DefaultAgingBoundaries.
//
// The allocation is deterministic: charges are ordered by entry date,
// then creation time, then ID.
func AgedBalance(entries []LedgerEntry, normal Side, asOf Date, boundaries []int) Aging {
	if len(boundaries) == 0 {
		boundaries = DefaultAgingBoundaries
	}
	var charges []LedgerEntry
	pool := decimal.Zero
	for _, e := range entries {
		if e.Status != StatusPosted || e.EntryDate.After(asOf) {
			continue
		}
		if e.Side == normal {
			charges = append(charges, e)
		} else {
			pool = pool.Add(e.Amount)
		}
	}

	sort.SliceStable(charges, func(i, j int) bool {
		if !charges[i].EntryDate.Equal(charges[j].EntryDate) {
			return charges[i].EntryDate.Before(charges[j].EntryDate)
		}
		if !charges[i].CreatedAt.Equal(charges[j].CreatedAt) {
			return charges[i].CreatedAt.Before(charges[j].CreatedAt)
		}
		return charges[i].ID < charges[j].ID
	})

	aging := Aging{
		AsOf:          asOf,
		Boundaries:    boundaries,
		Buckets:       make([]decimal.Decimal, len(boundaries)+1),
		CreditBalance: decimal.Zero,
	}
	for i := range aging.Buckets {
		aging.Buckets[i] = decimal.Zero
	}

	for _, charge := range charges {
		remaining := charge.Amount
		if pool.Sign() > 0 {
			applied := decimal.Min(pool, remaining)
			remaining = remaining.Sub(applied)
			pool = pool.Sub(applied)
		}
		if remaining.Sign() <= 0 {
			continue
		}
		age := DaysBetween(charge.EntryDate, asOf)
		idx := len(boundaries)
		for bi, bound := range boundaries {
			if age <= bound {
				idx = bi
				break
			}
		}
		aging.Buckets[idx] = aging.Buckets[idx].Add(remaining)
	}

	aging.CreditBalance = pool
	aging.Total = aging.CreditBalance.Neg()
	for _, b := range aging.Buckets {
		aging.Total = aging.Total.Add(b)
	}
	return aging
}
