/*
Package ledger provides the double-entry posting and consistency engine.

PURPOSE:
  This package contains the core types and algorithms for recording
  financial facts exactly once. Every rent charge, payment, deposit,
  reversal, and adjustment becomes a LedgerEntry; balance and aging are
  always derived by replaying entries - there is no stored "balance"
  column that can drift out of sync.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a chart-of-accounts row with a declared normal balance side
  - LedgerEntry: an immutable posted financial fact (debit or credit)
  - Date: a business date at calendar-day granularity
  - ChargeSchedule: a recurring charge definition with its processed marker

DESIGN PRINCIPLES:
  1. Immutability: entries are never edited, only voided or reversed
  2. Precision: uses decimal.Decimal, never binary floating point
  3. Idempotency: every entry carries a deterministic idempotency key
  4. Auditability: actor, related entity, and description travel with
     every entry

SEE ALSO:
  - engine.go: the posting engine (the only write path)
  - aging.go: running balance and FIFO aging calculation
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SIDES AND ACCOUNT CLASSIFICATION
// =============================================================================

// Side is the accounting position of an entry.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == Debit || s == Credit }

// AccountType is the broad classification of an account.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountIncome    AccountType = "INCOME"
	AccountExpense   AccountType = "EXPENSE"
)

// NormalBalance returns the side on which accounts of this type
// conventionally carry a positive balance (assets/expenses: debit;
// liabilities/equity/income: credit).
func (t AccountType) NormalBalance() Side {
	switch t {
	case AccountAsset, AccountExpense:
		return Debit
	default:
		return Credit
	}
}

// Account is a chart-of-accounts row. Code is globally unique and
// immutable once any entry references it; accounts are deactivated,
// never deleted.
type Account struct {
	Code          string
	Name          string
	Type          AccountType
	NormalBalance Side
	Active        bool
}

// =============================================================================
// LEDGER ENTRY - Immutable posted financial fact
// =============================================================================

// EntryStatus is a closed enum rather than a deleted flag: future states
// beyond POSTED/VOID (e.g. PENDING) are plausible, and the enum
// communicates the allowed transition (POSTED -> VOID, never back).
type EntryStatus string

const (
	StatusPosted EntryStatus = "POSTED"
	StatusVoid   EntryStatus = "VOID"
)

// LedgerEntry is one immutable row of the ledger.
//
// INVARIANTS:
//   - Amount > 0 always; the direction is carried by Side
//   - IdempotencyKey is unique; a second post with the same key returns
//     the existing entry instead of creating a duplicate
//   - Amount/Side/AccountCode/EntryDate never change after insert
//   - Status transitions POSTED -> VOID only; entries are never deleted
type LedgerEntry struct {
	ID             string
	CreatedAt      time.Time // system timestamp
	EntryDate      Date      // business date
	AccountCode    string
	Amount         decimal.Decimal // always positive
	Side           Side
	Description    string
	IdempotencyKey string
	RelatedEntityID string // e.g. lease id; the "subject" of the entry
	PostedBy       string  // actor tag: "system", "autopay", "reversal", user id
	Status         EntryStatus
	VoidOfEntryID  string // on a reversal entry, the original it compensates
}

// EntryInput is the caller-facing record handed to the posting engine.
// The engine derives ID, CreatedAt, IdempotencyKey, and Status.
type EntryInput struct {
	AccountCode     string
	Amount          decimal.Decimal
	Side            Side
	Description     string
	EntryDate       Date
	RelatedEntityID string
	PostedBy        string
}

// PostedPair is the result of a balanced two-entry posting.
type PostedPair struct {
	DebitEntry  LedgerEntry
	CreditEntry LedgerEntry
}

// BalanceTolerance absorbs rounding in derived batch totals. The
// authoritative arithmetic is decimal fixed-point; this tolerance is
// applied only when checking that a batch balances, never inside
// balance calculation itself.
var BalanceTolerance = decimal.RequireFromString("0.005")

// =============================================================================
// DATE - Business date at calendar-day granularity
// =============================================================================

// Date is a calendar day. Two operations on the same business day for
// the same logical fact must collapse onto one idempotency key, so the
// ledger never keys anything on a full timestamp.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }
func (d Date) IsZero() bool                  { return d.Time.IsZero() }

func (d Date) AddDays(n int) Date   { return Date{Time: d.normalize().AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.normalize().AddDate(0, n, 0)} }

func (d Date) String() string { return d.normalize().Format("2006-01-02") }

// DaysBetween returns the whole days from a to b (negative if b is earlier).
func DaysBetween(a, b Date) int {
	return int(b.normalize().Sub(a.normalize()).Hours() / 24)
}

// =============================================================================
// CHARGE SCHEDULE - Recurring charge with its processed marker
// =============================================================================

// ChargeSchedule describes a recurring charge (monthly rent, autopay).
// LastCharged is the "already processed" marker: it must advance in the
// same atomic unit as the posted pair, or a retry would double-post.
type ChargeSchedule struct {
	ID            string
	LeaseID       string
	DebitAccount  string // receivable side, e.g. 1200
	CreditAccount string // income side, e.g. 4000
	Amount        decimal.Decimal
	DayOfMonth    int
	Description   string
	LastCharged   *Date
	Active        bool
}

// DueOn reports whether the schedule should post its charge for the
// month containing asOf. A schedule is due once its day of month has
// been reached and it has not yet been charged in that month.
func (s ChargeSchedule) DueOn(asOf Date) bool {
	if !s.Active || s.Amount.Sign() <= 0 {
		return false
	}
	day := s.DayOfMonth
	if day < 1 {
		day = 1
	}
	// Clamp to the last day of short months.
	lastDay := NewDate(asOf.Time.Year(), asOf.Time.Month()+1, 1).AddDays(-1).Time.Day()
	if day > lastDay {
		day = lastDay
	}
	chargeDate := NewDate(asOf.Time.Year(), asOf.Time.Month(), day)
	if asOf.Before(chargeDate) {
		return false
	}
	if s.LastCharged != nil && !s.LastCharged.Before(chargeDate) {
		return false
	}
	return true
}

// ChargeDateFor returns the business date the schedule charges for the
// month containing asOf, clamped to the month's last day.
func (s ChargeSchedule) ChargeDateFor(asOf Date) Date {
	day := s.DayOfMonth
	if day < 1 {
		day = 1
	}
	lastDay := NewDate(asOf.Time.Year(), asOf.Time.Month()+1, 1).AddDays(-1).Time.Day()
	if day > lastDay {
		day = lastDay
	}
	return NewDate(asOf.Time.Year(), asOf.Time.Month(), day)
}
