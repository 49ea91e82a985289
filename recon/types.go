/*
Package recon reconciles bank statements against posted ledger entries.

PURPOSE:
  A reconciliation imports one statement for one account and period,
  auto-matches its lines to ledger entries, lets an operator resolve
  the remainder by hand, and is completed once every line is either
  matched or excluded. Matching is strictly one-to-one: a ledger entry
  matched to one line is unavailable to every other line.

SIGN CONVENTION:
  Statement line amounts are signed from the bank's point of view of
  the account: deposits positive, withdrawals negative. Ledger entries
  are unsigned with a side; SignedAmount folds side and the account's
  normal balance into the same convention so the two are comparable.

SEE ALSO:
  - matcher.go: the two-pass auto-matcher
  - service.go: import and manual match workflow
*/
package recon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentfold/ledger-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrImportInvalid rejects a statement before anything is written.
	ErrImportInvalid = errors.New("statement import invalid")

	ErrReconciliationNotFound = errors.New("reconciliation not found")
	ErrLineNotFound           = errors.New("statement line not found")
	ErrReconciliationClosed   = errors.New("reconciliation already completed")
	ErrEntryConsumed          = errors.New("ledger entry already matched to another line")
	ErrLineResolved           = errors.New("statement line already matched or excluded")
	ErrIncomplete             = errors.New("reconciliation has unmatched lines")
)

// ImportError carries every problem found in a rejected statement, so
// the caller can fix the file in one round trip.
type ImportError struct {
	Problems []string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("statement import invalid: %s", strings.Join(e.Problems, "; "))
}

func (e *ImportError) Unwrap() error { return ErrImportInvalid }

// =============================================================================
// RECONCILIATION AND STATEMENT LINES
// =============================================================================

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

type LineStatus string

const (
	LineUnmatched LineStatus = "UNMATCHED"
	LineMatched   LineStatus = "MATCHED"
	LineExcluded  LineStatus = "EXCLUDED"
)

// Confidence records whether a match came from the auto-matcher or an
// operator decision.
type Confidence string

const (
	ConfidenceAuto   Confidence = "AUTO"
	ConfidenceManual Confidence = "MANUAL"
)

// Reconciliation is one statement import session for one account.
type Reconciliation struct {
	ID               string
	AccountCode      string
	PeriodStart      ledger.Date
	PeriodEnd        ledger.Date
	StatementBalance decimal.Decimal
	Status           Status
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// StatementLine is one bank statement row inside a reconciliation.
// Amount is signed (deposits positive, withdrawals negative).
// MatchedEntryID, Confidence, and MatchedAt are set while the line is
// MATCHED and cleared when it is unmatched.
type StatementLine struct {
	ID               string
	ReconciliationID string
	LineDate         ledger.Date
	Amount           decimal.Decimal
	Description      string
	Reference        string // bank reference, check number, etc.
	Status           LineStatus
	MatchedEntryID   string
	Confidence       Confidence
	MatchedAt        *time.Time
}

// LineInput is a raw statement row as imported.
type LineInput struct {
	LineDate    ledger.Date
	Amount      decimal.Decimal
	Description string
	Reference   string
}

// ImportInput is a full statement handed to Service.ImportStatement.
type ImportInput struct {
	AccountCode      string
	PeriodStart      ledger.Date
	PeriodEnd        ledger.Date
	StatementBalance decimal.Decimal
	Lines            []LineInput
}

// Summary is the live state of a reconciliation: line counts plus the
// difference still unexplained between statement and ledger.
type Summary struct {
	ReconciliationID string
	Status           Status
	TotalLines       int
	Matched          int
	Unmatched        int
	Excluded         int
	StatementBalance decimal.Decimal
	MatchedTotal     decimal.Decimal // sum of matched line amounts
	Difference       decimal.Decimal // statement balance minus matched total
}

// =============================================================================
// SIGN FOLDING
// =============================================================================

// SignedAmount converts a ledger entry into the statement sign
// convention for an account with the given normal balance: an entry on
// the normal side is positive, the opposite side negative. For a cash
// account (debit normal) a debit is a deposit.
func SignedAmount(e ledger.LedgerEntry, normal ledger.Side) decimal.Decimal {
	if e.Side == normal {
		return e.Amount
	}
	return e.Amount.Neg()
}
