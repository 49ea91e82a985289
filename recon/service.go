/*
service.go - Reconciliation workflow

PURPOSE:
  Orchestrates the lifecycle of a reconciliation: validate and import
  a statement (rejecting the whole file before any write), auto-match
  its lines, apply operator match/unmatch/exclude decisions, and close
  the session once every line is resolved.

VALIDATION CONTRACT:
  ImportStatement writes nothing unless the entire statement is
  acceptable. All problems are collected into one ImportError so a bad
  file is fixed in a single round trip.
*/
package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentfold/ledger-engine/ledger"
)

// Service runs the reconciliation workflow over a Store and the
// read-side of the ledger.
type Service struct {
	Recons   Store
	Entries  ledger.EntryStore
	Accounts ledger.AccountLookup

	// Now supplies timestamps; replaceable in tests.
	Now func() time.Time
}

func NewService(recons Store, entries ledger.EntryStore, accounts ledger.AccountLookup) *Service {
	return &Service{Recons: recons, Entries: entries, Accounts: accounts, Now: time.Now}
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportStatement validates the statement, creates the reconciliation
// session, auto-matches its lines against posted ledger entries for
// the account and period, and persists the result. On validation
// failure it returns an ImportError and writes nothing.
func (s *Service) ImportStatement(ctx context.Context, in ImportInput) (*Reconciliation, []StatementLine, error) {
	account, problems, err := s.validateImport(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	if len(problems) > 0 {
		return nil, nil, &ImportError{Problems: problems}
	}

	entries, err := s.Entries.ListByAccount(ctx, in.AccountCode, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return nil, nil, err
	}

	rec := Reconciliation{
		ID:               uuid.NewString(),
		AccountCode:      in.AccountCode,
		PeriodStart:      in.PeriodStart,
		PeriodEnd:        in.PeriodEnd,
		StatementBalance: in.StatementBalance,
		Status:           StatusInProgress,
		CreatedAt:        s.Now().UTC(),
	}

	lines := make([]StatementLine, len(in.Lines))
	for i, li := range in.Lines {
		lines[i] = StatementLine{
			ID:               uuid.NewString(),
			ReconciliationID: rec.ID,
			LineDate:         li.LineDate,
			Amount:           li.Amount,
			Description:      li.Description,
			Reference:        li.Reference,
			Status:           LineUnmatched,
		}
	}
	lines = AutoMatch(lines, entries, account.NormalBalance, nil)
	s.stampMatched(lines)

	// Session and lines land together or not at all.
	if err := s.Recons.CreateReconciliation(ctx, rec, lines); err != nil {
		return nil, nil, err
	}
	return &rec, lines, nil
}

// stampMatched records the match time on freshly matched lines.
func (s *Service) stampMatched(lines []StatementLine) {
	at := s.Now().UTC()
	for i := range lines {
		if lines[i].Status == LineMatched && lines[i].MatchedAt == nil {
			t := at
			lines[i].MatchedAt = &t
		}
	}
}

func (s *Service) validateImport(ctx context.Context, in ImportInput) (*ledger.Account, []string, error) {
	var problems []string

	var account *ledger.Account
	if in.AccountCode == "" {
		problems = append(problems, "account code is required")
	} else {
		var err error
		account, err = s.Accounts.GetAccount(ctx, in.AccountCode)
		if err != nil {
			return nil, nil, err
		}
		if account == nil {
			problems = append(problems, fmt.Sprintf("unknown account %s", in.AccountCode))
		}
	}

	switch {
	case in.PeriodStart.IsZero() || in.PeriodEnd.IsZero():
		problems = append(problems, "statement period is required")
	case in.PeriodEnd.Before(in.PeriodStart):
		problems = append(problems, fmt.Sprintf("period end %s precedes start %s", in.PeriodEnd, in.PeriodStart))
	}

	if len(in.Lines) == 0 {
		problems = append(problems, "statement has no lines")
	}
	for i, li := range in.Lines {
		if li.LineDate.IsZero() {
			problems = append(problems, fmt.Sprintf("line %d: date is required", i+1))
		}
		if li.Amount.IsZero() {
			problems = append(problems, fmt.Sprintf("line %d: amount must be nonzero", i+1))
		}
		if li.Description == "" {
			problems = append(problems, fmt.Sprintf("line %d: description is required", i+1))
		}
	}

	return account, problems, nil
}

// =============================================================================
// OPERATOR DECISIONS
// =============================================================================

// MatchLine records an operator's manual pairing of a line with a
// posted ledger entry on the reconciliation's account. The entry must
// not already be matched to another line in the session.
func (s *Service) MatchLine(ctx context.Context, lineID, entryID string) (*StatementLine, error) {
	line, rec, err := s.openLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Status != LineUnmatched {
		return nil, fmt.Errorf("line %s: %w", lineID, ErrLineResolved)
	}

	entry, err := s.Entries.FindByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %s: %w", entryID, ledger.ErrEntryNotFound)
	}
	if entry.Status != ledger.StatusPosted {
		return nil, fmt.Errorf("entry %s: %w", entryID, ledger.ErrEntryVoided)
	}
	if entry.AccountCode != rec.AccountCode {
		return nil, fmt.Errorf("entry %s is on account %s, reconciliation covers %s: %w",
			entryID, entry.AccountCode, rec.AccountCode, ledger.ErrEntryNotFound)
	}

	siblings, err := s.Recons.ListLines(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	for _, sib := range siblings {
		if sib.ID != line.ID && sib.MatchedEntryID == entryID {
			return nil, fmt.Errorf("entry %s: %w", entryID, ErrEntryConsumed)
		}
	}

	at := s.Now().UTC()
	line.Status = LineMatched
	line.MatchedEntryID = entryID
	line.Confidence = ConfidenceManual
	line.MatchedAt = &at
	if err := s.Recons.UpdateLine(ctx, *line); err != nil {
		return nil, err
	}
	return line, nil
}

// UnmatchLine returns a matched or excluded line to UNMATCHED, freeing
// its entry for other lines.
func (s *Service) UnmatchLine(ctx context.Context, lineID string) (*StatementLine, error) {
	line, _, err := s.openLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	line.Status = LineUnmatched
	line.MatchedEntryID = ""
	line.Confidence = ""
	line.MatchedAt = nil
	if err := s.Recons.UpdateLine(ctx, *line); err != nil {
		return nil, err
	}
	return line, nil
}

// ExcludeLine marks an unmatched line as not expected to have a ledger
// counterpart (bank fees, interest, items handled elsewhere).
func (s *Service) ExcludeLine(ctx context.Context, lineID string) (*StatementLine, error) {
	line, _, err := s.openLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Status != LineUnmatched {
		return nil, fmt.Errorf("line %s: %w", lineID, ErrLineResolved)
	}
	line.Status = LineExcluded
	if err := s.Recons.UpdateLine(ctx, *line); err != nil {
		return nil, err
	}
	return line, nil
}

// Rematch re-runs the auto-matcher over the session's remaining
// unmatched lines, honoring entries already consumed by earlier
// matches. Useful after late entries are posted mid-reconciliation.
func (s *Service) Rematch(ctx context.Context, reconciliationID string) ([]StatementLine, error) {
	rec, err := s.openReconciliation(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	account, err := s.Accounts.GetAccount(ctx, rec.AccountCode)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", rec.AccountCode, ledger.ErrAccountNotFound)
	}

	lines, err := s.Recons.ListLines(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	entries, err := s.Entries.ListByAccount(ctx, rec.AccountCode, rec.PeriodStart, rec.PeriodEnd)
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]bool)
	for _, l := range lines {
		if l.MatchedEntryID != "" {
			consumed[l.MatchedEntryID] = true
		}
	}

	matched := AutoMatch(lines, entries, account.NormalBalance, consumed)
	s.stampMatched(matched)
	for i := range matched {
		if matched[i].Status == LineMatched && lines[i].Status != LineMatched {
			if err := s.Recons.UpdateLine(ctx, matched[i]); err != nil {
				return nil, err
			}
		}
	}
	return matched, nil
}

// =============================================================================
// SUMMARY AND COMPLETION
// =============================================================================

// Summary reports the current state of a reconciliation.
func (s *Service) Summary(ctx context.Context, reconciliationID string) (Summary, error) {
	rec, err := s.Recons.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return Summary{}, err
	}
	if rec == nil {
		return Summary{}, fmt.Errorf("reconciliation %s: %w", reconciliationID, ErrReconciliationNotFound)
	}
	lines, err := s.Recons.ListLines(ctx, rec.ID)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		ReconciliationID: rec.ID,
		Status:           rec.Status,
		TotalLines:       len(lines),
		StatementBalance: rec.StatementBalance,
		MatchedTotal:     decimal.Zero,
	}
	for _, l := range lines {
		switch l.Status {
		case LineMatched:
			sum.Matched++
			sum.MatchedTotal = sum.MatchedTotal.Add(l.Amount)
		case LineExcluded:
			sum.Excluded++
		default:
			sum.Unmatched++
		}
	}
	sum.Difference = rec.StatementBalance.Sub(sum.MatchedTotal)
	return sum, nil
}

// Complete closes the reconciliation. Every line must be matched or
// excluded first.
func (s *Service) Complete(ctx context.Context, reconciliationID string) (*Reconciliation, error) {
	rec, err := s.openReconciliation(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	lines, err := s.Recons.ListLines(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	unmatched := 0
	for _, l := range lines {
		if l.Status == LineUnmatched {
			unmatched++
		}
	}
	if unmatched > 0 {
		return nil, fmt.Errorf("%d lines unresolved: %w", unmatched, ErrIncomplete)
	}

	at := s.Now().UTC()
	rec.Status = StatusCompleted
	rec.CompletedAt = &at
	if err := s.Recons.SaveReconciliation(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

func (s *Service) openReconciliation(ctx context.Context, id string) (*Reconciliation, error) {
	rec, err := s.Recons.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciliation %s: %w", id, ErrReconciliationNotFound)
	}
	if rec.Status == StatusCompleted {
		return nil, fmt.Errorf("reconciliation %s: %w", id, ErrReconciliationClosed)
	}
	return rec, nil
}

func (s *Service) openLine(ctx context.Context, lineID string) (*StatementLine, *Reconciliation, error) {
	line, err := s.Recons.GetLine(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	if line == nil {
		return nil, nil, fmt.Errorf("line %s: %w", lineID, ErrLineNotFound)
	}
	rec, err := s.openReconciliation(ctx, line.ReconciliationID)
	if err != nil {
		return nil, nil, err
	}
	return line, rec, nil
}
