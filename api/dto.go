/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Amounts are JSON strings ("1200.00"); decimal.Decimal marshals
    quoted, so precision survives the wire
  - Dates are YYYY-MM-DD strings
  - Validation happens in handlers; DTOs are pure data carriers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/recon"
)

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID              string          `json:"id"`
	EntryDate       string          `json:"entry_date"`
	AccountCode     string          `json:"account_code"`
	Amount          decimal.Decimal `json:"amount"`
	Side            string          `json:"side"`
	Description     string          `json:"description"`
	RelatedEntityID string          `json:"related_entity_id,omitempty"`
	PostedBy        string          `json:"posted_by"`
	Status          string          `json:"status"`
	VoidOfEntryID   string          `json:"void_of_entry_id,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

// PostEntryRequest is one entry to post.
type PostEntryRequest struct {
	AccountCode     string          `json:"account_code"`
	Amount          decimal.Decimal `json:"amount"`
	Side            string          `json:"side"`
	Description     string          `json:"description"`
	EntryDate       string          `json:"entry_date"`
	RelatedEntityID string          `json:"related_entity_id"`
	PostedBy        string          `json:"posted_by"`
}

// PostPairRequest posts a balanced debit/credit pair.
type PostPairRequest struct {
	Debit  PostEntryRequest `json:"debit"`
	Credit PostEntryRequest `json:"credit"`
}

// PostBatchRequest posts a balanced multi-entry batch.
type PostBatchRequest struct {
	Entries []PostEntryRequest `json:"entries"`
}

// PairDTO is a posted debit/credit pair.
type PairDTO struct {
	Debit  EntryDTO `json:"debit"`
	Credit EntryDTO `json:"credit"`
}

// VoidRequest voids an entry.
type VoidRequest struct {
	Reason   string `json:"reason"`
	VoidedBy string `json:"voided_by"`
}

// ReversePairRequest posts a compensating pair for two posted entries.
type ReversePairRequest struct {
	DebitEntryID  string `json:"debit_entry_id"`
	CreditEntryID string `json:"credit_entry_id"`
	Reason        string `json:"reason"`
	Actor         string `json:"actor"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents a chart-of-accounts row.
type AccountDTO struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	NormalBalance string `json:"normal_balance"`
	Active        bool   `json:"active"`
}

// CreateAccountRequest registers a new account.
type CreateAccountRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// =============================================================================
// BALANCE AND AGING
// =============================================================================

// AgingDTO is an aged balance breakdown.
type AgingDTO struct {
	AsOf          string          `json:"as_of"`
	Current       decimal.Decimal `json:"current"`
	Days31to60    decimal.Decimal `json:"days_31_to_60"`
	Days61to90    decimal.Decimal `json:"days_61_to_90"`
	Over90        decimal.Decimal `json:"over_90"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	Total         decimal.Decimal `json:"total"`
}

// BalanceDTO is a subject's balance on one account.
type BalanceDTO struct {
	RelatedEntityID string          `json:"related_entity_id"`
	AccountCode     string          `json:"account_code"`
	Balance         decimal.Decimal `json:"balance"`
	Aging           AgingDTO        `json:"aging"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

// ScheduleDTO represents a recurring charge schedule.
type ScheduleDTO struct {
	ID            string          `json:"id"`
	LeaseID       string          `json:"lease_id"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Amount        decimal.Decimal `json:"amount"`
	DayOfMonth    int             `json:"day_of_month"`
	Description   string          `json:"description"`
	LastCharged   string          `json:"last_charged,omitempty"`
	Active        bool            `json:"active"`
}

// CreateScheduleRequest registers a recurring charge.
type CreateScheduleRequest struct {
	LeaseID       string          `json:"lease_id"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Amount        decimal.Decimal `json:"amount"`
	DayOfMonth    int             `json:"day_of_month"`
	Description   string          `json:"description"`
}

// ScheduleRunDTO reports one schedule's outcome from a scheduler pass.
type ScheduleRunDTO struct {
	ScheduleID string `json:"schedule_id"`
	LeaseID    string `json:"lease_id"`
	ChargeDate string `json:"charge_date"`
	Posted     bool   `json:"posted"`
	Error      string `json:"error,omitempty"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconciliationDTO represents a reconciliation session.
type ReconciliationDTO struct {
	ID               string          `json:"id"`
	AccountCode      string          `json:"account_code"`
	PeriodStart      string          `json:"period_start"`
	PeriodEnd        string          `json:"period_end"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	Status           string          `json:"status"`
	CreatedAt        string          `json:"created_at"`
	CompletedAt      string          `json:"completed_at,omitempty"`
}

// StatementLineDTO represents one statement line.
type StatementLineDTO struct {
	ID             string          `json:"id"`
	LineDate       string          `json:"line_date"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	Reference      string          `json:"reference,omitempty"`
	Status         string          `json:"status"`
	MatchedEntryID string          `json:"matched_entry_id,omitempty"`
	Confidence     string          `json:"confidence,omitempty"`
	MatchedAt      string          `json:"matched_at,omitempty"`
}

// ImportStatementRequest imports a bank statement.
type ImportStatementRequest struct {
	AccountCode      string               `json:"account_code"`
	PeriodStart      string               `json:"period_start"`
	PeriodEnd        string               `json:"period_end"`
	StatementBalance decimal.Decimal      `json:"statement_balance"`
	Lines            []StatementLineInput `json:"lines"`
}

// StatementLineInput is one raw statement row.
type StatementLineInput struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// MatchLineRequest manually pairs a line with an entry.
type MatchLineRequest struct {
	EntryID string `json:"entry_id"`
}

// ReconciliationDetailDTO is a session with its lines and summary.
type ReconciliationDetailDTO struct {
	Reconciliation ReconciliationDTO  `json:"reconciliation"`
	Lines          []StatementLineDTO `json:"lines"`
	Summary        SummaryDTO         `json:"summary"`
}

// SummaryDTO is the live state of a reconciliation.
type SummaryDTO struct {
	TotalLines       int             `json:"total_lines"`
	Matched          int             `json:"matched"`
	Unmatched        int             `json:"unmatched"`
	Excluded         int             `json:"excluded"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	MatchedTotal     decimal.Decimal `json:"matched_total"`
	Difference       decimal.Decimal `json:"difference"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e ledger.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:              e.ID,
		EntryDate:       e.EntryDate.String(),
		AccountCode:     e.AccountCode,
		Amount:          e.Amount,
		Side:            string(e.Side),
		Description:     e.Description,
		RelatedEntityID: e.RelatedEntityID,
		PostedBy:        e.PostedBy,
		Status:          string(e.Status),
		VoidOfEntryID:   e.VoidOfEntryID,
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	return dtos
}

func toPairDTO(p ledger.PostedPair) PairDTO {
	return PairDTO{Debit: toEntryDTO(p.DebitEntry), Credit: toEntryDTO(p.CreditEntry)}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		Code:          a.Code,
		Name:          a.Name,
		Type:          string(a.Type),
		NormalBalance: string(a.NormalBalance),
		Active:        a.Active,
	}
}

// toAgingDTO flattens a default-boundary aging into the named API
// buckets.
func toAgingDTO(a ledger.Aging) AgingDTO {
	return AgingDTO{
		AsOf:          a.AsOf.String(),
		Current:       a.Bucket(0),
		Days31to60:    a.Bucket(1),
		Days61to90:    a.Bucket(2),
		Over90:        a.Bucket(3),
		CreditBalance: a.CreditBalance,
		Total:         a.Total,
	}
}

func toScheduleDTO(s ledger.ChargeSchedule) ScheduleDTO {
	dto := ScheduleDTO{
		ID:            s.ID,
		LeaseID:       s.LeaseID,
		DebitAccount:  s.DebitAccount,
		CreditAccount: s.CreditAccount,
		Amount:        s.Amount,
		DayOfMonth:    s.DayOfMonth,
		Description:   s.Description,
		Active:        s.Active,
	}
	if s.LastCharged != nil {
		dto.LastCharged = s.LastCharged.String()
	}
	return dto
}

func toReconciliationDTO(r recon.Reconciliation) ReconciliationDTO {
	dto := ReconciliationDTO{
		ID:               r.ID,
		AccountCode:      r.AccountCode,
		PeriodStart:      r.PeriodStart.String(),
		PeriodEnd:        r.PeriodEnd.String(),
		StatementBalance: r.StatementBalance,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toLineDTO(l recon.StatementLine) StatementLineDTO {
	dto := StatementLineDTO{
		ID:             l.ID,
		LineDate:       l.LineDate.String(),
		Amount:         l.Amount,
		Description:    l.Description,
		Reference:      l.Reference,
		Status:         string(l.Status),
		MatchedEntryID: l.MatchedEntryID,
		Confidence:     string(l.Confidence),
	}
	if l.MatchedAt != nil {
		dto.MatchedAt = l.MatchedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toLineDTOs(lines []recon.StatementLine) []StatementLineDTO {
	dtos := make([]StatementLineDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, toLineDTO(l))
	}
	return dtos
}

func toSummaryDTO(s recon.Summary) SummaryDTO {
	return SummaryDTO{
		TotalLines:       s.TotalLines,
		Matched:          s.Matched,
		Unmatched:        s.Unmatched,
		Excluded:         s.Excluded,
		StatementBalance: s.StatementBalance,
		MatchedTotal:     s.MatchedTotal,
		Difference:       s.Difference,
	}
}
