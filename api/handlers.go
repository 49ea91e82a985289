/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes posting, balances, schedules, and reconciliation over REST.
  Handles HTTP request/response and JSON serialization, delegating all
  domain decisions to the engine and services.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                      List chart of accounts
    POST   /api/accounts                      Register account
    GET    /api/accounts/{code}               Get account
    DELETE /api/accounts/{code}               Deactivate account

  Entries:
    POST   /api/entries                       Post single entry
    POST   /api/entries/pair                  Post balanced pair
    POST   /api/entries/batch                 Post balanced batch
    POST   /api/entries/reverse               Reverse a posted pair
    GET    /api/entries/{id}                  Get entry
    POST   /api/entries/{id}/void             Void entry

  Subjects (leases, tenants):
    GET    /api/subjects/{id}/entries         Entry history
    GET    /api/subjects/{id}/balance         Balance with aging

  Schedules:
    GET    /api/schedules                     List charge schedules
    POST   /api/schedules                     Create charge schedule
    POST   /api/schedules/run                 Run due schedules now

  Reconciliation:
    POST   /api/reconciliations               Import statement
    GET    /api/reconciliations               List sessions
    GET    /api/reconciliations/{id}          Session with lines
    POST   /api/reconciliations/{id}/rematch  Re-run auto-matcher
    POST   /api/reconciliations/{id}/complete Close session
    POST   /api/recon-lines/{id}/match        Manual match
    POST   /api/recon-lines/{id}/unmatch      Undo match/exclusion
    POST   /api/recon-lines/{id}/exclude      Exclude line

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unbalanced postings
  - 404: Resource not found
  - 409: State conflicts (void entry, closed session, consumed entry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentfold/ledger-engine/chart"
	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/recon"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Accounts *chart.Registry
	Recon    *recon.Service
}

// NewHandler creates a handler over the engine, chart, and
// reconciliation service.
func NewHandler(engine *ledger.Engine, accounts *chart.Registry, reconSvc *recon.Service) *Handler {
	return &Handler{Engine: engine, Accounts: accounts, Recon: reconSvc}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the chart of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dtos = append(dtos, toAccountDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount registers a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Accounts.GetAccount(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check account", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Account code already exists", nil)
		return
	}

	account := ledger.Account{
		Code:   req.Code,
		Name:   req.Name,
		Type:   ledger.AccountType(req.Type),
		Active: true,
	}
	if err := h.Accounts.SaveAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account", err)
		return
	}
	account.NormalBalance = account.Type.NormalBalance()
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	account, err := h.Accounts.GetAccount(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// DeactivateAccount flips an account inactive. History is untouched.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Accounts.DeactivateAccount(r.Context(), code); err != nil {
		h.writeDomainError(w, err, "Failed to deactivate account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "active": false})
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// PostEntry posts a single entry.
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req PostEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	input, err := toEntryInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry_date format (use YYYY-MM-DD)", err)
		return
	}

	entry, err := h.Engine.PostSingle(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err, "Failed to post entry")
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// PostPair posts a balanced debit/credit pair atomically.
func (h *Handler) PostPair(w http.ResponseWriter, r *http.Request) {
	var req PostPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	debit, err := toEntryInput(req.Debit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry_date format (use YYYY-MM-DD)", err)
		return
	}
	credit, err := toEntryInput(req.Credit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry_date format (use YYYY-MM-DD)", err)
		return
	}

	pair, err := h.Engine.PostBalancedPair(r.Context(), debit, credit)
	if err != nil {
		h.writeDomainError(w, err, "Failed to post pair")
		return
	}
	writeJSON(w, http.StatusCreated, toPairDTO(pair))
}

// PostBatch posts a balanced multi-entry batch atomically.
func (h *Handler) PostBatch(w http.ResponseWriter, r *http.Request) {
	var req PostBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inputs := make([]ledger.EntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		input, err := toEntryInput(e)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid entry_date format (use YYYY-MM-DD)", err)
			return
		}
		inputs = append(inputs, input)
	}

	entries, err := h.Engine.PostBalancedBatch(r.Context(), inputs)
	if err != nil {
		h.writeDomainError(w, err, "Failed to post batch")
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTOs(entries))
}

// GetEntry returns one entry, VOID entries included.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.Engine.Store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entry", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// VoidEntry marks an entry VOID.
func (h *Handler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req VoidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "A void reason is required", nil)
		return
	}

	entry, err := h.Engine.VoidEntry(r.Context(), id, req.Reason, req.VoidedBy)
	if err != nil {
		h.writeDomainError(w, err, "Failed to void entry")
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// ReversePair posts a compensating pair for two posted entries.
func (h *Handler) ReversePair(w http.ResponseWriter, r *http.Request) {
	var req ReversePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "A reversal reason is required", nil)
		return
	}

	pair, err := h.Engine.ReversePair(r.Context(), req.DebitEntryID, req.CreditEntryID, req.Reason, req.Actor)
	if err != nil {
		h.writeDomainError(w, err, "Failed to reverse pair")
		return
	}
	writeJSON(w, http.StatusCreated, toPairDTO(pair))
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// ListSubjectEntries returns a subject's entry history.
// Query params: account (filter), include_void (default false).
func (h *Handler) ListSubjectEntries(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "id")
	filter := ledger.Filter{
		AccountCode: r.URL.Query().Get("account"),
		IncludeVoid: r.URL.Query().Get("include_void") == "true",
	}

	entries, err := h.Engine.Store.ListBySubject(r.Context(), subject, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetSubjectBalance returns a subject's balance and aging on an account.
// Query params: account (required), as_of (default today).
func (h *Handler) GetSubjectBalance(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "id")
	accountCode := r.URL.Query().Get("account")
	if accountCode == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'account' is required", nil)
		return
	}

	account, err := h.Accounts.GetAccount(r.Context(), accountCode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	asOf := ledger.DateOf(h.Engine.Now())
	if v := r.URL.Query().Get("as_of"); v != "" {
		if asOf, err = ledger.ParseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	entries, err := h.Engine.Store.ListBySubject(r.Context(), subject, ledger.Filter{AccountCode: accountCode})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	aging := ledger.AgedBalance(entries, account.NormalBalance, asOf, nil).Rounded()
	writeJSON(w, http.StatusOK, BalanceDTO{
		RelatedEntityID: subject,
		AccountCode:     accountCode,
		Balance:         aging.Total,
		Aging:           toAgingDTO(aging),
	})
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns all charge schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Engine.Store.ListSchedules(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	dtos := make([]ScheduleDTO, 0, len(schedules))
	for _, s := range schedules {
		dtos = append(dtos, toScheduleDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSchedule registers a recurring charge.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LeaseID == "" || req.DebitAccount == "" || req.CreditAccount == "" {
		writeError(w, http.StatusBadRequest, "lease_id, debit_account, and credit_account are required", nil)
		return
	}
	if req.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "Amount must be greater than zero", nil)
		return
	}
	if req.DayOfMonth < 1 || req.DayOfMonth > 31 {
		writeError(w, http.StatusBadRequest, "day_of_month must be between 1 and 31", nil)
		return
	}
	for _, code := range []string{req.DebitAccount, req.CreditAccount} {
		account, err := h.Accounts.GetAccount(r.Context(), code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to check account", err)
			return
		}
		if account == nil || !account.Active {
			writeError(w, http.StatusBadRequest, "Unknown or inactive account "+code, nil)
			return
		}
	}

	sched := ledger.ChargeSchedule{
		ID:            uuid.NewString(),
		LeaseID:       req.LeaseID,
		DebitAccount:  req.DebitAccount,
		CreditAccount: req.CreditAccount,
		Amount:        req.Amount,
		DayOfMonth:    req.DayOfMonth,
		Description:   req.Description,
		Active:        true,
	}
	if err := h.Engine.Store.SaveSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(sched))
}

// RunSchedules posts every due charge immediately.
// Body: {"as_of": "YYYY-MM-DD"} (optional, defaults to today).
func (h *Handler) RunSchedules(w http.ResponseWriter, r *http.Request) {
	asOf := ledger.DateOf(h.Engine.Now())
	var body struct {
		AsOf string `json:"as_of"`
	}
	// An empty body runs as of today.
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.AsOf != "" {
		parsed, err := ledger.ParseDate(body.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	runs, err := h.Engine.RunDueSchedules(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run schedules", err)
		return
	}
	dtos := make([]ScheduleRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, ScheduleRunDTO{
			ScheduleID: run.ScheduleID,
			LeaseID:    run.LeaseID,
			ChargeDate: run.ChargeDate.String(),
			Posted:     run.Posted,
			Error:      run.Err,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ImportStatement imports a bank statement and auto-matches its lines.
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	var req ImportStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := recon.ImportInput{
		AccountCode:      req.AccountCode,
		StatementBalance: req.StatementBalance,
	}
	var err error
	if req.PeriodStart != "" {
		if input.PeriodStart, err = ledger.ParseDate(req.PeriodStart); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
			return
		}
	}
	if req.PeriodEnd != "" {
		if input.PeriodEnd, err = ledger.ParseDate(req.PeriodEnd); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
			return
		}
	}
	for _, line := range req.Lines {
		li := recon.LineInput{Amount: line.Amount, Description: line.Description, Reference: line.Reference}
		if line.Date != "" {
			if li.LineDate, err = ledger.ParseDate(line.Date); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid line date format (use YYYY-MM-DD)", err)
				return
			}
		}
		input.Lines = append(input.Lines, li)
	}

	rec, lines, err := h.Recon.ImportStatement(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err, "Failed to import statement")
		return
	}
	sum, err := h.Recon.Summary(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize reconciliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, ReconciliationDetailDTO{
		Reconciliation: toReconciliationDTO(*rec),
		Lines:          toLineDTOs(lines),
		Summary:        toSummaryDTO(sum),
	})
}

// ListReconciliations lists sessions, optionally filtered by account.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	recons, err := h.Recon.Recons.ListReconciliations(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reconciliations", err)
		return
	}
	dtos := make([]ReconciliationDTO, 0, len(recons))
	for _, rec := range recons {
		dtos = append(dtos, toReconciliationDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReconciliation returns a session with its lines and summary.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Recon.Recons.GetReconciliation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Reconciliation not found", nil)
		return
	}
	lines, err := h.Recon.Recons.ListLines(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lines", err)
		return
	}
	sum, err := h.Recon.Summary(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationDetailDTO{
		Reconciliation: toReconciliationDTO(*rec),
		Lines:          toLineDTOs(lines),
		Summary:        toSummaryDTO(sum),
	})
}

// RematchReconciliation re-runs the auto-matcher over unmatched lines.
func (h *Handler) RematchReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lines, err := h.Recon.Rematch(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to rematch")
		return
	}
	writeJSON(w, http.StatusOK, toLineDTOs(lines))
}

// CompleteReconciliation closes a fully resolved session.
func (h *Handler) CompleteReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Recon.Complete(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to complete reconciliation")
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

// MatchLine manually pairs a statement line with a ledger entry.
func (h *Handler) MatchLine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req MatchLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EntryID == "" {
		writeError(w, http.StatusBadRequest, "entry_id is required", nil)
		return
	}

	line, err := h.Recon.MatchLine(r.Context(), id, req.EntryID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to match line")
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// UnmatchLine returns a line to UNMATCHED.
func (h *Handler) UnmatchLine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	line, err := h.Recon.UnmatchLine(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to unmatch line")
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// ExcludeLine marks a line as having no ledger counterpart.
func (h *Handler) ExcludeLine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	line, err := h.Recon.ExcludeLine(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to exclude line")
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// =============================================================================
// HELPERS
// =============================================================================

func toEntryInput(req PostEntryRequest) (ledger.EntryInput, error) {
	input := ledger.EntryInput{
		AccountCode:     req.AccountCode,
		Amount:          req.Amount,
		Side:            ledger.Side(req.Side),
		Description:     req.Description,
		RelatedEntityID: req.RelatedEntityID,
		PostedBy:        req.PostedBy,
	}
	if req.EntryDate != "" {
		date, err := ledger.ParseDate(req.EntryDate)
		if err != nil {
			return ledger.EntryInput{}, err
		}
		input.EntryDate = date
	}
	return input, nil
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case ledger.IsNotFound(err) ||
		errors.Is(err, recon.ErrReconciliationNotFound) ||
		errors.Is(err, recon.ErrLineNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsValidation(err) ||
		errors.Is(err, recon.ErrImportInvalid) ||
		errors.Is(err, recon.ErrIncomplete):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrEntryVoided) ||
		errors.Is(err, recon.ErrReconciliationClosed) ||
		errors.Is(err, recon.ErrEntryConsumed) ||
		errors.Is(err, recon.ErrLineResolved):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
