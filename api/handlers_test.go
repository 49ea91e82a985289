/*
handlers_test.go - HTTP-level tests for the API surface

Exercises the full request path (router, handlers, engine, stores)
against in-memory storage: posting, error mapping, balances, and the
reconciliation workflow.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentfold/ledger-engine/chart"
	"github.com/rentfold/ledger-engine/ledger"
	ledgerstore "github.com/rentfold/ledger-engine/ledger/store"
	"github.com/rentfold/ledger-engine/recon"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := ledgerstore.NewMemory()
	ctx := context.Background()

	registry, err := chart.NewRegistry(ctx, mem)
	require.NoError(t, err)
	require.NoError(t, registry.Seed(ctx, chart.Default()))

	engine := ledger.NewEngine(mem, registry)
	engine.Now = func() time.Time {
		return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	}
	reconSvc := recon.NewService(recon.NewMemoryStore(), mem, registry)
	reconSvc.Now = engine.Now

	srv := httptest.NewServer(NewRouter(NewHandler(engine, registry, reconSvc)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	// Some endpoints return arrays; callers decode those themselves.
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func pairBody(amount string) map[string]any {
	entry := func(account, side string) map[string]any {
		return map[string]any{
			"account_code":      account,
			"amount":            amount,
			"side":              side,
			"description":       "June rent",
			"entry_date":        "2025-06-01",
			"related_entity_id": "lease-1",
		}
	}
	return map[string]any{
		"debit":  entry("1200", "DEBIT"),
		"credit": entry("4000", "CREDIT"),
	}
}

// =============================================================================
// POSTING
// =============================================================================

func TestAPI_PostPair_Created(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/entries/pair", pairBody("1200.00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	debit := body["debit"].(map[string]any)
	assert.Equal(t, "1200", debit["account_code"])
	assert.Equal(t, "POSTED", debit["status"])
	assert.NotEmpty(t, debit["id"])
}

func TestAPI_PostPair_Unbalanced_Returns400(t *testing.T) {
	srv := newTestServer(t)

	body := pairBody("1200.00")
	body["credit"].(map[string]any)["amount"] = "1100.00"

	resp, errBody := doJSON(t, http.MethodPost, srv.URL+"/api/entries/pair", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, errBody["error"])
}

func TestAPI_PostEntry_UnknownAccount_Returns400(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/entries", map[string]any{
		"account_code": "0000",
		"amount":       "10.00",
		"side":         "DEBIT",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetEntry_Missing_Returns404(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/entries/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_VoidTwice_Returns409(t *testing.T) {
	srv := newTestServer(t)

	_, pair := doJSON(t, http.MethodPost, srv.URL+"/api/entries/pair", pairBody("1200.00"))
	id := pair["debit"].(map[string]any)["id"].(string)

	voidBody := map[string]any{"reason": "duplicate", "voided_by": "ops"}
	resp, voided := doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+id+"/void", voidBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VOID", voided["status"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+id+"/void", voidBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestAPI_SubjectBalance_WithAging(t *testing.T) {
	srv := newTestServer(t)

	_, _ = doJSON(t, http.MethodPost, srv.URL+"/api/entries/pair", pairBody("1200.00"))

	resp, body := doJSON(t, http.MethodGet,
		srv.URL+"/api/subjects/lease-1/balance?account=1200&as_of=2025-06-15", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "lease-1", body["related_entity_id"])
	assert.Equal(t, "1200", body["balance"])

	aging := body["aging"].(map[string]any)
	assert.Equal(t, "1200", aging["current"], "14-day-old charge is current")
}

func TestAPI_SubjectBalance_RequiresAccountParam(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/subjects/lease-1/balance", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestAPI_ReconciliationWorkflow(t *testing.T) {
	srv := newTestServer(t)

	// Post the cash deposit the statement will reference.
	deposit := pairBody("1200.00")
	deposit["debit"].(map[string]any)["account_code"] = "1000"
	deposit["debit"].(map[string]any)["entry_date"] = "2025-06-05"
	deposit["credit"].(map[string]any)["entry_date"] = "2025-06-05"
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/entries/pair", deposit)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Import a statement with the matching deposit and a bank fee.
	resp, detail := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations", map[string]any{
		"account_code":      "1000",
		"period_start":      "2025-06-01",
		"period_end":        "2025-06-30",
		"statement_balance": "1188.00",
		"lines": []map[string]any{
			{"date": "2025-06-06", "amount": "1200.00", "description": "ACH DEPOSIT"},
			{"date": "2025-06-28", "amount": "-12.00", "description": "SERVICE FEE"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := detail["reconciliation"].(map[string]any)
	recID := rec["id"].(string)
	lines := detail["lines"].([]any)
	require.Len(t, lines, 2)

	first := lines[0].(map[string]any)
	assert.Equal(t, "MATCHED", first["status"], "deposit auto-matches on import")
	assert.Equal(t, "AUTO", first["confidence"])
	feeLineID := lines[1].(map[string]any)["id"].(string)

	// Completing with an unresolved line fails.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations/"+recID+"/complete", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Exclude the bank fee, then complete.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/recon-lines/"+feeLineID+"/exclude", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, closed := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations/"+recID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", closed["status"])

	// A closed session rejects further decisions.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/recon-lines/"+feeLineID+"/unmatch", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ImportStatement_Invalid_Returns400(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/reconciliations", map[string]any{
		"account_code": "9999",
		"period_start": "2025-06-30",
		"period_end":   "2025-06-01",
		"lines":        []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["details"])
}

// =============================================================================
// ACCOUNTS AND SCHEDULES
// =============================================================================

func TestAPI_Accounts_CreateAndDeactivate(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]any{
		"code": "5200", "name": "Landscaping", "type": "EXPENSE",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "DEBIT", created["normal_balance"])

	// Duplicate code is a conflict.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]any{
		"code": "5200", "name": "Landscaping Again", "type": "EXPENSE",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/accounts/5200", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/5200", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, got["active"])
}

func TestAPI_Schedules_CreateAndRun(t *testing.T) {
	srv := newTestServer(t)

	resp, sched := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"lease_id":       "lease-1",
		"debit_account":  "1200",
		"credit_account": "4000",
		"amount":         "1200.00",
		"day_of_month":   1,
		"description":    "Monthly rent",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, sched["id"])

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/schedules/run",
		bytes.NewBufferString(`{"as_of": "2025-06-15"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	runResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer runResp.Body.Close()
	require.Equal(t, http.StatusOK, runResp.StatusCode)

	var runs []map[string]any
	require.NoError(t, json.NewDecoder(runResp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, true, runs[0]["posted"])
	assert.Equal(t, "2025-06-01", runs[0]["charge_date"])
}

func TestAPI_CreateSchedule_Validation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/schedules", map[string]any{
		"lease_id":       "lease-1",
		"debit_account":  "1200",
		"credit_account": "4000",
		"amount":         "1200.00",
		"day_of_month":   42,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
