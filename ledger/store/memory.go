/*
Package store provides the in-memory reference implementation of the
ledger store interfaces.

PURPOSE:
  Backs tests and local experiments with the exact contract the SQL
  stores honor: insert-with-collapse on idempotency key, no delete,
  MarkVoid as the only mutation, and all-or-nothing WithTx.

TRANSACTION MODEL:
  WithTx holds the write lock for the duration of the callback and
  snapshots all state first. If the callback fails, the snapshot is
  restored, so partial writes are never observable. This is a
  simplification SQL stores get from real transactions; correctness of
  the engine's atomicity tests rests on it.

SEE ALSO:
  - store/sqlite: production SQLite implementation
  - store/postgres: production PostgreSQL implementation
*/
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rentfold/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements ledger.TxStore and ledger.AccountStore in process
// memory. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data memoryData

	// Accounts live under their own lock: chart lookups happen inside
	// open WithTx callbacks, and chart changes are not part of posting
	// transactions.
	accMu    sync.RWMutex
	accounts map[string]ledger.Account

	// InsertHook, when set, runs before every entry insert and aborts
	// it by returning an error. Used by tests to inject mid-transaction
	// faults.
	InsertHook func(e ledger.LedgerEntry) error
}

func NewMemory() *Memory {
	return &Memory{
		data:     newMemoryData(),
		accounts: make(map[string]ledger.Account),
	}
}

type memoryData struct {
	entries   map[string]ledger.LedgerEntry
	keyIndex  map[string]string // idempotency key -> entry ID
	order     []string          // entry IDs in insertion order
	schedules map[string]ledger.ChargeSchedule
}

func newMemoryData() memoryData {
	return memoryData{
		entries:   make(map[string]ledger.LedgerEntry),
		keyIndex:  make(map[string]string),
		schedules: make(map[string]ledger.ChargeSchedule),
	}
}

// clone deep-copies the state for snapshot/rollback.
func (d memoryData) clone() memoryData {
	c := memoryData{
		entries:   make(map[string]ledger.LedgerEntry, len(d.entries)),
		keyIndex:  make(map[string]string, len(d.keyIndex)),
		order:     append([]string(nil), d.order...),
		schedules: make(map[string]ledger.ChargeSchedule, len(d.schedules)),
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.keyIndex {
		c.keyIndex[k] = v
	}
	for k, v := range d.schedules {
		if v.LastCharged != nil {
			lc := *v.LastCharged
			v.LastCharged = &lc
		}
		c.schedules[k] = v
	}
	return c
}

// =============================================================================
// ENTRY OPERATIONS (lock held by caller)
// =============================================================================

func (m *Memory) insert(e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	if m.InsertHook != nil {
		if err := m.InsertHook(e); err != nil {
			return ledger.LedgerEntry{}, false, err
		}
	}
	if existingID, ok := m.data.keyIndex[e.IdempotencyKey]; ok {
		return m.data.entries[existingID], false, nil
	}
	m.data.entries[e.ID] = e
	m.data.keyIndex[e.IdempotencyKey] = e.ID
	m.data.order = append(m.data.order, e.ID)
	return e, true, nil
}

func (m *Memory) findByID(id string) *ledger.LedgerEntry {
	if e, ok := m.data.entries[id]; ok {
		return &e
	}
	return nil
}

func (m *Memory) findByKey(key string) *ledger.LedgerEntry {
	if id, ok := m.data.keyIndex[key]; ok {
		e := m.data.entries[id]
		return &e
	}
	return nil
}

func (m *Memory) listBySubject(relatedEntityID string, f ledger.Filter) []ledger.LedgerEntry {
	var out []ledger.LedgerEntry
	for _, id := range m.data.order {
		e := m.data.entries[id]
		if e.RelatedEntityID != relatedEntityID {
			continue
		}
		if f.AccountCode != "" && e.AccountCode != f.AccountCode {
			continue
		}
		if !f.IncludeVoid && e.Status != ledger.StatusPosted {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (m *Memory) listByAccount(accountCode string, from, to ledger.Date) []ledger.LedgerEntry {
	var out []ledger.LedgerEntry
	for _, id := range m.data.order {
		e := m.data.entries[id]
		if e.AccountCode != accountCode || e.Status != ledger.StatusPosted {
			continue
		}
		if e.EntryDate.Before(from) || e.EntryDate.After(to) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (m *Memory) markVoid(id, description string) error {
	e, ok := m.data.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
	}
	if e.Status == ledger.StatusVoid {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryVoided)
	}
	e.Status = ledger.StatusVoid
	e.Description = description
	m.data.entries[id] = e
	return nil
}

func sortEntries(entries []ledger.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EntryDate.Equal(entries[j].EntryDate) {
			return entries[i].EntryDate.Before(entries[j].EntryDate)
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// =============================================================================
// SCHEDULE OPERATIONS (lock held by caller)
// =============================================================================

func (m *Memory) saveSchedule(s ledger.ChargeSchedule) {
	if s.LastCharged != nil {
		lc := *s.LastCharged
		s.LastCharged = &lc
	}
	m.data.schedules[s.ID] = s
}

func (m *Memory) getSchedule(id string) *ledger.ChargeSchedule {
	if s, ok := m.data.schedules[id]; ok {
		if s.LastCharged != nil {
			lc := *s.LastCharged
			s.LastCharged = &lc
		}
		return &s
	}
	return nil
}

func (m *Memory) listSchedules(activeOnly bool) []ledger.ChargeSchedule {
	var out []ledger.ChargeSchedule
	for _, s := range m.data.schedules {
		if activeOnly && !s.Active {
			continue
		}
		if s.LastCharged != nil {
			lc := *s.LastCharged
			s.LastCharged = &lc
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) setLastCharged(id string, d ledger.Date) error {
	s, ok := m.data.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, ledger.ErrScheduleNotFound)
	}
	s.LastCharged = &d
	m.data.schedules[id] = s
	return nil
}

// =============================================================================
// PUBLIC LOCKED SURFACE - ledger.TxStore
// =============================================================================

func (m *Memory) Insert(ctx context.Context, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(e)
}

func (m *Memory) FindByID(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByID(id), nil
}

func (m *Memory) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByKey(key), nil
}

func (m *Memory) ListBySubject(ctx context.Context, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBySubject(relatedEntityID, f), nil
}

func (m *Memory) ListByAccount(ctx context.Context, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByAccount(accountCode, from, to), nil
}

func (m *Memory) MarkVoid(ctx context.Context, id, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markVoid(id, description)
}

func (m *Memory) SaveSchedule(ctx context.Context, s ledger.ChargeSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveSchedule(s)
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context, id string) (*ledger.ChargeSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSchedule(id), nil
}

func (m *Memory) ListSchedules(ctx context.Context, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSchedules(activeOnly), nil
}

func (m *Memory) SetLastCharged(ctx context.Context, id string, d ledger.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLastCharged(id, d)
}

// WithTx runs fn against an unlocked view under the write lock,
// snapshotting first. Any error restores the snapshot so none of
// fn's writes survive.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&txView{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// =============================================================================
// TX VIEW - Store bound to an open transaction (no locking)
// =============================================================================

// txView is handed to WithTx callbacks. The outer lock is already held,
// so it delegates straight to the unlocked operations.
type txView struct {
	m *Memory
}

func (v *txView) Insert(ctx context.Context, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	return v.m.insert(e)
}

func (v *txView) FindByID(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	return v.m.findByID(id), nil
}

func (v *txView) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.LedgerEntry, error) {
	return v.m.findByKey(key), nil
}

func (v *txView) ListBySubject(ctx context.Context, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	return v.m.listBySubject(relatedEntityID, f), nil
}

func (v *txView) ListByAccount(ctx context.Context, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	return v.m.listByAccount(accountCode, from, to), nil
}

func (v *txView) MarkVoid(ctx context.Context, id, description string) error {
	return v.m.markVoid(id, description)
}

func (v *txView) SaveSchedule(ctx context.Context, s ledger.ChargeSchedule) error {
	v.m.saveSchedule(s)
	return nil
}

func (v *txView) GetSchedule(ctx context.Context, id string) (*ledger.ChargeSchedule, error) {
	return v.m.getSchedule(id), nil
}

func (v *txView) ListSchedules(ctx context.Context, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	return v.m.listSchedules(activeOnly), nil
}

func (v *txView) SetLastCharged(ctx context.Context, id string, d ledger.Date) error {
	return v.m.setLastCharged(id, d)
}

// =============================================================================
// ACCOUNTS - ledger.AccountStore
// =============================================================================

func (m *Memory) SaveAccount(ctx context.Context, a ledger.Account) error {
	m.accMu.Lock()
	defer m.accMu.Unlock()
	if a.NormalBalance == "" {
		a.NormalBalance = a.Type.NormalBalance()
	}
	m.accounts[a.Code] = a
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, code string) (*ledger.Account, error) {
	m.accMu.RLock()
	defer m.accMu.RUnlock()
	if a, ok := m.accounts[code]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.accMu.RLock()
	defer m.accMu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) DeactivateAccount(ctx context.Context, code string) error {
	m.accMu.Lock()
	defer m.accMu.Unlock()
	a, ok := m.accounts[code]
	if !ok {
		return fmt.Errorf("account %s: %w", code, ledger.ErrAccountNotFound)
	}
	a.Active = false
	m.accounts[code] = a
	return nil
}
