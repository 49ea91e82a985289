/*
store.go - Reconciliation persistence

PURPOSE:
  Interface for storing reconciliation sessions and their statement
  lines, plus the in-memory implementation used by tests. Production
  deployments use the SQL stores, which persist the same shapes in
  reconciliations / reconciliation_lines tables.
*/
package recon

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists reconciliation sessions and their lines. A session
// and its lines are created in one atomic write; lines are then only
// updated in place as their status moves. Neither sessions nor lines
// are deleted.
type Store interface {
	// CreateReconciliation inserts the session and all its lines
	// atomically: either everything lands or nothing does.
	CreateReconciliation(ctx context.Context, r Reconciliation, lines []StatementLine) error
	SaveReconciliation(ctx context.Context, r Reconciliation) error
	GetReconciliation(ctx context.Context, id string) (*Reconciliation, error)
	ListReconciliations(ctx context.Context, accountCode string) ([]Reconciliation, error)

	UpdateLine(ctx context.Context, l StatementLine) error
	GetLine(ctx context.Context, id string) (*StatementLine, error)
	ListLines(ctx context.Context, reconciliationID string) ([]StatementLine, error)
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryStore implements Store in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	recons    map[string]Reconciliation
	lines     map[string]StatementLine
	lineOrder map[string][]string // reconciliation ID -> line IDs in import order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recons:    make(map[string]Reconciliation),
		lines:     make(map[string]StatementLine),
		lineOrder: make(map[string][]string),
	}
}

func (m *MemoryStore) SaveReconciliation(ctx context.Context, r Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	m.recons[r.ID] = r
	return nil
}

func (m *MemoryStore) GetReconciliation(ctx context.Context, id string) (*Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.recons[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListReconciliations(ctx context.Context, accountCode string) ([]Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reconciliation
	for _, r := range m.recons {
		if accountCode != "" && r.AccountCode != accountCode {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateReconciliation(ctx context.Context, r Reconciliation, lines []StatementLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	m.recons[r.ID] = r
	for _, l := range lines {
		if _, ok := m.lines[l.ID]; !ok {
			m.lineOrder[l.ReconciliationID] = append(m.lineOrder[l.ReconciliationID], l.ID)
		}
		m.lines[l.ID] = l
	}
	return nil
}

func (m *MemoryStore) UpdateLine(ctx context.Context, l StatementLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lines[l.ID]; !ok {
		return fmt.Errorf("line %s: %w", l.ID, ErrLineNotFound)
	}
	m.lines[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLine(ctx context.Context, id string) (*StatementLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.lines[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *MemoryStore) ListLines(ctx context.Context, reconciliationID string) ([]StatementLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.lineOrder[reconciliationID]
	out := make([]StatementLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.lines[id])
	}
	return out, nil
}
