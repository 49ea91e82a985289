/*
registry.go - Cached account registry

PURPOSE:
  The posting engine checks every entry against the chart. Registry
  keeps the whole chart in memory, refreshed on every write through
  it, and implements ledger.AccountLookup for the engine's hot path.
  The chart is small and changes rarely; the cache is authoritative
  between writes because all chart mutations go through the Registry.
*/
package chart

import (
	"context"
	"fmt"
	"sync"

	"github.com/rentfold/ledger-engine/ledger"
)

// Registry wraps an AccountStore with an in-process cache.
// Implements ledger.AccountLookup and ledger.AccountStore.
type Registry struct {
	store ledger.AccountStore

	mu    sync.RWMutex
	cache map[string]ledger.Account
}

// NewRegistry builds a registry warmed from the store.
func NewRegistry(ctx context.Context, store ledger.AccountStore) (*Registry, error) {
	r := &Registry{store: store, cache: make(map[string]ledger.Account)}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the cache with the store's current contents.
func (r *Registry) Reload(ctx context.Context) error {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	cache := make(map[string]ledger.Account, len(accounts))
	for _, a := range accounts {
		cache[a.Code] = a
	}
	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	return nil
}

// Seed writes any of the given accounts not already present. Existing
// accounts are left untouched, so redeploys never overwrite manual
// chart edits.
func (r *Registry) Seed(ctx context.Context, accounts []ledger.Account) error {
	for _, a := range accounts {
		existing, err := r.GetAccount(ctx, a.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := r.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ledger.AccountStore
// =============================================================================

// SaveAccount validates and persists the account, then updates the cache.
func (r *Registry) SaveAccount(ctx context.Context, a ledger.Account) error {
	if a.Code == "" || a.Name == "" {
		return fmt.Errorf("account code and name are required")
	}
	if _, ok := validTypes[string(a.Type)]; !ok {
		return fmt.Errorf("account %s: unknown type %q", a.Code, a.Type)
	}
	if a.NormalBalance == "" {
		a.NormalBalance = a.Type.NormalBalance()
	}
	if err := r.store.SaveAccount(ctx, a); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[a.Code] = a
	r.mu.Unlock()
	return nil
}

// GetAccount serves from cache; returns nil for unknown codes.
func (r *Registry) GetAccount(ctx context.Context, code string) (*ledger.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.cache[code]; ok {
		return &a, nil
	}
	return nil, nil
}

// ListAccounts returns the chart from the store (the durable truth).
func (r *Registry) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return r.store.ListAccounts(ctx)
}

// DeactivateAccount flips the account inactive. Existing entries are
// unaffected; only new postings are rejected.
func (r *Registry) DeactivateAccount(ctx context.Context, code string) error {
	if err := r.store.DeactivateAccount(ctx, code); err != nil {
		return err
	}
	r.mu.Lock()
	if a, ok := r.cache[code]; ok {
		a.Active = false
		r.cache[code] = a
	}
	r.mu.Unlock()
	return nil
}
