/*
store.go - Persistence interfaces for ledger entries and related data

PURPOSE:
  Defines the interface between the posting engine and the database.
  Implementations must preserve append-mostly semantics: entries are
  inserted and (only) their status/description may transition to VOID.
  Different implementations back this with SQLite, PostgreSQL, or
  in-memory storage.

KEY INTERFACES:
  EntryStore:    entry persistence (insert-with-collapse, queries, void)
  ScheduleStore: recurring charge schedules and their processed markers
  Store:         the full surface available inside one transaction
  TxStore:       Store plus WithTx for atomic multi-write units
  AccountStore:  chart-of-accounts persistence
  AccountLookup: the read-side the engine consumes

APPEND-MOSTLY CONTRACT:
  - Insert(): the only way an entry comes into existence
  - MarkVoid(): the only permitted mutation (status + description)
  - NO Delete method exists, and SQL implementations additionally guard
    the table with no-delete/no-update triggers so even callers that
    bypass the engine cannot destroy or rewrite history

IDEMPOTENCY COLLAPSE:
  Insert attempts the row and resolves a unique-key conflict by
  fetching and returning the pre-existing entry. The uniqueness check
  is part of the insert's own atomic unit - there is no check-then-
  insert race window, so two concurrent posts of the same fact yield
  exactly one row and both callers receive it.

IMPLEMENTATIONS:
  - store/sqlite:    production SQLite (WAL)
  - store/postgres:  production PostgreSQL (lib/pq)
  - ledger/store:    in-memory, for tests

SEE ALSO:
  - engine.go: the only caller that inserts entries
  - store/sqlite/sqlite.go: reference implementation
*/
package ledger

import "context"

// =============================================================================
// ENTRY STORE
// =============================================================================

// Filter narrows ListBySubject. The zero value returns all POSTED
// entries for the subject.
type Filter struct {
	AccountCode string // empty = all accounts
	IncludeVoid bool   // false = POSTED only
}

// EntryStore persists ledger entries.
// IMPORTANT: there is no delete. Corrections are voids and reversals.
type EntryStore interface {
	// Insert persists the entry. If an entry with the same idempotency
	// key already exists, Insert returns that entry with created=false
	// and writes nothing. The conflict check and the insert are one
	// atomic unit.
	Insert(ctx context.Context, e LedgerEntry) (stored LedgerEntry, created bool, err error)

	// FindByID returns the entry or nil if absent. VOID entries remain
	// retrievable forever.
	FindByID(ctx context.Context, id string) (*LedgerEntry, error)

	// FindByIdempotencyKey returns the entry or nil if absent.
	FindByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)

	// ListBySubject returns entries for a related entity ordered by
	// entry date then creation time.
	ListBySubject(ctx context.Context, relatedEntityID string, f Filter) ([]LedgerEntry, error)

	// ListByAccount returns POSTED entries for an account within
	// [from, to], ordered by entry date. Used by reconciliation.
	ListByAccount(ctx context.Context, accountCode string, from, to Date) ([]LedgerEntry, error)

	// MarkVoid transitions the entry to VOID and replaces its
	// description with the annotated form. Rejects entries that are
	// already VOID. Amount/side/account are untouched.
	MarkVoid(ctx context.Context, id, description string) error
}

// =============================================================================
// SCHEDULE STORE - Non-ledger state mutated alongside postings
// =============================================================================

// ScheduleStore persists recurring charge schedules. SetLastCharged is
// the canonical non-ledger mutation that must share a transaction with
// the posted pair (see Engine.WithTransaction).
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s ChargeSchedule) error
	GetSchedule(ctx context.Context, id string) (*ChargeSchedule, error)
	ListSchedules(ctx context.Context, activeOnly bool) ([]ChargeSchedule, error)
	SetLastCharged(ctx context.Context, id string, d Date) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Store is the full surface available inside a transaction.
type Store interface {
	EntryStore
	ScheduleStore
}

// TxStore wraps Store with transaction support. Use WithTx whenever an
// operation touches more than one row: a balanced pair, a batch, or a
// pair plus a schedule marker. If fn returns an error the transaction
// rolls back and none of its writes are visible.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// AccountStore persists the chart of accounts. Accounts are deactivated,
// never deleted; DeactivateAccount on a missing code returns
// ErrAccountNotFound.
type AccountStore interface {
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, code string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeactivateAccount(ctx context.Context, code string) error
}

// AccountLookup is the read-side consumed by the posting engine.
// Returns nil (not an error) for unknown codes.
type AccountLookup interface {
	GetAccount(ctx context.Context, code string) (*Account, error)
}
