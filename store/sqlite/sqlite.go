/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore, ledger.AccountStore, and recon.Store on
  SQLite. The same patterns apply to PostgreSQL (store/postgres); only
  SQL dialect details differ.

APPEND-MOSTLY ENFORCEMENT:
  The entries table is guarded in depth:
  - The store exposes no delete, and MarkVoid is its only update
  - A BEFORE DELETE trigger aborts every delete
  - A BEFORE UPDATE trigger aborts any change to amount, side,
    account, dates, or idempotency key
  - A BEFORE UPDATE trigger aborts any update of a VOID row
  Even SQL run outside this store cannot rewrite history.

IDEMPOTENCY COLLAPSE:
  entries.idempotency_key is UNIQUE. Insert attempts the row and, on a
  unique violation, re-fetches by key and reports created=false. The
  check rides on the constraint, so concurrent duplicate posts cannot
  race past each other.

KEY TABLES:
  accounts:              Chart of accounts (deactivate, never delete)
  entries:               Immutable ledger entries
  charge_schedules:      Recurring charges and their processed markers
  reconciliations:       Statement import sessions
  reconciliation_lines:  Statement lines with match state

WAL MODE:
  Opened with WAL for concurrent readers and crash recovery. Use
  ":memory:" for tests.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/recon"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every operation can
// run standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Chart of accounts
	CREATE TABLE IF NOT EXISTS accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		normal_balance TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Ledger entries (append-mostly; see triggers below)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		account_code TEXT NOT NULL REFERENCES accounts(code),
		amount TEXT NOT NULL,
		side TEXT NOT NULL CHECK (side IN ('DEBIT', 'CREDIT')),
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		related_entity_id TEXT NOT NULL DEFAULT '',
		posted_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'POSTED' CHECK (status IN ('POSTED', 'VOID')),
		void_of_entry_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entries_subject
		ON entries(related_entity_id, entry_date);
	CREATE INDEX IF NOT EXISTS idx_entries_account_date
		ON entries(account_code, entry_date);

	-- Defense in depth: entries can never be deleted
	CREATE TRIGGER IF NOT EXISTS entries_no_delete
	BEFORE DELETE ON entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries cannot be deleted');
	END;

	-- Defense in depth: financial fields can never change
	CREATE TRIGGER IF NOT EXISTS entries_immutable
	BEFORE UPDATE ON entries
	WHEN NEW.id != OLD.id
		OR NEW.created_at != OLD.created_at
		OR NEW.entry_date != OLD.entry_date
		OR NEW.account_code != OLD.account_code
		OR NEW.amount != OLD.amount
		OR NEW.side != OLD.side
		OR NEW.idempotency_key != OLD.idempotency_key
		OR NEW.related_entity_id != OLD.related_entity_id
		OR NEW.posted_by != OLD.posted_by
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable');
	END;

	-- Defense in depth: VOID is terminal
	CREATE TRIGGER IF NOT EXISTS entries_void_terminal
	BEFORE UPDATE ON entries
	WHEN OLD.status = 'VOID'
	BEGIN
		SELECT RAISE(ABORT, 'void entries cannot change');
	END;

	-- Recurring charge schedules
	CREATE TABLE IF NOT EXISTS charge_schedules (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL,
		debit_account TEXT NOT NULL,
		credit_account TEXT NOT NULL,
		amount TEXT NOT NULL,
		day_of_month INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		last_charged TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_active
		ON charge_schedules(active);

	-- Reconciliation sessions
	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		account_code TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		statement_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliations_account
		ON reconciliations(account_code, created_at);

	-- Statement lines
	CREATE TABLE IF NOT EXISTS reconciliation_lines (
		id TEXT PRIMARY KEY,
		reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
		position INTEGER NOT NULL,
		line_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		matched_entry_id TEXT,
		confidence TEXT,
		matched_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lines_reconciliation
		ON reconciliation_lines(reconciliation_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore interface)
// =============================================================================

const entryColumns = `id, created_at, entry_date, account_code, amount, side,
	description, idempotency_key, related_entity_id, posted_by, status, void_of_entry_id`

// Insert persists the entry, collapsing on idempotency-key conflict.
func (s *Store) Insert(ctx context.Context, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTx(ctx, s.db, e)
}

func (s *Store) insertTx(ctx context.Context, db dbtx, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	query := `
		INSERT INTO entries
		(id, created_at, entry_date, account_code, amount, side,
		 description, idempotency_key, related_entity_id, posted_by, status, void_of_entry_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.EntryDate.String(),
		e.AccountCode,
		e.Amount.String(),
		string(e.Side),
		e.Description,
		e.IdempotencyKey,
		e.RelatedEntityID,
		e.PostedBy,
		string(e.Status),
		nullString(e.VoidOfEntryID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, ferr := s.findByKeyTx(ctx, db, e.IdempotencyKey)
			if ferr != nil {
				return ledger.LedgerEntry{}, false, ferr
			}
			if existing != nil {
				return *existing, false, nil
			}
		}
		return ledger.LedgerEntry{}, false, fmt.Errorf("failed to insert entry: %w", err)
	}
	return e, true, nil
}

// FindByID returns the entry or nil if absent.
func (s *Store) FindByID(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByIDTx(ctx, s.db, id)
}

func (s *Store) findByIDTx(ctx context.Context, db dbtx, id string) (*ledger.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntryRow(row)
}

// FindByIdempotencyKey returns the entry or nil if absent.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByKeyTx(ctx, s.db, key)
}

func (s *Store) findByKeyTx(ctx context.Context, db dbtx, key string) (*ledger.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE idempotency_key = ?`, key)
	return scanEntryRow(row)
}

// ListBySubject returns entries for a related entity ordered by entry
// date then creation time.
func (s *Store) ListBySubject(ctx context.Context, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBySubjectTx(ctx, s.db, relatedEntityID, f)
}

func (s *Store) listBySubjectTx(ctx context.Context, db dbtx, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE related_entity_id = ?`
	args := []any{relatedEntityID}
	if f.AccountCode != "" {
		query += ` AND account_code = ?`
		args = append(args, f.AccountCode)
	}
	if !f.IncludeVoid {
		query += ` AND status = 'POSTED'`
	}
	query += ` ORDER BY entry_date ASC, created_at ASC`
	return s.queryEntries(ctx, db, query, args...)
}

// ListByAccount returns POSTED entries for an account within [from, to].
func (s *Store) ListByAccount(ctx context.Context, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByAccountTx(ctx, s.db, accountCode, from, to)
}

func (s *Store) listByAccountTx(ctx context.Context, db dbtx, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE account_code = ? AND status = 'POSTED'
		  AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date ASC, created_at ASC
	`
	return s.queryEntries(ctx, db, query, accountCode, from.String(), to.String())
}

// MarkVoid transitions a POSTED entry to VOID.
func (s *Store) MarkVoid(ctx context.Context, id, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markVoidTx(ctx, s.db, id, description)
}

func (s *Store) markVoidTx(ctx context.Context, db dbtx, id, description string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE entries SET status = 'VOID', description = ? WHERE id = ? AND status = 'POSTED'`,
		description, id)
	if err != nil {
		return fmt.Errorf("failed to void entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := s.findByIDTx(ctx, db, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryNotFound)
		}
		return fmt.Errorf("entry %s: %w", id, ledger.ErrEntryVoided)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (ledger.LedgerEntry, error) {
	var (
		e             ledger.LedgerEntry
		createdAt     string
		entryDate     string
		amount        string
		side          string
		status        string
		voidOfEntryID sql.NullString
	)
	err := r.Scan(
		&e.ID, &createdAt, &entryDate, &e.AccountCode, &amount, &side,
		&e.Description, &e.IdempotencyKey, &e.RelatedEntityID, &e.PostedBy,
		&status, &voidOfEntryID,
	)
	if err != nil {
		return e, err
	}

	e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to parse created_at: %w", err)
	}
	e.EntryDate, err = ledger.ParseDate(entryDate)
	if err != nil {
		return e, fmt.Errorf("failed to parse entry_date: %w", err)
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("failed to parse amount: %w", err)
	}
	e.Side = ledger.Side(side)
	e.Status = ledger.EntryStatus(status)
	e.VoidOfEntryID = voidOfEntryID.String
	return e, nil
}

func scanEntryRow(row *sql.Row) (*ledger.LedgerEntry, error) {
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	return &e, nil
}

// =============================================================================
// SCHEDULE STORE (ledger.ScheduleStore interface)
// =============================================================================

const scheduleColumns = `id, lease_id, debit_account, credit_account, amount,
	day_of_month, description, last_charged, active`

func (s *Store) SaveSchedule(ctx context.Context, sched ledger.ChargeSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveScheduleTx(ctx, s.db, sched)
}

func (s *Store) saveScheduleTx(ctx context.Context, db dbtx, sched ledger.ChargeSchedule) error {
	var lastCharged sql.NullString
	if sched.LastCharged != nil {
		lastCharged = sql.NullString{String: sched.LastCharged.String(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO charge_schedules
		(id, lease_id, debit_account, credit_account, amount, day_of_month, description, last_charged, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lease_id = excluded.lease_id,
			debit_account = excluded.debit_account,
			credit_account = excluded.credit_account,
			amount = excluded.amount,
			day_of_month = excluded.day_of_month,
			description = excluded.description,
			last_charged = excluded.last_charged,
			active = excluded.active
	`,
		sched.ID, sched.LeaseID, sched.DebitAccount, sched.CreditAccount,
		sched.Amount.String(), sched.DayOfMonth, sched.Description,
		lastCharged, boolToInt(sched.Active),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*ledger.ChargeSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getScheduleTx(ctx, s.db, id)
}

func (s *Store) getScheduleTx(ctx context.Context, db dbtx, id string) (*ledger.ChargeSchedule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM charge_schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return &sched, nil
}

func (s *Store) ListSchedules(ctx context.Context, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSchedulesTx(ctx, s.db, activeOnly)
}

func (s *Store) listSchedulesTx(ctx context.Context, db dbtx, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM charge_schedules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []ledger.ChargeSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *Store) SetLastCharged(ctx context.Context, id string, d ledger.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLastChargedTx(ctx, s.db, id, d)
}

func (s *Store) setLastChargedTx(ctx context.Context, db dbtx, id string, d ledger.Date) error {
	res, err := db.ExecContext(ctx,
		`UPDATE charge_schedules SET last_charged = ? WHERE id = ?`,
		d.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update schedule marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ledger.ErrScheduleNotFound)
	}
	return nil
}

func scanSchedule(r rowScanner) (ledger.ChargeSchedule, error) {
	var (
		sched       ledger.ChargeSchedule
		amount      string
		lastCharged sql.NullString
		active      int
	)
	err := r.Scan(
		&sched.ID, &sched.LeaseID, &sched.DebitAccount, &sched.CreditAccount,
		&amount, &sched.DayOfMonth, &sched.Description, &lastCharged, &active,
	)
	if err != nil {
		return sched, err
	}
	sched.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return sched, fmt.Errorf("failed to parse schedule amount: %w", err)
	}
	if lastCharged.Valid {
		d, err := ledger.ParseDate(lastCharged.String)
		if err != nil {
			return sched, fmt.Errorf("failed to parse last_charged: %w", err)
		}
		sched.LastCharged = &d
	}
	sched.Active = active != 0
	return sched, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore binds every Store operation to an open *sql.Tx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Insert(ctx context.Context, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	return ts.parent.insertTx(ctx, ts.tx, e)
}

func (ts *txStore) FindByID(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	return ts.parent.findByIDTx(ctx, ts.tx, id)
}

func (ts *txStore) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.LedgerEntry, error) {
	return ts.parent.findByKeyTx(ctx, ts.tx, key)
}

func (ts *txStore) ListBySubject(ctx context.Context, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	return ts.parent.listBySubjectTx(ctx, ts.tx, relatedEntityID, f)
}

func (ts *txStore) ListByAccount(ctx context.Context, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	return ts.parent.listByAccountTx(ctx, ts.tx, accountCode, from, to)
}

func (ts *txStore) MarkVoid(ctx context.Context, id, description string) error {
	return ts.parent.markVoidTx(ctx, ts.tx, id, description)
}

func (ts *txStore) SaveSchedule(ctx context.Context, sched ledger.ChargeSchedule) error {
	return ts.parent.saveScheduleTx(ctx, ts.tx, sched)
}

func (ts *txStore) GetSchedule(ctx context.Context, id string) (*ledger.ChargeSchedule, error) {
	return ts.parent.getScheduleTx(ctx, ts.tx, id)
}

func (ts *txStore) ListSchedules(ctx context.Context, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	return ts.parent.listSchedulesTx(ctx, ts.tx, activeOnly)
}

func (ts *txStore) SetLastCharged(ctx context.Context, id string, d ledger.Date) error {
	return ts.parent.setLastChargedTx(ctx, ts.tx, id, d)
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.NormalBalance == "" {
		a.NormalBalance = a.Type.NormalBalance()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (code, name, type, normal_balance, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			normal_balance = excluded.normal_balance,
			active = excluded.active
	`, a.Code, a.Name, string(a.Type), string(a.NormalBalance), boolToInt(a.Active))
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a      ledger.Account
		typ    string
		normal string
		active int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, type, normal_balance, active FROM accounts WHERE code = ?`,
		code).Scan(&a.Code, &a.Name, &typ, &normal, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	a.Type = ledger.AccountType(typ)
	a.NormalBalance = ledger.Side(normal)
	a.Active = active != 0
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, type, normal_balance, active FROM accounts ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			a      ledger.Account
			typ    string
			normal string
			active int
		)
		if err := rows.Scan(&a.Code, &a.Name, &typ, &normal, &active); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = ledger.AccountType(typ)
		a.NormalBalance = ledger.Side(normal)
		a.Active = active != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) DeactivateAccount(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET active = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", code, ledger.ErrAccountNotFound)
	}
	return nil
}

// =============================================================================
// RECONCILIATION STORE (recon.Store interface)
// =============================================================================

const reconColumns = `id, account_code, period_start, period_end, statement_balance, status, created_at, completed_at`

func (s *Store) SaveReconciliation(ctx context.Context, r recon.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveReconciliationTx(ctx, s.db, r)
}

func (s *Store) saveReconciliationTx(ctx context.Context, db dbtx, r recon.Reconciliation) error {
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: r.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reconciliations
		(id, account_code, period_start, period_end, statement_balance, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at
	`,
		r.ID, r.AccountCode, r.PeriodStart.String(), r.PeriodEnd.String(),
		r.StatementBalance.String(), string(r.Status),
		r.CreatedAt.UTC().Format(time.RFC3339), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	return nil
}

func (s *Store) GetReconciliation(ctx context.Context, id string) (*recon.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+reconColumns+` FROM reconciliations WHERE id = ?`, id)
	r, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
	}
	return &r, nil
}

func (s *Store) ListReconciliations(ctx context.Context, accountCode string) ([]recon.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + reconColumns + ` FROM reconciliations`
	var args []any
	if accountCode != "" {
		query += ` WHERE account_code = ?`
		args = append(args, accountCode)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var recons []recon.Reconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		recons = append(recons, r)
	}
	return recons, rows.Err()
}

func scanReconciliation(r rowScanner) (recon.Reconciliation, error) {
	var (
		rec         recon.Reconciliation
		periodStart string
		periodEnd   string
		balance     string
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	err := r.Scan(&rec.ID, &rec.AccountCode, &periodStart, &periodEnd,
		&balance, &status, &createdAt, &completedAt)
	if err != nil {
		return rec, err
	}

	if rec.PeriodStart, err = ledger.ParseDate(periodStart); err != nil {
		return rec, fmt.Errorf("failed to parse period_start: %w", err)
	}
	if rec.PeriodEnd, err = ledger.ParseDate(periodEnd); err != nil {
		return rec, fmt.Errorf("failed to parse period_end: %w", err)
	}
	if rec.StatementBalance, err = decimal.NewFromString(balance); err != nil {
		return rec, fmt.Errorf("failed to parse statement_balance: %w", err)
	}
	rec.Status = recon.Status(status)
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return rec, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if completedAt.Valid {
		at, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return rec, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		rec.CompletedAt = &at
	}
	return rec, nil
}

const lineColumns = `id, reconciliation_id, line_date, amount, description, reference, status, matched_entry_id, confidence, matched_at`

// CreateReconciliation inserts the session and its lines in one
// transaction so a half-written import can never be observed.
func (s *Store) CreateReconciliation(ctx context.Context, r recon.Reconciliation, lines []recon.StatementLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.saveReconciliationTx(ctx, sqlTx, r); err != nil {
		return err
	}
	for i, l := range lines {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO reconciliation_lines
			(id, reconciliation_id, position, line_date, amount, description, reference, status, matched_entry_id, confidence, matched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			l.ID, l.ReconciliationID, i, l.LineDate.String(), l.Amount.String(),
			l.Description, l.Reference, string(l.Status),
			nullString(l.MatchedEntryID), nullString(string(l.Confidence)),
			nullTime(l.MatchedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save line: %w", err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) UpdateLine(ctx context.Context, l recon.StatementLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_lines
		SET status = ?, matched_entry_id = ?, confidence = ?, matched_at = ?
		WHERE id = ?
	`, string(l.Status), nullString(l.MatchedEntryID), nullString(string(l.Confidence)),
		nullTime(l.MatchedAt), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("line %s: %w", l.ID, recon.ErrLineNotFound)
	}
	return nil
}

func (s *Store) GetLine(ctx context.Context, id string) (*recon.StatementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM reconciliation_lines WHERE id = ?`, id)
	l, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan line: %w", err)
	}
	return &l, nil
}

func (s *Store) ListLines(ctx context.Context, reconciliationID string) ([]recon.StatementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM reconciliation_lines WHERE reconciliation_id = ? ORDER BY position ASC`,
		reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []recon.StatementLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanLine(r rowScanner) (recon.StatementLine, error) {
	var (
		l              recon.StatementLine
		lineDate       string
		amount         string
		status         string
		matchedEntryID sql.NullString
		confidence     sql.NullString
		matchedAt      sql.NullString
	)
	err := r.Scan(&l.ID, &l.ReconciliationID, &lineDate, &amount,
		&l.Description, &l.Reference, &status, &matchedEntryID, &confidence, &matchedAt)
	if err != nil {
		return l, err
	}

	if l.LineDate, err = ledger.ParseDate(lineDate); err != nil {
		return l, fmt.Errorf("failed to parse line_date: %w", err)
	}
	if l.Amount, err = decimal.NewFromString(amount); err != nil {
		return l, fmt.Errorf("failed to parse line amount: %w", err)
	}
	l.Status = recon.LineStatus(status)
	l.MatchedEntryID = matchedEntryID.String
	l.Confidence = recon.Confidence(confidence.String)
	if matchedAt.Valid {
		at, err := time.Parse(time.RFC3339, matchedAt.String)
		if err != nil {
			return l, fmt.Errorf("failed to parse matched_at: %w", err)
		}
		l.MatchedAt = &at
	}
	return l, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
