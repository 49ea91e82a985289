/*
Package postgres provides a PostgreSQL-backed implementation of the
storage interfaces.

PURPOSE:
  Feature parity with store/sqlite for deployments that already run
  PostgreSQL. Same tables, same append-mostly guarantees; here the
  guards are plpgsql trigger functions and the idempotency collapse
  rides on ON CONFLICT DO NOTHING plus a re-fetch inside the same
  transaction.

DRIVER:
  lib/pq. Unique violations surface as *pq.Error with code 23505; the
  collapse checks the code rather than the message text.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite: SQLite implementation (reference for semantics)
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/recon"
)

// Store implements the storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New connects with the given DSN and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		normal_balance TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		entry_date DATE NOT NULL,
		account_code TEXT NOT NULL REFERENCES accounts(code),
		amount NUMERIC(18, 4) NOT NULL,
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

	CREATE OR REPLACE FUNCTION entries_guard() RETURNS trigger AS $guard$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			RAISE EXCEPTION 'ledger entries cannot be deleted';
		END IF;
		IF OLD.status = 'VOID' THEN
			RAISE EXCEPTION 'void entries cannot change';
		END IF;
		IF NEW.id != OLD.id
			OR NEW.created_at != OLD.created_at
			OR NEW.entry_date != OLD.entry_date
			OR NEW.account_code != OLD.account_code
			OR NEW.amount != OLD.amount
			OR NEW.side != OLD.side
			OR NEW.idempotency_key != OLD.idempotency_key
			OR NEW.related_entity_id != OLD.related_entity_id
			OR NEW.posted_by != OLD.posted_by
		THEN
			RAISE EXCEPTION 'ledger entries are immutable';
		END IF;
		RETURN NEW;
	END;
	$guard$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS entries_no_delete ON entries;
	CREATE TRIGGER entries_no_delete
		BEFORE DELETE ON entries
		FOR EACH ROW EXECUTE FUNCTION entries_guard();

	DROP TRIGGER IF EXISTS entries_immutable ON entries;
	CREATE TRIGGER entries_immutable
		BEFORE UPDATE ON entries
		FOR EACH ROW EXECUTE FUNCTION entries_guard();

	CREATE TABLE IF NOT EXISTS charge_schedules (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL,
		debit_account TEXT NOT NULL,
		credit_account TEXT NOT NULL,
		amount NUMERIC(18, 4) NOT NULL,
		day_of_month INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		last_charged DATE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_active
		ON charge_schedules(active);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		account_code TEXT NOT NULL,
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		statement_balance NUMERIC(18, 4) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliations_account
		ON reconciliations(account_code, created_at);

	CREATE TABLE IF NOT EXISTS reconciliation_lines (
		id TEXT PRIMARY KEY,
		reconciliation_id TEXT NOT NULL REFERENCES reconciliations(id),
		position INTEGER NOT NULL,
		line_date DATE NOT NULL,
		amount NUMERIC(18, 4) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		matched_entry_id TEXT,
		confidence TEXT,
		matched_at TIMESTAMPTZ
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

const entryColumns = `id, created_at, entry_date, account_code, amount::text, side,
	description, idempotency_key, related_entity_id, posted_by, status, void_of_entry_id`

// Insert persists the entry, collapsing on idempotency-key conflict.
// ON CONFLICT DO NOTHING keeps the conflict inside the insert itself;
// a zero row count means the key already exists and the pre-existing
// entry is fetched instead.
func (s *Store) Insert(ctx context.Context, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	return s.insertTx(ctx, s.db, e)
}

func (s *Store) insertTx(ctx context.Context, db dbtx, e ledger.LedgerEntry) (ledger.LedgerEntry, bool, error) {
	query := `
		INSERT INTO entries
		(id, created_at, entry_date, account_code, amount, side,
		 description, idempotency_key, related_entity_id, posted_by, status, void_of_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	res, err := db.ExecContext(ctx, query,
		e.ID,
		e.CreatedAt.UTC(),
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
		// ON CONFLICT covers the idempotency key; a racing retry can
		// still collide on the primary key, which collapses the same way.
		if isUniqueViolation(err) {
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
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.LedgerEntry{}, false, err
	}
	if n == 0 {
		existing, err := s.findByKeyTx(ctx, db, e.IdempotencyKey)
		if err != nil {
			return ledger.LedgerEntry{}, false, err
		}
		if existing == nil {
			return ledger.LedgerEntry{}, false, fmt.Errorf("entry with key %s vanished after conflict", e.IdempotencyKey)
		}
		return *existing, false, nil
	}
	return e, true, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*ledger.LedgerEntry, error) {
	return s.findByIDTx(ctx, s.db, id)
}

func (s *Store) findByIDTx(ctx context.Context, db dbtx, id string) (*ledger.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	return scanEntryRow(row)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*ledger.LedgerEntry, error) {
	return s.findByKeyTx(ctx, s.db, key)
}

func (s *Store) findByKeyTx(ctx context.Context, db dbtx, key string) (*ledger.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE idempotency_key = $1`, key)
	return scanEntryRow(row)
}

func (s *Store) ListBySubject(ctx context.Context, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	return s.listBySubjectTx(ctx, s.db, relatedEntityID, f)
}

func (s *Store) listBySubjectTx(ctx context.Context, db dbtx, relatedEntityID string, f ledger.Filter) ([]ledger.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE related_entity_id = $1`
	args := []any{relatedEntityID}
	if f.AccountCode != "" {
		args = append(args, f.AccountCode)
		query += fmt.Sprintf(` AND account_code = $%d`, len(args))
	}
	if !f.IncludeVoid {
		query += ` AND status = 'POSTED'`
	}
	query += ` ORDER BY entry_date ASC, created_at ASC`
	return s.queryEntries(ctx, db, query, args...)
}

func (s *Store) ListByAccount(ctx context.Context, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	return s.listByAccountTx(ctx, s.db, accountCode, from, to)
}

func (s *Store) listByAccountTx(ctx context.Context, db dbtx, accountCode string, from, to ledger.Date) ([]ledger.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE account_code = $1 AND status = 'POSTED'
		  AND entry_date >= $2 AND entry_date <= $3
		ORDER BY entry_date ASC, created_at ASC
	`
	return s.queryEntries(ctx, db, query, accountCode, from.String(), to.String())
}

func (s *Store) MarkVoid(ctx context.Context, id, description string) error {
	return s.markVoidTx(ctx, s.db, id, description)
}

func (s *Store) markVoidTx(ctx context.Context, db dbtx, id, description string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE entries SET status = 'VOID', description = $1 WHERE id = $2 AND status = 'POSTED'`,
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
		createdAt     time.Time
		entryDate     time.Time
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

	e.CreatedAt = createdAt.UTC()
	e.EntryDate = ledger.DateOf(entryDate)
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

const scheduleColumns = `id, lease_id, debit_account, credit_account, amount::text,
	day_of_month, description, last_charged, active`

func (s *Store) SaveSchedule(ctx context.Context, sched ledger.ChargeSchedule) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			lease_id = EXCLUDED.lease_id,
			debit_account = EXCLUDED.debit_account,
			credit_account = EXCLUDED.credit_account,
			amount = EXCLUDED.amount,
			day_of_month = EXCLUDED.day_of_month,
			description = EXCLUDED.description,
			last_charged = EXCLUDED.last_charged,
			active = EXCLUDED.active
	`,
		sched.ID, sched.LeaseID, sched.DebitAccount, sched.CreditAccount,
		sched.Amount.String(), sched.DayOfMonth, sched.Description,
		lastCharged, sched.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*ledger.ChargeSchedule, error) {
	return s.getScheduleTx(ctx, s.db, id)
}

func (s *Store) getScheduleTx(ctx context.Context, db dbtx, id string) (*ledger.ChargeSchedule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM charge_schedules WHERE id = $1`, id)
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
	return s.listSchedulesTx(ctx, s.db, activeOnly)
}

func (s *Store) listSchedulesTx(ctx context.Context, db dbtx, activeOnly bool) ([]ledger.ChargeSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM charge_schedules`
	if activeOnly {
		query += ` WHERE active`
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
	return s.setLastChargedTx(ctx, s.db, id, d)
}

func (s *Store) setLastChargedTx(ctx context.Context, db dbtx, id string, d ledger.Date) error {
	res, err := db.ExecContext(ctx,
		`UPDATE charge_schedules SET last_charged = $1 WHERE id = $2`,
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
		lastCharged sql.NullTime
	)
	err := r.Scan(
		&sched.ID, &sched.LeaseID, &sched.DebitAccount, &sched.CreditAccount,
		&amount, &sched.DayOfMonth, &sched.Description, &lastCharged, &sched.Active,
	)
	if err != nil {
		return sched, err
	}
	sched.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return sched, fmt.Errorf("failed to parse schedule amount: %w", err)
	}
	if lastCharged.Valid {
		d := ledger.DateOf(lastCharged.Time)
		sched.LastCharged = &d
	}
	return sched, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
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
	if a.NormalBalance == "" {
		a.NormalBalance = a.Type.NormalBalance()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (code, name, type, normal_balance, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			normal_balance = EXCLUDED.normal_balance,
			active = EXCLUDED.active
	`, a.Code, a.Name, string(a.Type), string(a.NormalBalance), a.Active)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, code string) (*ledger.Account, error) {
	var (
		a      ledger.Account
		typ    string
		normal string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, type, normal_balance, active FROM accounts WHERE code = $1`,
		code).Scan(&a.Code, &a.Name, &typ, &normal, &a.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	a.Type = ledger.AccountType(typ)
	a.NormalBalance = ledger.Side(normal)
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
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
		)
		if err := rows.Scan(&a.Code, &a.Name, &typ, &normal, &a.Active); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = ledger.AccountType(typ)
		a.NormalBalance = ledger.Side(normal)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) DeactivateAccount(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET active = FALSE WHERE code = $1`, code)
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

const reconColumns = `id, account_code, period_start, period_end, statement_balance::text, status, created_at, completed_at`

func (s *Store) SaveReconciliation(ctx context.Context, r recon.Reconciliation) error {
	return s.saveReconciliationTx(ctx, s.db, r)
}

func (s *Store) saveReconciliationTx(ctx context.Context, db dbtx, r recon.Reconciliation) error {
	var completedAt sql.NullTime
	if r.CompletedAt != nil {
		completedAt = sql.NullTime{Time: r.CompletedAt.UTC(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reconciliations
		(id, account_code, period_start, period_end, statement_balance, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`,
		r.ID, r.AccountCode, r.PeriodStart.String(), r.PeriodEnd.String(),
		r.StatementBalance.String(), string(r.Status), r.CreatedAt.UTC(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	return nil
}

func (s *Store) GetReconciliation(ctx context.Context, id string) (*recon.Reconciliation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reconColumns+` FROM reconciliations WHERE id = $1`, id)
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
	query := `SELECT ` + reconColumns + ` FROM reconciliations`
	var args []any
	if accountCode != "" {
		query += ` WHERE account_code = $1`
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
		periodStart time.Time
		periodEnd   time.Time
		balance     string
		status      string
		createdAt   time.Time
		completedAt sql.NullTime
	)
	err := r.Scan(&rec.ID, &rec.AccountCode, &periodStart, &periodEnd,
		&balance, &status, &createdAt, &completedAt)
	if err != nil {
		return rec, err
	}

	rec.PeriodStart = ledger.DateOf(periodStart)
	rec.PeriodEnd = ledger.DateOf(periodEnd)
	if rec.StatementBalance, err = decimal.NewFromString(balance); err != nil {
		return rec, fmt.Errorf("failed to parse statement_balance: %w", err)
	}
	rec.Status = recon.Status(status)
	rec.CreatedAt = createdAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		rec.CompletedAt = &at
	}
	return rec, nil
}

const lineColumns = `id, reconciliation_id, line_date, amount::text, description, reference, status, matched_entry_id, confidence, matched_at`

// CreateReconciliation inserts the session and its lines in one
// transaction so a half-written import can never be observed.
func (s *Store) CreateReconciliation(ctx context.Context, r recon.Reconciliation, lines []recon.StatementLine) error {
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
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_lines
		SET status = $1, matched_entry_id = $2, confidence = $3, matched_at = $4
		WHERE id = $5
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM reconciliation_lines WHERE id = $1`, id)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM reconciliation_lines WHERE reconciliation_id = $1 ORDER BY position ASC`,
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
		lineDate       time.Time
		amount         string
		status         string
		matchedEntryID sql.NullString
		confidence     sql.NullString
		matchedAt      sql.NullTime
	)
	err := r.Scan(&l.ID, &l.ReconciliationID, &lineDate, &amount,
		&l.Description, &l.Reference, &status, &matchedEntryID, &confidence, &matchedAt)
	if err != nil {
		return l, err
	}

	l.LineDate = ledger.DateOf(lineDate)
	if l.Amount, err = decimal.NewFromString(amount); err != nil {
		return l, fmt.Errorf("failed to parse line amount: %w", err)
	}
	l.Status = recon.LineStatus(status)
	l.MatchedEntryID = matchedEntryID.String
	l.Confidence = recon.Confidence(confidence.String)
	if matchedAt.Valid {
		at := matchedAt.Time.UTC()
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
