/*
engine.go - The posting engine

PURPOSE:
  The only write path into the ledger. Validates every entry against
  the chart of accounts, derives its idempotency key, and writes it
  through the store inside a transaction boundary. Balanced pairs and
  batches land atomically; composite business operations (post a pair
  AND advance a schedule marker) share one transaction so a crash or
  retry can never leave the books half-written.

AT-LEAST-ONCE CALLERS:
  Schedulers, webhooks, and interactive retries may all deliver the
  same logical fact more than once. The engine treats a duplicate not
  as an error but as a successful no-op: the pre-existing entry is
  fetched and returned so the caller cannot tell a retry from a first
  attempt (beyond the identical entry ID).

FAILURE SEMANTICS:
  Validation failures (bad amount, unknown/inactive account, unbalanced
  group) are rejected before any write. Storage failures roll the whole
  unit back; the caller retries the entire operation, relying on
  idempotency.

SEE ALSO:
  - store.go: transactional store contract
  - aging.go: read-side balance/aging over posted entries
  - idempotency.go: key derivation
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine posts entries through a transactional store. Construct with
// NewEngine and inject the store and account lookup; nothing here is
// ambient global state, so tests can hand each case its own store.
type Engine struct {
	Store    TxStore
	Accounts AccountLookup

	// Now supplies timestamps; replaceable in tests.
	Now func() time.Time

	// Events receives one EntryPostedEvent per newly created entry,
	// after commit. Defaults to NopPublisher.
	Events Publisher
}

func NewEngine(store TxStore, accounts AccountLookup) *Engine {
	return &Engine{
		Store:    store,
		Accounts: accounts,
		Now:      time.Now,
		Events:   NopPublisher{},
	}
}

// =============================================================================
// VALIDATION AND ENTRY CONSTRUCTION
// =============================================================================

// validate checks the input against the engine's invariants and returns
// the normalized form. Nothing has been written when validate fails.
func (e *Engine) validate(ctx context.Context, in EntryInput) (EntryInput, error) {
	if in.Amount.Sign() <= 0 {
		return in, fmt.Errorf("amount %s: %w", in.Amount.String(), ErrInvalidAmount)
	}
	if !in.Side.Valid() {
		return in, fmt.Errorf("side %q: %w", in.Side, ErrUnbalancedPosting)
	}

	acct, err := e.Accounts.GetAccount(ctx, in.AccountCode)
	if err != nil {
		return in, err
	}
	if acct == nil {
		return in, &AccountError{Code: in.AccountCode, Err: ErrAccountNotFound}
	}
	if !acct.Active {
		return in, &AccountError{Code: in.AccountCode, Err: ErrAccountInactive}
	}

	if in.EntryDate.IsZero() {
		in.EntryDate = DateOf(e.Now())
	}
	if in.PostedBy == "" {
		in.PostedBy = "system"
	}
	return in, nil
}

// build materializes a validated input into a LedgerEntry ready to insert.
func (e *Engine) build(in EntryInput) LedgerEntry {
	return LedgerEntry{
		ID:              uuid.NewString(),
		CreatedAt:       e.Now().UTC(),
		EntryDate:       in.EntryDate,
		AccountCode:     in.AccountCode,
		Amount:          in.Amount,
		Side:            in.Side,
		Description:     in.Description,
		IdempotencyKey:  DeriveKey(in.AccountCode, in.Side, in.EntryDate, in.Amount, in.RelatedEntityID, in.Description),
		RelatedEntityID: in.RelatedEntityID,
		PostedBy:        in.PostedBy,
		Status:          StatusPosted,
	}
}

// insertOne writes one pre-built entry through the given store view,
// collapsing on idempotency-key conflict.
func (e *Engine) insertOne(ctx context.Context, s EntryStore, entry LedgerEntry) (LedgerEntry, bool, error) {
	stored, created, err := s.Insert(ctx, entry)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	if !created {
		// Expected behavior under retry; logged for observability only.
		log.Printf("[ledger] idempotent collapse: key=%s existing=%s", entry.IdempotencyKey, stored.ID)
	}
	return stored, created, nil
}

func (e *Engine) publish(entries []LedgerEntry) {
	if e.Events == nil {
		return
	}
	for _, entry := range entries {
		if err := e.Events.Publish(TopicEntryPosted, NewEntryPostedEvent(entry)); err != nil {
			log.Printf("[ledger] event publish failed for entry %s: %v", entry.ID, err)
		}
	}
}

// =============================================================================
// POSTING OPERATIONS
// =============================================================================

// PostSingle validates and posts one entry. A duplicate idempotency key
// is not an error: the pre-existing entry is returned.
func (e *Engine) PostSingle(ctx context.Context, in EntryInput) (LedgerEntry, error) {
	in, err := e.validate(ctx, in)
	if err != nil {
		return LedgerEntry{}, err
	}
	stored, created, err := e.insertOne(ctx, e.Store, e.build(in))
	if err != nil {
		return LedgerEntry{}, err
	}
	if created {
		e.publish([]LedgerEntry{stored})
	}
	return stored, nil
}

// PostBalancedPair posts a debit and a credit of exactly equal amount
// as one atomic unit. Either both land or neither does.
func (e *Engine) PostBalancedPair(ctx context.Context, debit, credit EntryInput) (PostedPair, error) {
	if debit.Side != Debit {
		return PostedPair{}, fmt.Errorf("first entry must be a debit: %w", ErrUnbalancedPosting)
	}
	if credit.Side != Credit {
		return PostedPair{}, fmt.Errorf("second entry must be a credit: %w", ErrUnbalancedPosting)
	}
	if !debit.Amount.Equal(credit.Amount) {
		return PostedPair{}, &UnbalancedPostingError{DebitTotal: debit.Amount, CreditTotal: credit.Amount}
	}

	var err error
	if debit, err = e.validate(ctx, debit); err != nil {
		return PostedPair{}, err
	}
	if credit, err = e.validate(ctx, credit); err != nil {
		return PostedPair{}, err
	}

	var pair PostedPair
	var posted []LedgerEntry
	err = e.Store.WithTx(ctx, func(s Store) error {
		d, createdD, err := e.insertOne(ctx, s, e.build(debit))
		if err != nil {
			return err
		}
		c, createdC, err := e.insertOne(ctx, s, e.build(credit))
		if err != nil {
			return err
		}
		pair = PostedPair{DebitEntry: d, CreditEntry: c}
		if createdD {
			posted = append(posted, d)
		}
		if createdC {
			posted = append(posted, c)
		}
		return nil
	})
	if err != nil {
		return PostedPair{}, err
	}
	e.publish(posted)
	return pair, nil
}

// PostBalancedBatch posts any number of entries whose debit and credit
// totals agree within BalanceTolerance, atomically.
func (e *Engine) PostBalancedBatch(ctx context.Context, ins []EntryInput) ([]LedgerEntry, error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("empty batch: %w", ErrUnbalancedPosting)
	}

	validated := make([]EntryInput, len(ins))
	debitTotal := decimal.Zero
	creditTotal := decimal.Zero
	for i, in := range ins {
		v, err := e.validate(ctx, in)
		if err != nil {
			return nil, err
		}
		validated[i] = v
		if v.Side == Debit {
			debitTotal = debitTotal.Add(v.Amount)
		} else {
			creditTotal = creditTotal.Add(v.Amount)
		}
	}
	if debitTotal.Sub(creditTotal).Abs().GreaterThan(BalanceTolerance) {
		return nil, &UnbalancedPostingError{DebitTotal: debitTotal, CreditTotal: creditTotal}
	}

	var stored []LedgerEntry
	var posted []LedgerEntry
	err := e.Store.WithTx(ctx, func(s Store) error {
		stored = stored[:0]
		posted = posted[:0]
		for _, in := range validated {
			entry, created, err := e.insertOne(ctx, s, e.build(in))
			if err != nil {
				return err
			}
			stored = append(stored, entry)
			if created {
				posted = append(posted, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(posted)
	return stored, nil
}

// =============================================================================
// COMPOSITE TRANSACTIONS
// =============================================================================

// PostingTx is the handle given to WithTransaction callbacks: ledger
// posts bound to the open transaction plus access to the non-ledger
// state (schedule markers) that must move with them.
type PostingTx struct {
	engine *Engine
	store  Store
	posted []LedgerEntry
}

// Post validates and posts one entry inside the transaction.
func (tx *PostingTx) Post(ctx context.Context, in EntryInput) (LedgerEntry, error) {
	in, err := tx.engine.validate(ctx, in)
	if err != nil {
		return LedgerEntry{}, err
	}
	stored, created, err := tx.engine.insertOne(ctx, tx.store, tx.engine.build(in))
	if err != nil {
		return LedgerEntry{}, err
	}
	if created {
		tx.posted = append(tx.posted, stored)
	}
	return stored, nil
}

// Store exposes the transaction-bound store for non-ledger mutations.
func (tx *PostingTx) Store() Store { return tx.store }

// WithTransaction runs fn inside one atomic unit. Ledger entries posted
// through the PostingTx and any non-ledger writes through its Store
// either all commit or all roll back. Events for newly created entries
// are published only after commit.
func (e *Engine) WithTransaction(ctx context.Context, fn func(tx *PostingTx) error) error {
	var ptx *PostingTx
	err := e.Store.WithTx(ctx, func(s Store) error {
		ptx = &PostingTx{engine: e, store: s}
		return fn(ptx)
	})
	if err != nil {
		return err
	}
	e.publish(ptx.posted)
	return nil
}

// =============================================================================
// VOID AND REVERSAL
// =============================================================================

// VoidEntry marks an entry VOID, prefixing its description with the
// void marker and reason. The original amount/side/account stay intact
// and queryable; voiding alone does NOT rebalance the books - use
// ReversePair when the other half of a fact must be compensated.
func (e *Engine) VoidEntry(ctx context.Context, id, reason, voidedBy string) (LedgerEntry, error) {
	entry, err := e.Store.FindByID(ctx, id)
	if err != nil {
		return LedgerEntry{}, err
	}
	if entry == nil {
		return LedgerEntry{}, fmt.Errorf("entry %s: %w", id, ErrEntryNotFound)
	}
	if entry.Status == StatusVoid {
		return LedgerEntry{}, fmt.Errorf("entry %s: %w", id, ErrEntryVoided)
	}

	if voidedBy == "" {
		voidedBy = "system"
	}
	annotated := fmt.Sprintf("[VOID by %s: %s] %s", voidedBy, reason, entry.Description)
	if err := e.Store.MarkVoid(ctx, id, annotated); err != nil {
		return LedgerEntry{}, err
	}

	voided := *entry
	voided.Status = StatusVoid
	voided.Description = annotated
	return voided, nil
}

// ReversePair posts an equal-and-opposite compensating pair for two
// previously posted entries: the account that was credited is debited
// and vice versa. The reversal goes through the normal posting path
// with a distinct actor tag so it is auditable as a correction rather
// than an original fact. Both compensating entries reference their
// originals via VoidOfEntryID.
func (e *Engine) ReversePair(ctx context.Context, debitID, creditID, reason, actor string) (PostedPair, error) {
	origDebit, err := e.mustPostedEntry(ctx, debitID)
	if err != nil {
		return PostedPair{}, err
	}
	origCredit, err := e.mustPostedEntry(ctx, creditID)
	if err != nil {
		return PostedPair{}, err
	}
	if origDebit.Side != Debit || origCredit.Side != Credit {
		return PostedPair{}, fmt.Errorf("reversal requires a debit and a credit original: %w", ErrUnbalancedPosting)
	}
	if !origDebit.Amount.Equal(origCredit.Amount) {
		return PostedPair{}, &UnbalancedPostingError{DebitTotal: origDebit.Amount, CreditTotal: origCredit.Amount}
	}

	if actor == "" {
		actor = "reversal"
	}
	today := DateOf(e.Now())

	// Debit the account that was credited; credit the account that was
	// debited.
	debit, err := e.validate(ctx, EntryInput{
		AccountCode:     origCredit.AccountCode,
		Amount:          origCredit.Amount,
		Side:            Debit,
		Description:     fmt.Sprintf("Reversal of %s: %s", origCredit.ID, reason),
		EntryDate:       today,
		RelatedEntityID: origCredit.RelatedEntityID,
		PostedBy:        actor,
	})
	if err != nil {
		return PostedPair{}, err
	}
	credit, err := e.validate(ctx, EntryInput{
		AccountCode:     origDebit.AccountCode,
		Amount:          origDebit.Amount,
		Side:            Credit,
		Description:     fmt.Sprintf("Reversal of %s: %s", origDebit.ID, reason),
		EntryDate:       today,
		RelatedEntityID: origDebit.RelatedEntityID,
		PostedBy:        actor,
	})
	if err != nil {
		return PostedPair{}, err
	}

	var pair PostedPair
	var posted []LedgerEntry
	err = e.Store.WithTx(ctx, func(s Store) error {
		de := e.build(debit)
		de.VoidOfEntryID = origCredit.ID
		d, createdD, err := e.insertOne(ctx, s, de)
		if err != nil {
			return err
		}
		ce := e.build(credit)
		ce.VoidOfEntryID = origDebit.ID
		c, createdC, err := e.insertOne(ctx, s, ce)
		if err != nil {
			return err
		}
		pair = PostedPair{DebitEntry: d, CreditEntry: c}
		if createdD {
			posted = append(posted, d)
		}
		if createdC {
			posted = append(posted, c)
		}
		return nil
	})
	if err != nil {
		return PostedPair{}, err
	}
	e.publish(posted)
	return pair, nil
}

func (e *Engine) mustPostedEntry(ctx context.Context, id string) (*LedgerEntry, error) {
	entry, err := e.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry %s: %w", id, ErrEntryNotFound)
	}
	if entry.Status != StatusPosted {
		return nil, fmt.Errorf("entry %s: %w", id, ErrEntryVoided)
	}
	return entry, nil
}

// =============================================================================
// SCHEDULED CHARGES
// =============================================================================

// ScheduleRun reports the outcome for one schedule during RunDueSchedules.
type ScheduleRun struct {
	ScheduleID string
	LeaseID    string
	ChargeDate Date
	Posted     bool // false when the charge already existed (idempotent rerun)
	Pair       PostedPair
	Err        string // per-schedule failure; other schedules still run
}

// RunDueSchedules posts the charge pair for every schedule that is due
// on asOf and advances its LastCharged marker in the same transaction.
// Safe to call from concurrent or retried triggers: idempotency keys
// collapse duplicate charges and the marker only moves on commit.
func (e *Engine) RunDueSchedules(ctx context.Context, asOf Date) ([]ScheduleRun, error) {
	schedules, err := e.Store.ListSchedules(ctx, true)
	if err != nil {
		return nil, err
	}

	var runs []ScheduleRun
	for _, sched := range schedules {
		if !sched.DueOn(asOf) {
			continue
		}
		run := e.runSchedule(ctx, sched, asOf)
		runs = append(runs, run)
	}
	return runs, nil
}

func (e *Engine) runSchedule(ctx context.Context, sched ChargeSchedule, asOf Date) ScheduleRun {
	chargeDate := sched.ChargeDateFor(asOf)
	desc := fmt.Sprintf("%s (%s)", sched.Description, chargeDate.Time.Format("January 2006"))

	run := ScheduleRun{ScheduleID: sched.ID, LeaseID: sched.LeaseID, ChargeDate: chargeDate}
	err := e.WithTransaction(ctx, func(tx *PostingTx) error {
		debit, err := tx.Post(ctx, EntryInput{
			AccountCode:     sched.DebitAccount,
			Amount:          sched.Amount,
			Side:            Debit,
			Description:     desc,
			EntryDate:       chargeDate,
			RelatedEntityID: sched.LeaseID,
			PostedBy:        "scheduler",
		})
		if err != nil {
			return err
		}
		credit, err := tx.Post(ctx, EntryInput{
			AccountCode:     sched.CreditAccount,
			Amount:          sched.Amount,
			Side:            Credit,
			Description:     desc,
			EntryDate:       chargeDate,
			RelatedEntityID: sched.LeaseID,
			PostedBy:        "scheduler",
		})
		if err != nil {
			return err
		}
		run.Pair = PostedPair{DebitEntry: debit, CreditEntry: credit}
		run.Posted = len(tx.posted) > 0
		return tx.Store().SetLastCharged(ctx, sched.ID, chargeDate)
	})
	if err != nil {
		run.Err = err.Error()
	}
	return run
}
