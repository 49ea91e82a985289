package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentfold/ledger-engine/ledger"
	"github.com/rentfold/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	accounts := []ledger.Account{
		{Code: "1000", Name: "Operating Cash", Type: ledger.AccountAsset, Active: true},
		{Code: "1200", Name: "Tenant Receivable", Type: ledger.AccountAsset, Active: true},
		{Code: "4000", Name: "Rental Income", Type: ledger.AccountIncome, Active: true},
		{Code: "4100", Name: "Late Fee Income", Type: ledger.AccountIncome, Active: true},
		{Code: "9900", Name: "Closed Account", Type: ledger.AccountExpense, Active: false},
	}
	for _, a := range accounts {
		require.NoError(t, mem.SaveAccount(ctx, a))
	}

	engine := ledger.NewEngine(mem, mem)
	engine.Now = func() time.Time {
		return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	}
	return engine, mem
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rentDebit(amount string) ledger.EntryInput {
	return ledger.EntryInput{
		AccountCode:     "1200",
		Amount:          amt(amount),
		Side:            ledger.Debit,
		Description:     "June rent",
		EntryDate:       ledger.NewDate(2025, time.June, 1),
		RelatedEntityID: "lease-1",
	}
}

func rentCredit(amount string) ledger.EntryInput {
	return ledger.EntryInput{
		AccountCode:     "4000",
		Amount:          amt(amount),
		Side:            ledger.Credit,
		Description:     "June rent",
		EntryDate:       ledger.NewDate(2025, time.June, 1),
		RelatedEntityID: "lease-1",
	}
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(topic string, event any) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

// =============================================================================
// SINGLE ENTRY POSTING
// =============================================================================

func TestPostSingle_Success(t *testing.T) {
	// GIVEN: A valid entry against an active account
	// WHEN: Posting it
	// THEN: The entry lands POSTED with an ID, key, and timestamps

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.NotEmpty(t, entry.IdempotencyKey)
	assert.Equal(t, ledger.StatusPosted, entry.Status)
	assert.Equal(t, "1200", entry.AccountCode)
	assert.True(t, entry.Amount.Equal(amt("1200.00")))
	assert.Equal(t, "2025-06-01", entry.EntryDate.String())
}

func TestPostSingle_DefaultsDateAndActor(t *testing.T) {
	// GIVEN: An entry with no date and no actor
	// WHEN: Posting it
	// THEN: Entry date defaults to today and actor to "system"

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	in := rentDebit("50.00")
	in.EntryDate = ledger.Date{}
	in.PostedBy = ""

	entry, err := engine.PostSingle(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-15", entry.EntryDate.String())
	assert.Equal(t, "system", entry.PostedBy)
}

func TestPostSingle_ValidationErrors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*ledger.EntryInput)
		wantErr error
	}{
		{"zero amount", func(in *ledger.EntryInput) { in.Amount = decimal.Zero }, ledger.ErrInvalidAmount},
		{"negative amount", func(in *ledger.EntryInput) { in.Amount = amt("-5") }, ledger.ErrInvalidAmount},
		{"invalid side", func(in *ledger.EntryInput) { in.Side = "SIDEWAYS" }, ledger.ErrUnbalancedPosting},
		{"unknown account", func(in *ledger.EntryInput) { in.AccountCode = "0000" }, ledger.ErrAccountNotFound},
		{"inactive account", func(in *ledger.EntryInput) { in.AccountCode = "9900" }, ledger.ErrAccountInactive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := rentDebit("100.00")
			tc.mutate(&in)
			_, err := engine.PostSingle(ctx, in)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPostSingle_IdempotentRetry_ReturnsExistingEntry(t *testing.T) {
	// GIVEN: An entry already posted
	// WHEN: Posting the identical fact again
	// THEN: No new entry is created and the original is returned

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)

	second, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "retry must collapse to the stored entry")

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPostSingle_DifferentDescription_IsANewEntry(t *testing.T) {
	// GIVEN: An entry already posted
	// WHEN: Posting the same amount with a different description
	// THEN: A second, distinct entry is created

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.PostSingle(ctx, rentDebit("75.00"))
	require.NoError(t, err)

	other := rentDebit("75.00")
	other.Description = "Parking"
	_, err = engine.PostSingle(ctx, other)
	require.NoError(t, err)

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostSingle_PublishesEventOnCreate_NotOnCollapse(t *testing.T) {
	// GIVEN: An engine with a recording publisher
	// WHEN: Posting the same fact twice
	// THEN: Exactly one event is published

	engine, _ := newTestEngine(t)
	pub := &recordingPublisher{}
	engine.Events = pub
	ctx := context.Background()

	_, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)
	_, err = engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, ledger.TopicEntryPosted, pub.topics[0])
}

// =============================================================================
// BALANCED PAIR POSTING
// =============================================================================

func TestPostBalancedPair_Success(t *testing.T) {
	// GIVEN: A debit and credit of equal amount
	// WHEN: Posting the pair
	// THEN: Both entries land

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	pair, err := engine.PostBalancedPair(ctx, rentDebit("1200.00"), rentCredit("1200.00"))
	require.NoError(t, err)

	assert.Equal(t, ledger.Debit, pair.DebitEntry.Side)
	assert.Equal(t, ledger.Credit, pair.CreditEntry.Side)

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostBalancedPair_UnequalAmounts_Rejected(t *testing.T) {
	// GIVEN: A debit and credit that differ by one cent
	// WHEN: Posting the pair
	// THEN: Rejected before any write; pairs require exact equality

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.PostBalancedPair(ctx, rentDebit("1200.00"), rentCredit("1200.01"))
	require.Error(t, err)

	var unbalanced *ledger.UnbalancedPostingError
	assert.ErrorAs(t, err, &unbalanced)
	assert.ErrorIs(t, err, ledger.ErrUnbalancedPosting)

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written on rejection")
}

func TestPostBalancedPair_WrongSides_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.PostBalancedPair(ctx, rentCredit("100.00"), rentDebit("100.00"))
	assert.ErrorIs(t, err, ledger.ErrUnbalancedPosting)
}

func TestPostBalancedPair_SecondInsertFails_NeitherLands(t *testing.T) {
	// GIVEN: A store that fails on the credit insert
	// WHEN: Posting a pair
	// THEN: The debit is rolled back too

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	boom := errors.New("disk full")
	mem.InsertHook = func(e ledger.LedgerEntry) error {
		if e.Side == ledger.Credit {
			return boom
		}
		return nil
	}

	_, err := engine.PostBalancedPair(ctx, rentDebit("1200.00"), rentCredit("1200.00"))
	assert.ErrorIs(t, err, boom)

	mem.InsertHook = nil
	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "partial pair must not survive")
}

// =============================================================================
// BALANCED BATCH POSTING
// =============================================================================

func TestPostBalancedBatch_SplitPayment(t *testing.T) {
	// GIVEN: One debit split across two credits
	// WHEN: Posting the batch
	// THEN: All three entries land atomically

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cash := ledger.EntryInput{
		AccountCode:     "1000",
		Amount:          amt("1275.00"),
		Side:            ledger.Debit,
		Description:     "Payment received",
		EntryDate:       ledger.NewDate(2025, time.June, 5),
		RelatedEntityID: "lease-1",
	}
	rent := rentCredit("1200.00")
	lateFee := ledger.EntryInput{
		AccountCode:     "4100",
		Amount:          amt("75.00"),
		Side:            ledger.Credit,
		Description:     "Late fee",
		EntryDate:       ledger.NewDate(2025, time.June, 5),
		RelatedEntityID: "lease-1",
	}

	entries, err := engine.PostBalancedBatch(ctx, []ledger.EntryInput{cash, rent, lateFee})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPostBalancedBatch_WithinTolerance_Accepted(t *testing.T) {
	// GIVEN: Totals that differ by half a cent
	// WHEN: Posting the batch
	// THEN: Accepted; rounding residue within tolerance is fine

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entries, err := engine.PostBalancedBatch(ctx, []ledger.EntryInput{
		rentDebit("100.005"),
		rentCredit("100.00"),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPostBalancedBatch_BeyondTolerance_Rejected(t *testing.T) {
	// GIVEN: Totals that differ by a full cent
	// WHEN: Posting the batch
	// THEN: Rejected with the totals reported

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.PostBalancedBatch(ctx, []ledger.EntryInput{
		rentDebit("100.01"),
		rentCredit("100.00"),
	})
	require.Error(t, err)

	var unbalanced *ledger.UnbalancedPostingError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.DebitTotal.Equal(amt("100.01")))
	assert.True(t, unbalanced.CreditTotal.Equal(amt("100.00")))

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostBalancedBatch_Empty_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.PostBalancedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ledger.ErrUnbalancedPosting)
}

// =============================================================================
// COMPOSITE TRANSACTIONS
// =============================================================================

func TestWithTransaction_RollsBackNonLedgerWrites(t *testing.T) {
	// GIVEN: A transaction posting an entry and moving a schedule marker
	// WHEN: The callback fails after both writes
	// THEN: Neither the entry nor the marker survives

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	sched := ledger.ChargeSchedule{
		ID:            "sched-1",
		LeaseID:       "lease-1",
		DebitAccount:  "1200",
		CreditAccount: "4000",
		Amount:        amt("1200.00"),
		DayOfMonth:    1,
		Description:   "Monthly rent",
		Active:        true,
	}
	require.NoError(t, mem.SaveSchedule(ctx, sched))

	boom := errors.New("downstream failure")
	err := engine.WithTransaction(ctx, func(tx *ledger.PostingTx) error {
		if _, err := tx.Post(ctx, rentDebit("1200.00")); err != nil {
			return err
		}
		if err := tx.Store().SetLastCharged(ctx, "sched-1", ledger.NewDate(2025, time.June, 1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := mem.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.Nil(t, stored.LastCharged, "marker must roll back with the entry")
}

func TestWithTransaction_PublishesOnlyAfterCommit(t *testing.T) {
	// GIVEN: A recording publisher
	// WHEN: One transaction commits and one rolls back
	// THEN: Only the committed transaction's entries are published

	engine, _ := newTestEngine(t)
	pub := &recordingPublisher{}
	engine.Events = pub
	ctx := context.Background()

	err := engine.WithTransaction(ctx, func(tx *ledger.PostingTx) error {
		_, err := tx.Post(ctx, rentDebit("1200.00"))
		return err
	})
	require.NoError(t, err)

	boom := errors.New("abort")
	err = engine.WithTransaction(ctx, func(tx *ledger.PostingTx) error {
		if _, err := tx.Post(ctx, rentDebit("999.00")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Len(t, pub.events, 1, "rolled-back postings must not publish")
}

// =============================================================================
// VOID AND REVERSAL
// =============================================================================

func TestVoidEntry_AnnotatesAndPreservesAmounts(t *testing.T) {
	// GIVEN: A posted entry
	// WHEN: Voiding it
	// THEN: Status flips, the description carries the audit trail, and
	//       amount/side/account are untouched

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)

	voided, err := engine.VoidEntry(ctx, entry.ID, "duplicate charge", "manager-7")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusVoid, voided.Status)
	assert.Equal(t, "[VOID by manager-7: duplicate charge] June rent", voided.Description)
	assert.True(t, voided.Amount.Equal(entry.Amount))
	assert.Equal(t, entry.Side, voided.Side)

	stored, err := mem.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusVoid, stored.Status)
}

func TestVoidEntry_AlreadyVoid_Rejected(t *testing.T) {
	// GIVEN: A voided entry
	// WHEN: Voiding it again
	// THEN: Rejected; VOID is terminal

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)
	_, err = engine.VoidEntry(ctx, entry.ID, "first", "")
	require.NoError(t, err)

	_, err = engine.VoidEntry(ctx, entry.ID, "second", "")
	assert.ErrorIs(t, err, ledger.ErrEntryVoided)
}

func TestVoidEntry_Unknown_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.VoidEntry(context.Background(), "no-such-id", "reason", "")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestVoidedEntries_ExcludedFromDefaultListing(t *testing.T) {
	// GIVEN: One posted and one voided entry for a lease
	// WHEN: Listing with and without include_void
	// THEN: The default listing hides the voided entry

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	keep, err := engine.PostSingle(ctx, rentDebit("1200.00"))
	require.NoError(t, err)
	gone, err := engine.PostSingle(ctx, rentDebit("75.00"))
	require.NoError(t, err)
	_, err = engine.VoidEntry(ctx, gone.ID, "mistake", "")
	require.NoError(t, err)

	visible, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, keep.ID, visible[0].ID)

	all, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{IncludeVoid: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReversePair_CrossesAccountsAndLinksOriginals(t *testing.T) {
	// GIVEN: A posted rent pair
	// WHEN: Reversing it
	// THEN: The credited account is debited and vice versa, and the
	//       compensating entries reference their originals

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	orig, err := engine.PostBalancedPair(ctx, rentDebit("1200.00"), rentCredit("1200.00"))
	require.NoError(t, err)

	rev, err := engine.ReversePair(ctx, orig.DebitEntry.ID, orig.CreditEntry.ID, "lease terminated", "manager-7")
	require.NoError(t, err)

	assert.Equal(t, "4000", rev.DebitEntry.AccountCode, "debit the account that was credited")
	assert.Equal(t, "1200", rev.CreditEntry.AccountCode, "credit the account that was debited")
	assert.Equal(t, orig.CreditEntry.ID, rev.DebitEntry.VoidOfEntryID)
	assert.Equal(t, orig.DebitEntry.ID, rev.CreditEntry.VoidOfEntryID)
	assert.Equal(t, "manager-7", rev.DebitEntry.PostedBy)
	assert.True(t, rev.DebitEntry.Amount.Equal(orig.DebitEntry.Amount))
}

func TestReversePair_VoidedOriginal_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	orig, err := engine.PostBalancedPair(ctx, rentDebit("1200.00"), rentCredit("1200.00"))
	require.NoError(t, err)
	_, err = engine.VoidEntry(ctx, orig.DebitEntry.ID, "gone", "")
	require.NoError(t, err)

	_, err = engine.ReversePair(ctx, orig.DebitEntry.ID, orig.CreditEntry.ID, "too late", "")
	assert.ErrorIs(t, err, ledger.ErrEntryVoided)
}

// =============================================================================
// SCHEDULED CHARGES
// =============================================================================

func saveRentSchedule(t *testing.T, mem *store.Memory, id string, day int) ledger.ChargeSchedule {
	t.Helper()
	sched := ledger.ChargeSchedule{
		ID:            id,
		LeaseID:       "lease-1",
		DebitAccount:  "1200",
		CreditAccount: "4000",
		Amount:        amt("1200.00"),
		DayOfMonth:    day,
		Description:   "Monthly rent",
		Active:        true,
	}
	require.NoError(t, mem.SaveSchedule(context.Background(), sched))
	return sched
}

func TestRunDueSchedules_PostsPairAndAdvancesMarker(t *testing.T) {
	// GIVEN: A rent schedule due on the 1st, run on the 15th
	// WHEN: Running due schedules
	// THEN: The pair is posted dated the 1st and LastCharged advances

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	saveRentSchedule(t, mem, "sched-1", 1)

	runs, err := engine.RunDueSchedules(ctx, ledger.NewDate(2025, time.June, 15))
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.True(t, run.Posted)
	assert.Empty(t, run.Err)
	assert.Equal(t, "2025-06-01", run.ChargeDate.String())
	assert.Equal(t, "Monthly rent (June 2025)", run.Pair.DebitEntry.Description)
	assert.Equal(t, "scheduler", run.Pair.DebitEntry.PostedBy)

	stored, err := mem.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastCharged)
	assert.Equal(t, "2025-06-01", stored.LastCharged.String())
}

func TestRunDueSchedules_Rerun_PostsNothingNew(t *testing.T) {
	// GIVEN: A schedule already run this month
	// WHEN: Running again the same month
	// THEN: Nothing is due a second time

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	saveRentSchedule(t, mem, "sched-1", 1)
	asOf := ledger.NewDate(2025, time.June, 15)

	_, err := engine.RunDueSchedules(ctx, asOf)
	require.NoError(t, err)

	runs, err := engine.RunDueSchedules(ctx, asOf)
	require.NoError(t, err)
	assert.Empty(t, runs, "LastCharged guards the month")

	entries, err := mem.ListBySubject(ctx, "lease-1", ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunDueSchedules_DayClampedToMonthEnd(t *testing.T) {
	// GIVEN: A schedule on day 31 run in June (30 days)
	// WHEN: Running on June 30
	// THEN: The charge is dated June 30

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	saveRentSchedule(t, mem, "sched-31", 31)

	runs, err := engine.RunDueSchedules(ctx, ledger.NewDate(2025, time.June, 30))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "2025-06-30", runs[0].ChargeDate.String())
}

func TestRunDueSchedules_NotYetDue_Skipped(t *testing.T) {
	// GIVEN: A schedule due on the 20th
	// WHEN: Running on the 15th
	// THEN: Nothing runs

	engine, mem := newTestEngine(t)
	saveRentSchedule(t, mem, "sched-20", 20)

	runs, err := engine.RunDueSchedules(context.Background(), ledger.NewDate(2025, time.June, 15))
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunDueSchedules_OneBadScheduleDoesNotStopOthers(t *testing.T) {
	// GIVEN: One schedule against an unknown account and one healthy
	// WHEN: Running due schedules
	// THEN: The healthy schedule still posts; the bad one reports its error

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	bad := saveRentSchedule(t, mem, "sched-bad", 1)
	bad.DebitAccount = "0000"
	require.NoError(t, mem.SaveSchedule(ctx, bad))
	saveRentSchedule(t, mem, "sched-good", 1)

	runs, err := engine.RunDueSchedules(ctx, ledger.NewDate(2025, time.June, 15))
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]ledger.ScheduleRun{}
	for _, r := range runs {
		byID[r.ScheduleID] = r
	}
	assert.NotEmpty(t, byID["sched-bad"].Err)
	assert.False(t, byID["sched-bad"].Posted)
	assert.True(t, byID["sched-good"].Posted)
	assert.Empty(t, byID["sched-good"].Err)
}
