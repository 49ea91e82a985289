/*
matcher.go - Two-pass auto-matcher

PURPOSE:
  Pairs statement lines with ledger entries without operator input.
  Pass 1 requires amount AND date agreement; pass 2 relaxes to amount
  only, picking up entries whose bank settlement date drifted outside
  the window. A consumed set keeps every pairing one-to-one across
  both passes, so the matcher can never explain one deposit with two
  entries or vice versa.

DETERMINISM:
  Lines are processed in statement order and candidate entries in the
  order given (ledger stores return them date-ordered), so the same
  inputs always produce the same pairing.
*/
package recon

import (
	"github.com/rentfold/ledger-engine/ledger"
)

// MatchDateWindow is how many days a ledger entry's business date may
// differ from the statement line's date in the strict pass.
const MatchDateWindow = 3

// AutoMatch pairs lines to entries and returns the lines with Status,
// MatchedEntryID, and Confidence filled in. Entries already consumed
// (IDs present in the consumed set) are skipped; the set is extended
// with every match made, so an in-progress reconciliation can re-run
// matching over its remaining lines. Lines already MATCHED or EXCLUDED
// pass through untouched.
//
// Pass 1 matches on amount (within the balance tolerance) and date
// (within MatchDateWindow days). Pass 2 matches the leftovers on
// amount alone.
func AutoMatch(lines []StatementLine, entries []ledger.LedgerEntry, normal ledger.Side, consumed map[string]bool) []StatementLine {
	if consumed == nil {
		consumed = make(map[string]bool)
	}
	out := make([]StatementLine, len(lines))
	copy(out, lines)

	// Pass 1: amount and date.
	for i := range out {
		if out[i].Status != LineUnmatched {
			continue
		}
		if id, ok := findCandidate(out[i], entries, normal, consumed, true); ok {
			out[i].Status = LineMatched
			out[i].MatchedEntryID = id
			out[i].Confidence = ConfidenceAuto
			consumed[id] = true
		}
	}

	// Pass 2: amount only.
	for i := range out {
		if out[i].Status != LineUnmatched {
			continue
		}
		if id, ok := findCandidate(out[i], entries, normal, consumed, false); ok {
			out[i].Status = LineMatched
			out[i].MatchedEntryID = id
			out[i].Confidence = ConfidenceAuto
			consumed[id] = true
		}
	}

	return out
}

// findCandidate returns the first unconsumed entry agreeing with the
// line on amount, and on date when strict.
func findCandidate(line StatementLine, entries []ledger.LedgerEntry, normal ledger.Side, consumed map[string]bool, strict bool) (string, bool) {
	for _, e := range entries {
		if consumed[e.ID] || e.Status != ledger.StatusPosted {
			continue
		}
		if SignedAmount(e, normal).Sub(line.Amount).Abs().GreaterThan(ledger.BalanceTolerance) {
			continue
		}
		if strict {
			days := ledger.DaysBetween(e.EntryDate, line.LineDate)
			if days < 0 {
				days = -days
			}
			if days > MatchDateWindow {
				continue
			}
		}
		return e.ID, true
	}
	return "", false
}
