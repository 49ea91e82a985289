/*
idempotency.go - Deterministic idempotency key derivation

PURPOSE:
  Computes the fingerprint that collapses retried operations onto a
  single stored entry. Cron reruns, webhook redeliveries, and user
  double-clicks all derive the same key from the same logical fact, so
  the unique constraint on the key makes the second insert a no-op.

CANONICAL TUPLE:
  account code | side | entry date (day) | amount (4dp) | related
  entity | description - hashed with SHA-256 and hex encoded. The date
  is truncated to calendar-day granularity so two posts of the same
  fact on the same business day collapse regardless of wall-clock time.
  Amounts are canonicalized to a fixed 4-decimal form so 10, 10.0 and
  10.00 produce the same key.

PROPERTIES:
  - Pure and deterministic: same inputs, same key, always
  - Any differing field yields a different key
  - 256-bit key space: accidental collision probability is negligible

SEE ALSO:
  - engine.go: derives the key during PostSingle
  - store.go: the unique constraint that makes the key effective
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// fieldSeparator keeps adjacent fields from running together; the ASCII
// unit separator never appears in codes, dates, or canonical amounts.
const fieldSeparator = "\x1f"

// DeriveKey computes the idempotency key for a logical posting.
// relatedEntityID may be empty for postings with no subject.
func DeriveKey(accountCode string, side Side, entryDate Date, amount decimal.Decimal, relatedEntityID, description string) string {
	tuple := strings.Join([]string{
		accountCode,
		string(side),
		entryDate.String(),
		amount.StringFixed(4),
		relatedEntityID,
		description,
	}, fieldSeparator)

	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])
}
