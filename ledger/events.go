/*
events.go - Posted-entry event publication

PURPOSE:
  Lets downstream consumers (collections dashboards, owner statements,
  audit mirrors) observe new financial facts without polling the store.
  The engine publishes one event per newly created entry, after the
  enclosing transaction commits - idempotent collapses publish nothing,
  so consumers see each fact at most once per stored row.

DELIVERY:
  Publication is best-effort: a publish failure is logged by the caller
  and never fails a posting. The ledger row is the source of truth; the
  event stream is a convenience.

IMPLEMENTATIONS:
  - events/kafka: JSON messages on a Kafka topic
  - NopPublisher: default when no broker is configured
*/
package ledger

import "time"

// TopicEntryPosted is the topic newly posted entries are published on.
const TopicEntryPosted = "ledger.entries.posted"

// Publisher delivers events to an external stream.
type Publisher interface {
	Publish(topic string, event any) error
}

// EntryPostedEvent is the payload published for each new entry.
// Amount is the decimal string form to keep consumers out of
// floating-point trouble.
type EntryPostedEvent struct {
	EntryID         string    `json:"entry_id"`
	AccountCode     string    `json:"account_code"`
	Side            Side      `json:"side"`
	Amount          string    `json:"amount"`
	EntryDate       string    `json:"entry_date"`
	RelatedEntityID string    `json:"related_entity_id,omitempty"`
	PostedBy        string    `json:"posted_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewEntryPostedEvent builds the event payload for a stored entry.
func NewEntryPostedEvent(e LedgerEntry) EntryPostedEvent {
	return EntryPostedEvent{
		EntryID:         e.ID,
		AccountCode:     e.AccountCode,
		Side:            e.Side,
		Amount:          e.Amount.String(),
		EntryDate:       e.EntryDate.String(),
		RelatedEntityID: e.RelatedEntityID,
		PostedBy:        e.PostedBy,
		CreatedAt:       e.CreatedAt,
	}
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(topic string, event any) error { return nil }
