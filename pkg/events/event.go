package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType names a change in the session store or in the lifetime of a send
// transaction.
type EventType string

const (
	EventTypeSessionCreated     EventType = "session-created"
	EventTypeSessionRemoved     EventType = "session-removed"
	EventTypeSessionUpdated     EventType = "session-updated"
	EventTypeSessionsReordered  EventType = "sessions-reordered"
	EventTypeMessageAppended    EventType = "message-appended"
	EventTypeMessageUpdated     EventType = "message-updated"
	EventTypeSelectionChanged   EventType = "selection-changed"
	EventTypeStoreReset         EventType = "store-reset"
	EventTypeTransactionStarted EventType = "transaction-started"
	EventTypeTransactionSettled EventType = "transaction-settled"
	EventTypeStreamRecord       EventType = "stream-record"
	EventTypeStopAcknowledged   EventType = "stop-acknowledged"
)

// Event is an invalidation notice. Subscribers are expected to re-read the
// store snapshot rather than treating the event as the source of truth.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	// Index is the message index for message events and the session index
	// for structural events.
	Index int `json:"index,omitempty"`

	RecordType string `json:"record_type,omitempty"`
	Content    string `json:"content,omitempty"`

	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewEventFromJson(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, errors.Wrap(err, "could not decode event")
	}
	if e.Type == "" {
		return Event{}, errors.New("event has no type")
	}
	return e, nil
}
