package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event family on the bus.
type Kind string

const (
	// Live update events, published by the listener.
	KindNewMessage     Kind = "tg.new_message"
	KindMessageEdited  Kind = "tg.message_edited"
	KindMessageDeleted Kind = "tg.message_deleted"

	// Sync engine events.
	KindSyncProgress Kind = "sync.progress"
	KindSyncMessage  Kind = "sync.message"
	KindSyncDone     Kind = "sync.done"

	// Listener lifecycle.
	KindListenerState Kind = "listener.state"
)

// Event is a domain event published on the bus. ID is unique per event
// so stream consumers can deduplicate across reconnects.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(kind Kind, payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
