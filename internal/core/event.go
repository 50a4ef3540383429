package core

import "github.com/vovakirdan/dmchat-server/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventIdentified confirms the connection is bound to a user.
	EventIdentified EventKind = iota
	// EventMessageDelivered carries a new message to a receiving connection.
	EventMessageDelivered
	// EventMessageSent echoes a persisted message back to its sender.
	EventMessageSent
	// EventPresenceChanged reports a user going online or offline.
	EventPresenceChanged
	// EventPresenceSnapshot lists users online at identify time.
	EventPresenceSnapshot
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	UserID   string
	Online   bool
	Users    []string
	Message  *store.Message
	ClientID string // client-side correlation id echoed with EventMessageSent
	Error    *CoreError
}
