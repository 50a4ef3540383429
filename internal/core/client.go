package core

// ClientState is the lifecycle stage of a connection.
type ClientState int

const (
	// StateUnauthenticated is a registered connection with no bound user.
	StateUnauthenticated ClientState = iota
	// StateIdentified is a connection bound to a verified user.
	StateIdentified
	// StateDisconnected is terminal. The Events channel is closed.
	StateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const clientEventBuffer = 64

// Client is one live connection as seen by the hub.
// Everything except ID and Events is owned by the hub goroutine.
type Client struct {
	ID     string
	Events chan *Event

	userID string
	state  ClientState
	rooms  map[string]struct{}
}

// NewClient constructs an unauthenticated client with a buffered event channel.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *Event, clientEventBuffer),
		state:  StateUnauthenticated,
		rooms:  make(map[string]struct{}),
	}
}

// send delivers without blocking. A full buffer drops the event.
func (c *Client) send(event *Event) bool {
	if c.state == StateDisconnected {
		return false
	}
	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}
