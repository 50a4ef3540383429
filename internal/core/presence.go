package core

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PresenceTable maps each online user to their latest live connection.
type PresenceTable struct {
	mu     sync.Mutex
	byUser map[string]*Client
	byConn map[*Client]string
}

// NewPresenceTable returns an empty table.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{
		byUser: make(map[string]*Client),
		byConn: make(map[*Client]string),
	}
}

// MarkOnline binds conn as the user's current handle. Repeating the call is
// harmless. It reports whether the user had no live handle before.
func (p *PresenceTable) MarkOnline(userID string, conn *Client) (wasOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, had := p.byUser[userID]
	if had && prev != conn {
		// The older connection stays alive but no longer speaks for the user.
		delete(p.byConn, prev)
	}
	p.byUser[userID] = conn
	p.byConn[conn] = userID
	return !had
}

// MarkOffline removes conn. The user goes offline only when conn was their
// current handle; stale or unknown handles are a no-op.
func (p *PresenceTable) MarkOffline(conn *Client) (userID string, wentOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[conn]
	if !ok {
		return "", false
	}
	delete(p.byConn, conn)
	if p.byUser[userID] != conn {
		return userID, false
	}
	delete(p.byUser, userID)
	return userID, true
}

// Lookup returns the user's current handle.
func (p *PresenceTable) Lookup(userID string) (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.byUser[userID]
	return c, ok
}

// IsOnline reports whether the user has a live handle.
func (p *PresenceTable) IsOnline(userID string) bool {
	_, ok := p.Lookup(userID)
	return ok
}

// Online returns the ids of online users, sorted.
func (p *PresenceTable) Online() []string {
	p.mu.Lock()
	ids := lo.Keys(p.byUser)
	p.mu.Unlock()
	slices.Sort(ids)
	return ids
}
