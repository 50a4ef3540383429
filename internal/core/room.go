package core

import (
	"fmt"
	"strings"
)

const (
	roomPrefix = "dm"
	roomSep    = ":"
)

// RoomID returns the shared room for a pair of users. It does not depend on
// argument order. Empty ids or ids containing the separator are caller bugs.
func RoomID(a, b string) string {
	for _, id := range [2]string{a, b} {
		if id == "" || strings.Contains(id, roomSep) {
			panic(fmt.Sprintf("core: invalid user id %q for room", id))
		}
	}
	if b < a {
		a, b = b, a
	}
	return roomPrefix + roomSep + a + roomSep + b
}

// ParseRoomID splits a room id produced by RoomID back into its two members.
func ParseRoomID(room string) (a, b string, ok bool) {
	parts := strings.Split(room, roomSep)
	if len(parts) != 3 || parts[0] != roomPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	if parts[2] < parts[1] {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Room groups the connections subscribed to one conversation.
type Room struct {
	ID      string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to every member except exclude.
func (r *Room) Broadcast(event *Event, exclude *Client) {
	for client := range r.clients {
		if client == exclude {
			continue
		}
		client.send(event)
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
