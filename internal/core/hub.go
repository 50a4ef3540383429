package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// PresenceRecorder persists the online flag and last-seen time of a user.
type PresenceRecorder interface {
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
}

const (
	presenceQueueSize    = 256
	presenceWriteTimeout = 5 * time.Second
)

type identifyRequest struct {
	client *Client
	userID string
	reply  chan error
}

type membershipRequest struct {
	client *Client
	room   string
	join   bool
}

type deliveryRequest struct {
	room       string
	event      *Event
	receiverID string
	exclude    *Client
}

type presenceWrite struct {
	userID string
	online bool
	at     time.Time
}

// Hub owns every connection and room. All state is mutated by the Run goroutine;
// exported methods only enqueue requests.
type Hub struct {
	presence *PresenceTable
	recorder PresenceRecorder
	log      *zerolog.Logger

	clients map[*Client]struct{}
	rooms   map[string]*Room

	register   chan *Client
	unregister chan *Client
	identify   chan identifyRequest
	membership chan membershipRequest
	deliver    chan deliveryRequest
	writes     chan presenceWrite
	done       chan struct{}
}

// NewHub creates a hub around the given presence table. recorder may be nil.
func NewHub(presence *PresenceTable, recorder PresenceRecorder, logger *zerolog.Logger) *Hub {
	if presence == nil {
		presence = NewPresenceTable()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		presence:   presence,
		recorder:   recorder,
		log:        logger,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		identify:   make(chan identifyRequest),
		membership: make(chan membershipRequest),
		deliver:    make(chan deliveryRequest),
		writes:     make(chan presenceWrite, presenceQueueSize),
		done:       make(chan struct{}),
	}
}

// Presence exposes the table the hub maintains.
func (h *Hub) Presence() *PresenceTable {
	return h.presence
}

// Run processes requests until ctx is cancelled. On exit every client is
// disconnected and pending presence writes are flushed.
func (h *Hub) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go h.runPresenceWriter(writerDone)

	defer func() {
		for c := range h.clients {
			h.handleDisconnect(c)
		}
		close(h.done)
		close(h.writes)
		<-writerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("client_id", c.ID).Msg("client connected")
		case c := <-h.unregister:
			h.handleDisconnect(c)
		case req := <-h.identify:
			req.reply <- h.handleIdentify(req.client, req.userID)
		case req := <-h.membership:
			if req.join {
				h.handleJoin(req.client, req.room)
			} else {
				h.handleLeave(req.client, req.room)
			}
		case req := <-h.deliver:
			h.handleDeliver(req)
		}
	}
}

// Connect registers an unauthenticated connection.
func (h *Hub) Connect(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Disconnect drops the connection and its memberships. Repeated calls are no-ops.
func (h *Hub) Disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Identify binds c to userID. The caller must have verified the user's token.
// Rebinding an identified connection to a different user fails with
// ErrCodeAlreadyIdentified.
func (h *Hub) Identify(ctx context.Context, c *Client, userID string) error {
	req := identifyRequest{client: c, userID: userID, reply: make(chan error, 1)}
	select {
	case h.identify <- req:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinRoom subscribes c to room. Invalid requests are ignored.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.enqueueMembership(membershipRequest{client: c, room: room, join: true})
}

// LeaveRoom unsubscribes c from room. Invalid requests are ignored.
func (h *Hub) LeaveRoom(c *Client, room string) {
	h.enqueueMembership(membershipRequest{client: c, room: room})
}

func (h *Hub) enqueueMembership(req membershipRequest) {
	select {
	case h.membership <- req:
	case <-h.done:
	}
}

// BroadcastToRoom sends event to every member of room except exclude.
func (h *Hub) BroadcastToRoom(room string, event *Event, exclude *Client) {
	h.enqueueDelivery(deliveryRequest{room: room, event: event, exclude: exclude})
}

// Deliver sends msg to the members of room and to the receiver's current
// connection. Each connection gets the message at most once.
func (h *Hub) Deliver(room string, msg *store.Message, receiverID string, exclude *Client) {
	h.enqueueDelivery(deliveryRequest{
		room:       room,
		event:      &Event{Kind: EventMessageDelivered, Room: room, Message: msg},
		receiverID: receiverID,
		exclude:    exclude,
	})
}

func (h *Hub) enqueueDelivery(req deliveryRequest) {
	select {
	case h.deliver <- req:
	case <-h.done:
	}
}

func (h *Hub) handleIdentify(c *Client, userID string) error {
	if _, ok := h.clients[c]; !ok {
		return ErrUnknownClient
	}
	switch c.state {
	case StateDisconnected:
		return ErrUnknownClient
	case StateIdentified:
		if c.userID != userID {
			return coreError(ErrCodeAlreadyIdentified, "connection already identified")
		}
	}

	c.userID = userID
	c.state = StateIdentified
	h.presence.MarkOnline(userID, c)

	c.send(&Event{Kind: EventIdentified, UserID: userID})
	c.send(&Event{Kind: EventPresenceSnapshot, Users: h.presence.Online()})
	h.broadcastPresence(userID, true, c)
	h.recordPresence(userID, true)

	h.log.Info().Str("client_id", c.ID).Str("user_id", userID).Msg("client identified")
	return nil
}

func (h *Hub) handleJoin(c *Client, room string) {
	if !h.isMember(c, room) {
		return
	}
	r, ok := h.rooms[room]
	if !ok {
		r = NewRoom(room)
		h.rooms[room] = r
	}
	if r.AddClient(c) {
		c.rooms[room] = struct{}{}
	}
}

func (h *Hub) handleLeave(c *Client, room string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	r, ok := h.rooms[room]
	if !ok {
		return
	}
	r.RemoveClient(c)
	delete(c.rooms, room)
	if r.Empty() {
		delete(h.rooms, room)
	}
}

// isMember reports whether c may subscribe to room.
func (h *Hub) isMember(c *Client, room string) bool {
	if _, ok := h.clients[c]; !ok || c.state != StateIdentified {
		return false
	}
	a, b, ok := ParseRoomID(room)
	if !ok {
		return false
	}
	return c.userID == a || c.userID == b
}

func (h *Hub) handleDeliver(req deliveryRequest) {
	if req.receiverID == "" {
		if r, ok := h.rooms[req.room]; ok {
			r.Broadcast(req.event, req.exclude)
		}
		return
	}

	seen := make(map[*Client]struct{})
	if r, ok := h.rooms[req.room]; ok {
		for c := range r.clients {
			seen[c] = struct{}{}
		}
	}
	if c, ok := h.presence.Lookup(req.receiverID); ok {
		seen[c] = struct{}{}
	}
	delete(seen, req.exclude)

	dropped := 0
	for c := range seen {
		if !c.send(req.event) {
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn().Str("room", req.room).Int("dropped", dropped).Msg("slow consumers dropped event")
	}
}

func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	for room := range c.rooms {
		if r, ok := h.rooms[room]; ok {
			r.RemoveClient(c)
			if r.Empty() {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = make(map[string]struct{})

	wasIdentified := c.state == StateIdentified
	c.state = StateDisconnected
	close(c.Events)

	if !wasIdentified {
		return
	}
	if _, wentOffline := h.presence.MarkOffline(c); wentOffline {
		h.broadcastPresence(c.userID, false, nil)
		h.recordPresence(c.userID, false)
	}
	h.log.Info().Str("client_id", c.ID).Str("user_id", c.userID).Msg("client disconnected")
}

// broadcastPresence notifies every identified connection except exclude.
func (h *Hub) broadcastPresence(userID string, online bool, exclude *Client) {
	event := &Event{Kind: EventPresenceChanged, UserID: userID, Online: online}
	targets := lo.Filter(lo.Keys(h.clients), func(c *Client, _ int) bool {
		return c != exclude && c.state == StateIdentified
	})
	for _, c := range targets {
		c.send(event)
	}
}

func (h *Hub) recordPresence(userID string, online bool) {
	if h.recorder == nil {
		return
	}
	select {
	case h.writes <- presenceWrite{userID: userID, online: online, at: time.Now().UTC()}:
	default:
		h.log.Warn().Str("user_id", userID).Msg("presence write queue full")
	}
}

// runPresenceWriter applies presence writes in the order the hub produced them.
func (h *Hub) runPresenceWriter(done chan<- struct{}) {
	defer close(done)
	for w := range h.writes {
		if h.recorder == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		if err := h.recorder.SetPresence(ctx, w.userID, w.online, w.at); err != nil {
			h.log.Warn().Err(err).Str("user_id", w.userID).Bool("online", w.online).Msg("record presence")
		}
		cancel()
	}
}
