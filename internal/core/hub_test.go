package core

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

func TestHubIdentifyBroadcastsPresenceToPeer(t *testing.T) {
	rec := &fakeRecorder{}
	hub := startHub(t, rec)

	alice := identified(t, hub, "c-a", "alice")
	mustEvent(t, alice.Events, EventIdentified)
	drain(alice.Events)

	bob := identified(t, hub, "c-b", "bob")

	ev := mustEvent(t, alice.Events, EventPresenceChanged)
	if ev.UserID != "bob" || !ev.Online {
		t.Fatalf("unexpected presence event: %+v", ev)
	}

	mustEvent(t, bob.Events, EventIdentified)
	snap := mustEvent(t, bob.Events, EventPresenceSnapshot)
	if !slices.Equal(snap.Users, []string{"alice", "bob"}) {
		t.Fatalf("unexpected snapshot: %v", snap.Users)
	}

	calls := rec.waitFor(t, 2)
	if calls[0] != (presenceCall{"alice", true}) || calls[1] != (presenceCall{"bob", true}) {
		t.Fatalf("unexpected presence writes: %+v", calls)
	}
}

func TestHubReidentifyAsOtherUserRejected(t *testing.T) {
	hub := startHub(t, nil)
	c := identified(t, hub, "c1", "alice")

	if err := hub.Identify(context.Background(), c, "alice"); err != nil {
		t.Fatalf("re-identify as same user should succeed, got %v", err)
	}

	err := hub.Identify(context.Background(), c, "mallory")
	var coreErr *CoreError
	if !errors.As(err, &coreErr) || coreErr.Code != ErrCodeAlreadyIdentified {
		t.Fatalf("expected already_identified, got %v", err)
	}
	if !hub.Presence().IsOnline("alice") || hub.Presence().IsOnline("mallory") {
		t.Fatalf("presence changed after rejected identify")
	}
}

func TestHubJoinRequiresIdentifiedMember(t *testing.T) {
	hub := startHub(t, nil)
	room := RoomID("alice", "bob")

	anon := NewClient("anon")
	hub.Connect(anon)
	hub.JoinRoom(anon, room)

	alice := identified(t, hub, "c-a", "alice")
	carol := identified(t, hub, "c-c", "carol")
	hub.JoinRoom(alice, room)
	hub.JoinRoom(carol, room)
	hub.JoinRoom(carol, "not-a-room")
	hub.JoinRoom(NewClient("never-connected"), room)
	flush(t, hub)
	drain(alice.Events)
	drain(carol.Events)
	drain(anon.Events)

	hub.BroadcastToRoom(room, &Event{Kind: EventMessageDelivered, Room: room}, nil)
	flush(t, hub)

	if n := countKind(alice.Events, EventMessageDelivered); n != 1 {
		t.Fatalf("alice expected 1 event, got %d", n)
	}
	if n := countKind(carol.Events, EventMessageDelivered); n != 0 {
		t.Fatalf("carol is not part of %s but got %d events", room, n)
	}
	if n := countKind(anon.Events, EventMessageDelivered); n != 0 {
		t.Fatalf("unidentified client got %d events", n)
	}

	hub.LeaveRoom(alice, room)
	hub.LeaveRoom(alice, room)
	hub.BroadcastToRoom(room, &Event{Kind: EventMessageDelivered, Room: room}, nil)
	flush(t, hub)
	if n := countKind(alice.Events, EventMessageDelivered); n != 0 {
		t.Fatalf("alice left but got %d events", n)
	}
}

func TestHubDeliverAtMostOncePerConnection(t *testing.T) {
	hub := startHub(t, nil)
	room := RoomID("alice", "bob")

	alice := identified(t, hub, "c-a", "alice")
	bob := identified(t, hub, "c-b", "bob")
	hub.JoinRoom(alice, room)
	hub.JoinRoom(bob, room)
	flush(t, hub)
	drain(alice.Events)
	drain(bob.Events)

	msg := &store.Message{ID: 1, SenderID: "alice", ReceiverID: "bob", Body: store.TextBody{Content: "hi"}}
	hub.Deliver(room, msg, "bob", alice)
	flush(t, hub)

	if n := countKind(bob.Events, EventMessageDelivered); n != 1 {
		t.Fatalf("bob is in the room and online; expected exactly 1 delivery, got %d", n)
	}
	if n := countKind(alice.Events, EventMessageDelivered); n != 0 {
		t.Fatalf("sender connection should be excluded, got %d", n)
	}
}

func TestHubDeliverReachesReceiverOutsideRoom(t *testing.T) {
	hub := startHub(t, nil)
	room := RoomID("alice", "bob")

	alice := identified(t, hub, "c-a", "alice")
	bob := identified(t, hub, "c-b", "bob")
	aliceTab := identified(t, hub, "c-a2", "alice")
	hub.JoinRoom(aliceTab, room)
	flush(t, hub)
	drain(bob.Events)
	drain(aliceTab.Events)

	msg := &store.Message{ID: 7, SenderID: "alice", ReceiverID: "bob", Body: store.TextBody{Content: "ping"}}
	hub.Deliver(room, msg, "bob", alice)

	ev := mustEvent(t, bob.Events, EventMessageDelivered)
	if ev.Message.ID != 7 || ev.Room != room {
		t.Fatalf("unexpected delivery: %+v", ev)
	}
	if ev := mustEvent(t, aliceTab.Events, EventMessageDelivered); ev.Message.ID != 7 {
		t.Fatalf("sender's other room member should receive the message")
	}
}

func TestHubDisconnectLatestConnectionIsAuthoritative(t *testing.T) {
	rec := &fakeRecorder{}
	hub := startHub(t, rec)

	alice := identified(t, hub, "c-a", "alice")
	oldBob := identified(t, hub, "c-b1", "bob")
	newBob := identified(t, hub, "c-b2", "bob")
	flush(t, hub)
	drain(alice.Events)

	hub.Disconnect(oldBob)
	flush(t, hub)
	if n := countKind(alice.Events, EventPresenceChanged); n != 0 {
		t.Fatalf("stale connection closing must not broadcast, got %d", n)
	}
	if !hub.Presence().IsOnline("bob") {
		t.Fatalf("bob should remain online")
	}
	for range oldBob.Events {
		// closed by the hub once disconnected
	}

	hub.Disconnect(newBob)
	ev := mustEvent(t, alice.Events, EventPresenceChanged)
	if ev.UserID != "bob" || ev.Online {
		t.Fatalf("expected bob offline, got %+v", ev)
	}

	// Repeated and unknown disconnects are no-ops.
	hub.Disconnect(newBob)
	hub.Disconnect(NewClient("ghost"))
	flush(t, hub)
	if n := countKind(alice.Events, EventPresenceChanged); n != 0 {
		t.Fatalf("repeated disconnect broadcast %d events", n)
	}

	calls := rec.waitFor(t, 4)
	if calls[3] != (presenceCall{"bob", false}) {
		t.Fatalf("expected final write to mark bob offline, got %+v", calls)
	}
}

func TestHubStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil, nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	c := NewClient("c1")
	hub.Connect(c)
	cancel()
	<-stopped

	if _, ok := <-c.Events; ok {
		t.Fatalf("client events should be closed after hub stops")
	}
	if err := hub.Identify(context.Background(), c, "alice"); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
	// Must not block.
	hub.Disconnect(c)
	hub.Deliver("dm:a:b", &store.Message{}, "b", nil)
}
