package http

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
)

func TestWebSocketRequiresIdentify(t *testing.T) {
	env := startTestServer(t, nil)
	bobID, _ := env.register(t, "bob")
	ws := env.dial(t)

	ws.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "hi"})
	if err := ws.waitError(); err.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", err)
	}

	ws.send(proto.InboundTypeJoinRoom, proto.RoomData{Room: "dm:a:b"})
	if err := ws.waitError(); err.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", err)
	}

	ws.send(proto.InboundTypeIdentify, proto.IdentifyData{Token: "not-a-jwt"})
	if err := ws.waitError(); err.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized for bad token, got %+v", err)
	}

	ws.send("dance", struct{}{})
	if err := ws.waitError(); err.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", err)
	}
}

func TestWebSocketRejectsSecondIdentity(t *testing.T) {
	env := startTestServer(t, nil)
	_, aliceToken := env.register(t, "alice")
	_, bobToken := env.register(t, "bob")

	ws := env.dial(t)
	ws.identify(aliceToken)

	ws.send(proto.InboundTypeIdentify, proto.IdentifyData{Token: bobToken})
	if err := ws.waitError(); err.Code != core.ErrCodeAlreadyIdentified {
		t.Fatalf("expected already_identified, got %+v", err)
	}
}

func TestWebSocketPresenceObservedByPeer(t *testing.T) {
	env := startTestServer(t, nil)
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	alice := env.dial(t)
	alice.identify(aliceToken)

	bob := env.dial(t)
	bob.send(proto.InboundTypeIdentify, proto.IdentifyData{Token: bobToken})
	snapshot := bob.waitEvent(proto.EventPresenceSnapshot)
	var snap proto.EventPresenceSnapshotData
	if err := json.Unmarshal(snapshot.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !slices.Contains(snap.Online, aliceID) || !slices.Contains(snap.Online, bobID) {
		t.Fatalf("snapshot missing users: %v", snap.Online)
	}

	changed := alice.waitEvent(proto.EventPresenceChanged)
	var data proto.EventPresenceChangedData
	if err := json.Unmarshal(changed.Data, &data); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if data.UserID != bobID || data.Status != proto.StatusOnline {
		t.Fatalf("unexpected presence event: %+v", data)
	}

	_ = bob.conn.CloseNow()
	changed = alice.waitEvent(proto.EventPresenceChanged)
	if err := json.Unmarshal(changed.Data, &data); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if data.UserID != bobID || data.Status != proto.StatusOffline {
		t.Fatalf("expected bob offline, got %+v", data)
	}
}

func TestWebSocketSendDeliversAndEchoes(t *testing.T) {
	env := startTestServer(t, nil)
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")
	room := core.RoomID(aliceID, bobID)

	alice := env.dial(t)
	alice.identify(aliceToken)
	alice.send(proto.InboundTypeJoinRoom, proto.RoomData{Room: room})

	bob := env.dial(t)
	bob.identify(bobToken)
	bob.send(proto.InboundTypeJoinRoom, proto.RoomData{Room: room})

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: " hello ", ClientID: "tmp-1"})

	sent := alice.waitEvent(proto.EventMessageSent)
	var echo proto.Message
	if err := json.Unmarshal(sent.Data, &echo); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if echo.ClientID != "tmp-1" || echo.Content != "hello" || echo.ID == 0 {
		t.Fatalf("unexpected echo: %+v", echo)
	}

	delivered := bob.waitEvent(proto.EventMessageDelivered)
	var msg proto.Message
	if err := json.Unmarshal(delivered.Data, &msg); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if msg.ID != echo.ID || msg.Sender.ID != aliceID || msg.Sender.Username != "alice" || msg.Receiver.ID != bobID {
		t.Fatalf("unexpected delivery: %+v", msg)
	}

	// Bob replies without joining anything new; alice gets it through the room.
	bob.send(proto.InboundTypeSend, proto.SendData{ReceiverID: aliceID, Content: "hey"})
	delivered = alice.waitEvent(proto.EventMessageDelivered)
	if err := json.Unmarshal(delivered.Data, &msg); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if msg.Content != "hey" {
		t.Fatalf("unexpected reply: %+v", msg)
	}
}

func TestWebSocketDeliversToReceiverOutsideRoom(t *testing.T) {
	env := startTestServer(t, nil)
	_, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	bob := env.dial(t)
	bob.identify(bobToken)

	alice := env.dial(t)
	alice.identify(aliceToken)
	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "direct"})

	delivered := bob.waitEvent(proto.EventMessageDelivered)
	var msg proto.Message
	if err := json.Unmarshal(delivered.Data, &msg); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if msg.Content != "direct" {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

func TestWebSocketSendErrors(t *testing.T) {
	env := startTestServer(t, nil)
	_, aliceToken := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")

	alice := env.dial(t)
	alice.identify(aliceToken)

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: "ghost", Content: "hi"})
	if err := alice.waitError(); err.Code != core.ErrCodeUnknownReceiver {
		t.Fatalf("expected unknown_receiver, got %+v", err)
	}

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "  "})
	if err := alice.waitError(); err.Code != core.ErrCodeEmptyMessage {
		t.Fatalf("expected empty_message, got %+v", err)
	}

	alice.send(proto.InboundTypeSend, proto.SendData{Content: "hi"})
	if err := alice.waitError(); err.Code != core.ErrCodeUnknownReceiver {
		t.Fatalf("missing receiver: expected unknown_receiver, got %+v", err)
	}

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "x", MessageType: "sticker"})
	if err := alice.waitError(); err.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", err)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) { cfg.MaxSendsPerMinute = 1 })
	_, aliceToken := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")

	alice := env.dial(t)
	alice.identify(aliceToken)

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "one"})
	alice.waitEvent(proto.EventMessageSent)

	alice.send(proto.InboundTypeSend, proto.SendData{ReceiverID: bobID, Content: "two"})
	if err := alice.waitError(); err.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", err)
	}
}
