package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

func benchmarkDeliver(b *testing.B, bystanders int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil, nil)
	go hub.Run(ctx)

	connect := func(id, user string) *Client {
		c := NewClient(id)
		hub.Connect(c)
		if err := hub.Identify(ctx, c, user); err != nil {
			b.Fatalf("identify: %v", err)
		}
		return c
	}

	sender := connect("sender", "alice")
	target := connect("target", "bob")
	room := RoomID("alice", "bob")
	hub.JoinRoom(sender, room)
	hub.JoinRoom(target, room)

	// Online users outside the room must not slow delivery down.
	for i := range bystanders {
		c := connect(fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i))
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	go func() {
		for range sender.Events {
		}
	}()
	for len(target.Events) > 0 {
		<-target.Events
	}

	msg := &store.Message{SenderID: "alice", ReceiverID: "bob", Body: store.TextBody{Content: "payload"}}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Deliver(room, msg, "bob", sender)
		for ev := range target.Events {
			if ev.Kind == EventMessageDelivered {
				break
			}
		}
	}
}

func BenchmarkDeliver_10(b *testing.B)  { benchmarkDeliver(b, 10) }
func BenchmarkDeliver_100(b *testing.B) { benchmarkDeliver(b, 100) }
func BenchmarkDeliver_500(b *testing.B) { benchmarkDeliver(b, 500) }
