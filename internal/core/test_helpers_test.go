package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// flush returns once the hub has handled every request sent before it.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	if err := h.Identify(context.Background(), NewClient("flush"), "nobody"); err != ErrUnknownClient {
		t.Fatalf("flush: unexpected error %v", err)
	}
}

func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func countKind(ch <-chan *Event, kind EventKind) int {
	n := 0
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				n++
			}
		default:
			return n
		}
	}
}

func startHub(t *testing.T, recorder PresenceRecorder) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(NewPresenceTable(), recorder, nil)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func identified(t *testing.T, h *Hub, clientID, userID string) *Client {
	t.Helper()

	c := NewClient(clientID)
	h.Connect(c)
	if err := h.Identify(context.Background(), c, userID); err != nil {
		t.Fatalf("identify %s: %v", userID, err)
	}
	return c
}

type presenceCall struct {
	userID string
	online bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (f *fakeRecorder) SetPresence(_ context.Context, id string, online bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, presenceCall{userID: id, online: online})
	return nil
}

func (f *fakeRecorder) waitFor(t *testing.T, n int) []presenceCall {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.calls) >= n {
			out := append([]presenceCall(nil), f.calls...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d presence writes", n)
	return nil
}
