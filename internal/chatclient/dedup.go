package chatclient

import (
	"strconv"
	"sync"
	"time"

	"github.com/vovakirdan/dmchat-server/internal/proto"
)

const defaultDedupWindow = 1024

// Deduper drops messages already shown. The server may deliver one message
// both through the room and the receiver's direct handle, and a reconnect can
// replay history that was already received live.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

// NewDeduper remembers up to limit keys; older keys are forgotten first.
func NewDeduper(limit int) *Deduper {
	if limit <= 0 {
		limit = defaultDedupWindow
	}
	return &Deduper{seen: make(map[string]struct{}, limit), limit: limit}
}

// Key identifies a message by id, or by content and timestamp when the id is missing.
func Key(m proto.Message) string {
	if m.ID != 0 {
		return "id:" + strconv.FormatInt(m.ID, 10)
	}
	return "ct:" + m.Sender.ID + "|" + m.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + m.Content
}

// Seen records m and reports whether it had been recorded before.
func (d *Deduper) Seen(m proto.Message) bool {
	key := Key(m)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.limit {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}
