// Package delivery turns a send request into a persisted message and hands it
// to the realtime hub.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// State is a stage of a single send.
type State string

const (
	StateValidating State = "validating"
	StatePersisting State = "persisting"
	StateFanningOut State = "fanning_out"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

var (
	// ErrUnknownReceiver is returned when the receiver does not exist.
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrUnknownSender is returned when the sender no longer exists.
	ErrUnknownSender = errors.New("unknown sender")
	// ErrEmptyMessage is returned when neither text nor a file is present.
	ErrEmptyMessage = errors.New("empty message")
	// ErrInvalidKind is returned for kinds outside the known set.
	ErrInvalidKind = errors.New("invalid message kind")
	// ErrStoreUnavailable is returned when the message could not be persisted.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Fanout pushes a persisted message to live connections.
type Fanout interface {
	Deliver(room string, msg *store.Message, receiverID string, exclude *core.Client)
}

// Request is a single send.
type Request struct {
	SenderID   string `validate:"required,excludes=:"`
	ReceiverID string `validate:"required,excludes=:"`
	Content    string
	File       *store.File `validate:"-"`
	Kind       store.MessageKind

	// Exclude is the sender's originating connection, if any.
	Exclude *core.Client `validate:"-"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(hook func(senderID string, s State)) Option {
	return func(c *Coordinator) { c.hook = hook }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = logger }
}

// WithStoreTimeout bounds the persist stage.
func WithStoreTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// Coordinator validates, persists and fans out messages.
type Coordinator struct {
	store        store.Store
	fanout       Fanout
	validate     *validator.Validate
	locks        *keyedMutex
	storeTimeout time.Duration
	hook         func(string, State)
	log          *zerolog.Logger
}

// NewCoordinator builds a coordinator. fanout may be nil, in which case messages
// are only persisted.
func NewCoordinator(st store.Store, fanout Fanout, opts ...Option) *Coordinator {
	nop := zerolog.Nop()
	c := &Coordinator{
		store:        st,
		fanout:       fanout,
		validate:     validator.New(),
		locks:        newKeyedMutex(),
		storeTimeout: 5 * time.Second,
		log:          &nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send runs one message through validation, persistence and fan-out.
// Sends from the same sender are processed one at a time, so their
// persisted order is their fan-out order.
func (c *Coordinator) Send(ctx context.Context, req Request) (*store.Message, error) {
	unlock := c.locks.Lock(req.SenderID)
	defer unlock()

	c.transition(req.SenderID, StateValidating)
	msg, err := c.prepare(ctx, req)
	if err != nil {
		return nil, c.fail(req, err)
	}

	c.transition(req.SenderID, StatePersisting)
	// The persist must survive the originating connection going away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.storeTimeout)
	err = c.store.AppendMessage(persistCtx, msg)
	cancel()
	if err != nil {
		return nil, c.fail(req, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	c.transition(req.SenderID, StateFanningOut)
	if c.fanout != nil {
		c.fanout.Deliver(core.RoomID(msg.SenderID, msg.ReceiverID), msg, msg.ReceiverID, req.Exclude)
	}

	c.transition(req.SenderID, StateComplete)
	c.log.Debug().
		Int64("message_id", msg.ID).
		Str("sender_id", msg.SenderID).
		Str("receiver_id", msg.ReceiverID).
		Str("kind", string(msg.Kind)).
		Msg("message delivered")
	return msg, nil
}

func (c *Coordinator) prepare(ctx context.Context, req Request) (*store.Message, error) {
	if err := c.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "ReceiverID":
				return nil, fmt.Errorf("%w: %q", ErrUnknownReceiver, req.ReceiverID)
			case "SenderID":
				return nil, fmt.Errorf("%w: %q", ErrUnknownSender, req.SenderID)
			}
		}
		return nil, err
	}

	receiver, err := c.lookup(ctx, req.ReceiverID, ErrUnknownReceiver)
	if err != nil {
		return nil, err
	}
	sender, err := c.lookup(ctx, req.SenderID, ErrUnknownSender)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && req.File == nil {
		return nil, ErrEmptyMessage
	}

	kind, err := resolveKind(req.Kind)
	if err != nil {
		return nil, err
	}

	var body store.Body = store.TextBody{Content: content}
	if req.File != nil {
		if req.File.URL == "" {
			return nil, fmt.Errorf("%w: file without url", ErrEmptyMessage)
		}
		body = store.FileBody{File: *req.File, Caption: content}
	}

	return &store.Message{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Kind:       kind,
		Body:       body,
		Sender:     sender.Summary(),
		Receiver:   receiver.Summary(),
	}, nil
}

func (c *Coordinator) lookup(ctx context.Context, id string, notFound error) (*store.User, error) {
	user, err := c.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", notFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

func (c *Coordinator) fail(req Request, err error) error {
	c.transition(req.SenderID, StateFailed)
	c.log.Debug().Err(err).Str("sender_id", req.SenderID).Str("receiver_id", req.ReceiverID).Msg("send failed")
	return err
}

func (c *Coordinator) transition(senderID string, s State) {
	if c.hook != nil {
		c.hook(senderID, s)
	}
}

// resolveKind defaults an omitted kind to text. The kind is a rendering hint
// and is not checked against the body.
func resolveKind(kind store.MessageKind) (store.MessageKind, error) {
	if kind == "" {
		return store.KindText, nil
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return kind, nil
}

// KindForMIME maps a MIME type to the message kind used to render it.
func KindForMIME(mime string) store.MessageKind {
	major, _, _ := strings.Cut(strings.ToLower(mime), "/")
	switch major {
	case "image":
		return store.KindImage
	case "video":
		return store.KindVideo
	case "audio":
		return store.KindAudio
	default:
		return store.KindFile
	}
}
