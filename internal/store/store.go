package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("already exists")
)

// DefaultAvatar is assigned to users registered without an avatar.
const DefaultAvatar = "https://via.placeholder.com/150"

// User represents a registered identity.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	Online       bool
	LastSeen     *time.Time
	CreatedAt    time.Time
}

// UserSummary is the public projection of a user embedded in messages.
type UserSummary struct {
	ID       string
	Username string
	Avatar   string
}

// Summary projects the user to its public fields.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// MessageKind classifies a message payload.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindAudio MessageKind = "audio"
	KindFile  MessageKind = "file"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// File describes an attachment stored outside the message log.
type File struct {
	URL      string
	Name     string
	Size     int64
	MIMEType string
}

// Body is the payload of a message: either TextBody or FileBody.
type Body interface {
	// Text returns the textual content, empty when absent.
	Text() string
	// Attachment returns the file descriptor, nil for text-only bodies.
	Attachment() *File
}

// TextBody is a plain text payload.
type TextBody struct {
	Content string
}

func (b TextBody) Text() string      { return b.Content }
func (b TextBody) Attachment() *File { return nil }

// FileBody is an attachment with an optional caption.
type FileBody struct {
	File    File
	Caption string
}

func (b FileBody) Text() string      { return b.Caption }
func (b FileBody) Attachment() *File { f := b.File; return &f }

// Message is a persisted direct message between two users.
type Message struct {
	ID         int64
	SenderID   string
	ReceiverID string
	Kind       MessageKind
	Body       Body
	Read       bool
	ReadAt     *time.Time
	CreatedAt  time.Time

	// Sender and Receiver are resolved on read; they are not stored with the row.
	Sender   UserSummary
	Receiver UserSummary
}

// UserStore handles identity persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email. Returns ErrNotFound if absent.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByUsername retrieves a user by username. Returns ErrNotFound if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsers lists every user except the one with excludeID.
	ListUsers(ctx context.Context, excludeID string) ([]*User, error)

	// SetPresence records the online flag and last-seen time.
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error

	// ResetPresence marks every user offline. Presence does not survive restarts.
	ResetPresence(ctx context.Context) error
}

// MessageStore is the append-only conversation log.
type MessageStore interface {
	// AppendMessage persists msg and sets its ID and CreatedAt.
	// CreatedAt is non-decreasing across calls on the same store.
	AppendMessage(ctx context.Context, msg *Message) error

	// History returns all messages exchanged between a and b in either direction,
	// ascending by creation time. It returns an empty slice when there are none.
	History(ctx context.Context, a, b string) ([]*Message, error)

	// MarkRead flags every unread message from otherID to readerID as read.
	MarkRead(ctx context.Context, readerID, otherID string, at time.Time) (int64, error)

	// CountMessages returns the total number of stored messages.
	CountMessages(ctx context.Context) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
