package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// Schema is applied by New. Tests pass Migrate to NewWithSetup.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	avatar        TEXT NOT NULL DEFAULT '',
	online        BOOLEAN NOT NULL DEFAULT 0,
	last_seen     DATETIME,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'text',
	content     TEXT,
	file_url    TEXT,
	file_name   TEXT,
	file_size   INTEGER,
	mime_type   TEXT,
	is_read     BOOLEAN NOT NULL DEFAULT 0,
	read_at     DATETIME,
	created_at  DATETIME NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, id);
`

// Migrate applies Schema to db.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// appendMu serializes appends so ids and timestamps advance together.
	appendMu sync.Mutex
	lastTS   time.Time
	now      func() time.Time
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

const userColumns = `id, username, email, password_hash, avatar, online, last_seen, created_at`

// CreateUser inserts user. ID and CreatedAt must be set by the caller.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, avatar, online, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.Avatar, user.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg any) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListUsers lists every user except excludeID, ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context, excludeID string) ([]*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id != ? ORDER BY username ASC`
	rows, err := s.db.QueryContext(ctx, query, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SetPresence records the online flag and last-seen time.
func (s *SQLiteStore) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET online = ?, last_seen = ? WHERE id = ?`, online, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update presence: %w", store.ErrNotFound)
	}
	return nil
}

// ResetPresence marks every user offline.
func (s *SQLiteStore) ResetPresence(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET online = 0 WHERE online = 1`); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var lastSeen sql.NullTime
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Avatar,
		&user.Online,
		&lastSeen,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeen = &t
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// AppendMessage persists msg, assigning ID and a non-decreasing CreatedAt.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.Body == nil {
		return errors.New("insert message: nil body")
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	ts := s.now().UTC()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}

	var content, fileURL, fileName, mimeType sql.NullString
	var fileSize sql.NullInt64
	if text := msg.Body.Text(); text != "" {
		content = sql.NullString{String: text, Valid: true}
	}
	if f := msg.Body.Attachment(); f != nil {
		fileURL = sql.NullString{String: f.URL, Valid: true}
		fileName = sql.NullString{String: f.Name, Valid: f.Name != ""}
		fileSize = sql.NullInt64{Int64: f.Size, Valid: f.Size > 0}
		mimeType = sql.NullString{String: f.MIMEType, Valid: f.MIMEType != ""}
	}

	query := `
		INSERT INTO messages (sender_id, receiver_id, kind, content, file_url, file_name, file_size, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.SenderID, msg.ReceiverID, string(msg.Kind),
		content, fileURL, fileName, fileSize, mimeType, ts,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	s.lastTS = ts
	msg.ID = id
	msg.CreatedAt = ts
	msg.Read = false
	msg.ReadAt = nil
	return nil
}

// History returns the conversation between a and b. Ids are assigned in
// timestamp order under appendMu, so ordering by id is ordering by time.
func (s *SQLiteStore) History(ctx context.Context, a, b string) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.sender_id, m.receiver_id, m.kind, m.content, m.file_url, m.file_name,
		       m.file_size, m.mime_type, m.is_read, m.read_at, m.created_at,
		       su.username, su.avatar, ru.username, ru.avatar
		FROM messages m
		JOIN users su ON su.id = m.sender_id
		JOIN users ru ON ru.id = m.receiver_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkRead flags unread messages from otherID to readerID as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, readerID, otherID string, at time.Time) (int64, error) {
	query := `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
	`
	result, err := s.db.ExecContext(ctx, query, at.UTC(), otherID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return result.RowsAffected()
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var kind string
	var content, fileURL, fileName, mimeType sql.NullString
	var fileSize sql.NullInt64
	var readAt sql.NullTime
	if err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &kind,
		&content, &fileURL, &fileName, &fileSize, &mimeType,
		&msg.Read, &readAt, &msg.CreatedAt,
		&msg.Sender.Username, &msg.Sender.Avatar,
		&msg.Receiver.Username, &msg.Receiver.Avatar,
	); err != nil {
		return nil, err
	}

	msg.Kind = store.MessageKind(kind)
	msg.Sender.ID = msg.SenderID
	msg.Receiver.ID = msg.ReceiverID
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}

	if fileURL.Valid {
		msg.Body = store.FileBody{
			File: store.File{
				URL:      fileURL.String,
				Name:     fileName.String,
				Size:     fileSize.Int64,
				MIMEType: mimeType.String,
			},
			Caption: content.String,
		}
	} else {
		msg.Body = store.TextBody{Content: content.String}
	}
	return &msg, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
