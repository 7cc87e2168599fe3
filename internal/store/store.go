// Package store persists conversations in SQLite so a session can be resumed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ChatCore/internal/backend"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session id is unknown
var ErrNotFound = errors.New("session not found")

// Message represents a single stored chat message
type Message struct {
	Role      backend.Role `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
}

// Record represents a stored chat session
type Record struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary describes a stored session without its messages
type Summary struct {
	ID           string    `json:"id"`
	StartTime    time.Time `json:"start_time"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// NewRecord builds a record from a session history, stamping each message with now
func NewRecord(id string, start time.Time, model string, history []backend.ChatMessage) Record {
	now := time.Now()
	msgs := make([]Message, len(history))
	for i, m := range history {
		msgs[i] = Message{Role: m.Role, Content: m.Content, Timestamp: now}
	}
	return Record{ID: id, StartTime: start, Model: model, UpdatedAt: now, Messages: msgs}
}

// History returns the stored messages in chat form
func (r Record) History() []backend.ChatMessage {
	out := make([]backend.ChatMessage, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = backend.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Store is a SQLite backed conversation store
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME,
	model TEXT,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the record, replacing any messages previously stored for it
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return &backend.ValidationError{Field: "id", Reason: "session id must not be empty"}
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, start_time, model, updated_at) VALUES (?, ?, ?, ?)",
		rec.ID, rec.StartTime, rec.Model, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", rec.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	for i, msg := range rec.Messages {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
			rec.ID, i, string(msg.Role), msg.Content, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads a session and its messages in order
func (s *Store) Load(ctx context.Context, id string) (Record, error) {
	rec := Record{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT start_time, model, updated_at FROM sessions WHERE id = ?", id).
		Scan(&rec.StartTime, &rec.Model, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	rec.Messages = []Message{}
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return Record{}, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = backend.Role(role)
		rec.Messages = append(rec.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return rec, nil
}

// List returns the most recently updated sessions first. A limit of zero
// or less returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time, s.model, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.StartTime, &sum.Model, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return out, nil
}

// Delete removes a session and its messages
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}
