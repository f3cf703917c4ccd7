package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a session's persisted lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusQRPending    Status = "qr-pending"
	StatusConnected    Status = "connected"
)

// MessageStatus is the outcome recorded for a send attempt.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is an append-only record of one send attempt. Records reference
// the session's durable row id so they survive renames.
type Message struct {
	ID        int64         `json:"id"`
	SessionID int64         `json:"sessionId"`
	ToNumber  string        `json:"toNumber"`
	Message   string        `json:"message"`
	Status    MessageStatus `json:"status"`
	SentAt    time.Time     `json:"sentAt"`
}

// Store is the durable record of panel sessions and sent messages, plus the
// routing table mapping session names to linked device JIDs.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'disconnected',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	to_number TEXT NOT NULL,
	message TEXT NOT NULL,
	status TEXT NOT NULL,
	sent_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_routing (
	session_name TEXT PRIMARY KEY,
	device_jid TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`

// Open opens (creating if needed) the panel database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the registry and cron sweeps.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout keeps the fractional seconds fixed width so lexicographic
// ORDER BY on the TEXT columns matches chronological order. RFC3339Nano
// trims trailing zeros and would sort "...0.1Z" after "...0.12Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func now() string {
	return formatTime(time.Now())
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertSession creates the session row or updates its status; last write
// wins. The creation timestamp is set once and never overwritten.
func (s *Store) UpsertSession(ctx context.Context, name string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (name, status, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET status = excluded.status
	`, name, string(status), now())
	if err != nil {
		return fmt.Errorf("upsert session %q: %w", name, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, name string) (Session, error) {
	var sess Session
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at FROM sessions WHERE name = ?
	`, name).Scan(&sess.ID, &sess.Name, (*string)(&sess.Status), &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %q: %w", name, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	return sess, nil
}

// ListSessions returns all persisted sessions ordered by creation time,
// newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, created_at FROM sessions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &sess.Name, (*string)(&sess.Status), &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = parseTime(createdAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes the session row and its routing entry. Message
// records are an append-only log and are kept.
func (s *Store) DeleteSession(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM session_routing WHERE session_name = ?`, name)
	return err
}

// AppendMessage records one send attempt against the session's durable id.
// Insert-only; records are never updated or deleted.
func (s *Store) AppendMessage(ctx context.Context, sessionName string, toNumber string, message string, status MessageStatus) (Message, error) {
	sess, err := s.GetSession(ctx, sessionName)
	if err != nil {
		return Message{}, err
	}

	sentAt := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, to_number, message, status, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, toNumber, message, string(status), sentAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message for %q: %w", sessionName, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        id,
		SessionID: sess.ID,
		ToNumber:  toNumber,
		Message:   message,
		Status:    status,
		SentAt:    parseTime(sentAt),
	}, nil
}

// ListMessages returns the send log for a session, newest first.
func (s *Store) ListMessages(ctx context.Context, sessionName string) ([]Message, error) {
	sess, err := s.GetSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, to_number, message, status, sent_at
		FROM messages WHERE session_id = ?
		ORDER BY sent_at DESC, id DESC
	`, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", sessionName, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var sentAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.ToNumber, &msg.Message, (*string)(&msg.Status), &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SentAt = parseTime(sentAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListAllMessages returns the send log across every session, newest first.
func (s *Store) ListAllMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, to_number, message, status, sent_at
		FROM messages
		ORDER BY sent_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var sentAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.ToNumber, &msg.Message, (*string)(&msg.Status), &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SentAt = parseTime(sentAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns how many message records exist for a session name,
// zero when the session is unknown.
func (s *Store) CountMessages(ctx context.Context, sessionName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.name = ?
	`, sessionName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages for %q: %w", sessionName, err)
	}
	return count, nil
}

// SaveRouting records which linked device serves a session so credentials
// can be reused across restarts.
func (s *Store) SaveRouting(ctx context.Context, sessionName string, deviceJID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_routing (session_name, device_jid) VALUES (?, ?)
		ON CONFLICT(session_name) DO UPDATE SET device_jid = excluded.device_jid
	`, sessionName, deviceJID)
	if err != nil {
		return fmt.Errorf("save routing for %q: %w", sessionName, err)
	}
	return nil
}

func (s *Store) GetRouting(ctx context.Context, sessionName string) (string, bool, error) {
	var deviceJID string
	err := s.db.QueryRowContext(ctx, `
		SELECT device_jid FROM session_routing WHERE session_name = ?
	`, sessionName).Scan(&deviceJID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get routing for %q: %w", sessionName, err)
	}
	return deviceJID, true, nil
}

func (s *Store) DeleteRouting(ctx context.Context, sessionName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_routing WHERE session_name = ?`, sessionName)
	return err
}

// ListRoutings returns every session name that has a linked device, used by
// the startup restore pass.
func (s *Store) ListRoutings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_name, device_jid FROM session_routing`)
	if err != nil {
		return nil, fmt.Errorf("list routings: %w", err)
	}
	defer rows.Close()

	routings := make(map[string]string)
	for rows.Next() {
		var name, jid string
		if err := rows.Scan(&name, &jid); err != nil {
			return nil, err
		}
		routings[name] = jid
	}
	return routings, rows.Err()
}
