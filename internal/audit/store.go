// Package audit persists policy overrides and blocks.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

type EventType string

const (
	EventOverride EventType = "policy_override"
	EventBlock    EventType = "content_blocked"
)

// Event is one audit record. Content is already truncated by the producer.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Type      EventType `json:"event_type"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	RiskScore int       `json:"risk_score"`
	RiskLevel string    `json:"risk_level,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Policy    string    `json:"policy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives audit events.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// SQLiteStore keeps events in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path, creating parent
// directories as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		risk_level TEXT,
		reason TEXT,
		policy TEXT,
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, user_id, content, risk_score, risk_level, reason, policy, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.UserID, e.Content, e.RiskScore, e.RiskLevel, e.Reason, e.Policy,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, user_id, content, risk_score, risk_level, reason, policy, ts
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e     Event
			typ   string
			level sql.NullString
			rsn   sql.NullString
			pol   sql.NullString
			ts    string
		)
		if err := rows.Scan(&e.ID, &typ, &e.UserID, &e.Content, &e.RiskScore, &level, &rsn, &pol, &ts); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Type = EventType(typ)
		e.RiskLevel, e.Reason, e.Policy = level.String, rsn.String, pol.String
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
