package threat

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists indicators, upserting on the indicator value.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating indicator directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("opening indicator database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS indicators (
		indicator TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL DEFAULT 1.0,
		severity TEXT,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_indicators_source ON indicators(source);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating indicator schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveIndicators(ctx context.Context, indicators []ThreatIndicator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO indicators (indicator, id, type, source, confidence, severity, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(indicator) DO UPDATE SET
		source = excluded.source,
		confidence = excluded.confidence,
		severity = excluded.severity,
		last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, i := range indicators {
		if _, err := stmt.ExecContext(ctx, i.Indicator, i.ID, string(i.Type), i.Source, i.Confidence, i.Severity,
			i.FirstSeen.UTC().Format(time.RFC3339Nano), i.LastSeen.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("upserting %s: %w", i.Indicator, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Indicators(ctx context.Context) ([]ThreatIndicator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT indicator, id, type, source, confidence, severity, first_seen, last_seen FROM indicators`)
	if err != nil {
		return nil, fmt.Errorf("querying indicators: %w", err)
	}
	defer rows.Close()

	var out []ThreatIndicator
	for rows.Next() {
		var (
			i           ThreatIndicator
			typ         string
			severity    sql.NullString
			first, last string
		)
		if err := rows.Scan(&i.Indicator, &i.ID, &typ, &i.Source, &i.Confidence, &severity, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning indicator: %w", err)
		}
		i.Type = IndicatorType(typ)
		i.Severity = severity.String
		i.FirstSeen, _ = time.Parse(time.RFC3339Nano, first)
		i.LastSeen, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
