package output

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evtxhound/core"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	rule_title TEXT NOT NULL,
	level TEXT NOT NULL,
	timestamp TEXT,
	origin TEXT,
	sequence INTEGER NOT NULL,
	aggregated INTEGER NOT NULL DEFAULT 0,
	values_json TEXT,
	aggregation_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_findings_rule ON findings(rule_id);
CREATE INDEX IF NOT EXISTS idx_findings_level ON findings(level);

CREATE TABLE IF NOT EXISTS statistics (
	category TEXT NOT NULL,
	key TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (category, key)
);

CREATE TABLE IF NOT EXISTS run_summary (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteSink stores findings and statistics in a SQLite database. All writes
// of a run share one transaction, committed on Close.
type SQLiteSink struct {
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
}

// NewSQLiteSink creates or opens the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	insert, err := tx.Prepare(`INSERT INTO findings
		(id, rule_id, rule_title, level, timestamp, origin, sequence, aggregated, values_json, aggregation_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	return &SQLiteSink{db: db, tx: tx, insert: insert}, nil
}

func (s *SQLiteSink) Write(f core.Finding) error {
	values, err := nullableJSON(f.Values, len(f.Values) == 0)
	if err != nil {
		return err
	}
	agg, err := nullableJSON(f.Aggregation, f.Aggregation == nil)
	if err != nil {
		return err
	}
	var ts sql.NullString
	if !f.Timestamp.IsZero() {
		ts = sql.NullString{String: f.Timestamp.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	aggregated := 0
	if f.IsAggregated() {
		aggregated = 1
	}

	if _, err := s.insert.Exec(f.ID, f.RuleID, f.RuleTitle, f.Level.String(), ts, f.Origin, f.Sequence, aggregated, values, agg); err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close(snapshot core.StatsSnapshot) error {
	defer s.db.Close()
	s.insert.Close()

	if err := s.writeStatistics(snapshot); err != nil {
		s.tx.Rollback()
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

func (s *SQLiteSink) writeStatistics(snapshot core.StatsSnapshot) error {
	stmt, err := s.tx.Prepare(`INSERT INTO statistics (category, key, count) VALUES (?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET count = excluded.count`)
	if err != nil {
		return fmt.Errorf("failed to prepare statistics insert: %w", err)
	}
	defer stmt.Close()

	for category, entries := range snapshot.Categories {
		for _, e := range entries {
			if _, err := stmt.Exec(category, e.Key, e.Count); err != nil {
				return fmt.Errorf("failed to insert statistics: %w", err)
			}
		}
	}
	_, err = s.tx.Exec(`INSERT INTO run_summary (name, value) VALUES ('total_records', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, fmt.Sprint(snapshot.TotalRecords))
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}
	return nil
}

func nullableJSON(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode finding column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
