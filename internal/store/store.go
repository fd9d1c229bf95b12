// Package store is the SQLite side of the engine: the published story
// archive, the per-consumer delivery ledger, and the caches that keep the
// extractor from paying twice for the same headline.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file inside the data directory.
const FileName = "jtfnews.db"

// Store handles SQLite persistence. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the database at dbPath and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps :memory: a single database and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Times are stored as unix milliseconds so range queries compare numbers.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		fact_hash TEXT NOT NULL,
		fact TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		day TEXT NOT NULL,
		verified_at INTEGER NOT NULL,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stories_day ON stories(day, verified_at);
	CREATE INDEX IF NOT EXISTS idx_stories_hash ON stories(fact_hash);

	CREATE TABLE IF NOT EXISTS deliveries (
		story_id TEXT NOT NULL,
		consumer TEXT NOT NULL,
		delivered_at INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		PRIMARY KEY (story_id, consumer),
		FOREIGN KEY (story_id) REFERENCES stories(id)
	);

	CREATE TABLE IF NOT EXISTS processed_headlines (
		key TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		seen_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_seen ON processed_headlines(seen_at);

	CREATE TABLE IF NOT EXISTS extraction_cache (
		key TEXT PRIMARY KEY,
		raw TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_usage (
		day TEXT NOT NULL,
		service TEXT NOT NULL,
		calls INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (day, service)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Stats is a row-count summary for the CLI.
type Stats struct {
	Stories         int     `json:"stories"`
	StoriesToday    int     `json:"stories_today"`
	Undelivered     int     `json:"undelivered"`
	Processed       int     `json:"processed_headlines"`
	CachedResponses int     `json:"cached_responses"`
	CostToday       float64 `json:"cost_today"`
}

// Stats counts rows across all tables. now picks "today" in UTC.
func (s *Store) Stats(now time.Time) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := dayKey(now)
	var st Stats
	queries := []struct {
		dst  any
		sql  string
		args []any
	}{
		{&st.Stories, "SELECT COUNT(*) FROM stories", nil},
		{&st.StoriesToday, "SELECT COUNT(*) FROM stories WHERE day = ?", []any{day}},
		{&st.Undelivered, "SELECT COUNT(*) FROM deliveries WHERE delivered_at IS NULL", nil},
		{&st.Processed, "SELECT COUNT(*) FROM processed_headlines", nil},
		{&st.CachedResponses, "SELECT COUNT(*) FROM extraction_cache", nil},
		{&st.CostToday, "SELECT COALESCE(SUM(cost), 0) FROM api_usage WHERE day = ?", []any{day}},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.sql, q.args...).Scan(q.dst); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
