package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/jtfnews/internal/model"
)

// MarkProcessed records that h has been sent to the extractor.
func (s *Store) MarkProcessed(h model.Headline, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO processed_headlines (key, source_id, title, seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET seen_at = excluded.seen_at
	`, h.Key(), h.SourceID, h.Title, millis(at))
	return err
}

// Processed reports whether h was processed at or after since.
func (s *Store) Processed(h model.Headline, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var seen int64
	err := s.db.QueryRow("SELECT seen_at FROM processed_headlines WHERE key = ?", h.Key()).Scan(&seen)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return seen >= millis(since), nil
}

// PruneProcessed deletes processed-headline and extraction cache rows
// older than before. Returns the number of rows removed.
func (s *Store) PruneProcessed(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, q := range []string{
		"DELETE FROM processed_headlines WHERE seen_at < ?",
		"DELETE FROM extraction_cache WHERE created_at < ?",
	} {
		res, err := s.db.Exec(q, millis(before))
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// GetExtraction returns a cached raw model response.
func (s *Store) GetExtraction(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRow("SELECT raw FROM extraction_cache WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

// PutExtraction caches a raw model response.
func (s *Store) PutExtraction(key, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO extraction_cache (key, raw, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET raw = excluded.raw, created_at = excluded.created_at
	`, key, raw, millis(time.Now()))
	return err
}

// UsageRow is one day's spend for one service.
type UsageRow struct {
	Day          string
	Service      string
	Calls        int
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// RecordUsage adds one call to the day's totals.
func (s *Store) RecordUsage(day, service string, inputTokens, outputTokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO api_usage (day, service, calls, input_tokens, output_tokens, cost)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(day, service) DO UPDATE SET
			calls = calls + 1,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost = cost + excluded.cost
	`, day, service, inputTokens, outputTokens, cost)
	return err
}

// UsageCost returns the total spend for day across services.
func (s *Store) UsageCost(day string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cost float64
	err := s.db.QueryRow("SELECT COALESCE(SUM(cost), 0) FROM api_usage WHERE day = ?", day).Scan(&cost)
	return cost, err
}

// Usage returns the most recent days of usage, newest first.
func (s *Store) Usage(days int) ([]UsageRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT day, service, calls, input_tokens, output_tokens, cost
		FROM api_usage
		WHERE day IN (SELECT DISTINCT day FROM api_usage ORDER BY day DESC LIMIT ?)
		ORDER BY day DESC, service
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.Day, &r.Service, &r.Calls, &r.InputTokens, &r.OutputTokens, &r.Cost); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
