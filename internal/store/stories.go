package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/jtfnews/internal/model"
)

// SaveStory archives a published story and opens a pending delivery row
// for each consumer. Saving the same story twice is a no-op. Returns
// whether the story was new.
func (s *Store) SaveStory(story model.PublishedStory, consumers []string) (bool, error) {
	body, err := json.Marshal(story)
	if err != nil {
		return false, fmt.Errorf("encode story %s: %w", story.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO stories (id, fact_hash, fact, confidence, day, verified_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, story.ID, story.FactHash, story.CanonicalText, story.Confidence,
		dayKey(story.VerifiedAt), millis(story.VerifiedAt), string(body))
	if err != nil {
		return false, fmt.Errorf("insert story: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	for _, c := range consumers {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO deliveries (story_id, consumer) VALUES (?, ?)",
			story.ID, c); err != nil {
			return false, fmt.Errorf("insert delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReviseStory replaces the archived body of an existing story and reopens
// delivery for consumers so they receive the revision. The fact hash and
// canonical text columns are left unchanged.
func (s *Store) ReviseStory(story model.PublishedStory, consumers []string) error {
	body, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("encode story %s: %w", story.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("UPDATE stories SET body = ?, confidence = ? WHERE id = ?",
		string(body), story.Confidence, story.ID)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("story %s not archived", story.ID)
	}

	for _, c := range consumers {
		if _, err := tx.Exec(`
			INSERT INTO deliveries (story_id, consumer) VALUES (?, ?)
			ON CONFLICT(story_id, consumer) DO UPDATE SET delivered_at = NULL, attempts = 0, last_error = NULL
		`, story.ID, c); err != nil {
			return fmt.Errorf("reopen delivery: %w", err)
		}
	}
	return tx.Commit()
}

// Story returns one archived story. The bool is false when it does not exist.
func (s *Store) Story(id string) (model.PublishedStory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRow("SELECT body FROM stories WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PublishedStory{}, false, nil
	}
	if err != nil {
		return model.PublishedStory{}, false, err
	}
	var story model.PublishedStory
	if err := json.Unmarshal([]byte(body), &story); err != nil {
		return story, false, fmt.Errorf("decode story %s: %w", id, err)
	}
	return story, true, nil
}

// StoriesOn returns the stories verified on day's UTC date, oldest first.
func (s *Store) StoriesOn(day time.Time) ([]model.PublishedStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryStories("SELECT body FROM stories WHERE day = ? ORDER BY verified_at, id", dayKey(day))
}

// StoriesSince returns stories verified at or after since, oldest first.
func (s *Store) StoriesSince(since time.Time) ([]model.PublishedStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryStories("SELECT body FROM stories WHERE verified_at >= ? ORDER BY verified_at, id", millis(since))
}

// HasFactHash reports whether a story with this fact hash was verified at
// or after since.
func (s *Store) HasFactHash(hash string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM stories WHERE fact_hash = ? AND verified_at >= ?",
		hash, millis(since)).Scan(&n)
	return n > 0, err
}

// Pending returns stories not yet delivered to consumer, oldest first.
func (s *Store) Pending(consumer string) ([]model.PublishedStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryStories(`
		SELECT s.body FROM stories s
		JOIN deliveries d ON d.story_id = s.id
		WHERE d.consumer = ? AND d.delivered_at IS NULL
		ORDER BY s.verified_at, s.id
	`, consumer)
}

// MarkDelivered records a successful delivery. Returns false if the story
// had already been delivered to consumer.
func (s *Store) MarkDelivered(storyID, consumer string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO deliveries (story_id, consumer, delivered_at, attempts)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(story_id, consumer) DO UPDATE SET
			delivered_at = excluded.delivered_at,
			attempts = attempts + 1,
			last_error = NULL
		WHERE delivered_at IS NULL
	`, storyID, consumer, millis(at))
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delivered reports whether storyID has reached consumer.
func (s *Store) Delivered(storyID, consumer string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var at sql.NullInt64
	err := s.db.QueryRow(
		"SELECT delivered_at FROM deliveries WHERE story_id = ? AND consumer = ?",
		storyID, consumer).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return at.Valid, err
}

// RecordDeliveryFailure bumps the attempt counter and stores the error.
func (s *Store) RecordDeliveryFailure(storyID, consumer string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO deliveries (story_id, consumer, attempts, last_error)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(story_id, consumer) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error
		WHERE delivered_at IS NULL
	`, storyID, consumer, msg)
	return err
}

// DeliveryAttempts returns the attempt count and last error for a delivery.
func (s *Store) DeliveryAttempts(storyID, consumer string) (int, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var attempts int
	var lastErr sql.NullString
	err := s.db.QueryRow(
		"SELECT attempts, last_error FROM deliveries WHERE story_id = ? AND consumer = ?",
		storyID, consumer).Scan(&attempts, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	return attempts, lastErr.String, err
}

// queryStories decodes story bodies. Caller holds s.mu.
func (s *Store) queryStories(query string, args ...any) ([]model.PublishedStory, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PublishedStory
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var story model.PublishedStory
		if err := json.Unmarshal([]byte(body), &story); err != nil {
			return nil, fmt.Errorf("decode story: %w", err)
		}
		out = append(out, story)
	}
	return out, rows.Err()
}
