// Package queue holds unverified facts while they wait for a second,
// independent source.
//
// Every entry leaves the queue exactly once: by matching a new fact (no
// rating change) or by expiring (a failure is recorded for its source).
// The queue is persisted to queue.json at the end of every cycle.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/abelbrown/jtfnews/internal/fsutil"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/model"
)

// FileName is the queue's state file inside the data directory.
const FileName = "queue.json"

// ErrDuplicate rejects a fact whose hash was seen inside the duplicate window.
var ErrDuplicate = errors.New("duplicate fact")

// Pairing reports whether two sources may corroborate each other.
type Pairing func(queuedSource, newSource string) (bool, error)

// FailureRecorder is told about every entry that expires.
type FailureRecorder interface {
	RecordFailure(sourceID, factHash string) error
}

// SweepResult describes one SweepMatch pass.
type SweepResult struct {
	Matched     *model.QueueEntry // removed entry, nil when none
	Verdict     match.Verdict
	Eligible    int // matching entries from independent sources
	RelatedHits int // matching entries rejected on ownership
}

// Queue is the pending fact store.
type Queue struct {
	mu        sync.Mutex
	path      string
	policy    match.Policy
	timeout   time.Duration
	dupWindow time.Duration
	entries   []model.QueueEntry
	seen      map[string]time.Time // fact hash -> first seen
	now       func() time.Time
}

// New creates an empty queue persisted at path.
func New(path string, policy match.Policy, timeout, dupWindow time.Duration) *Queue {
	return &Queue{
		path:      path,
		policy:    policy,
		timeout:   timeout,
		dupWindow: dupWindow,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the pending entries in insertion order.
func (q *Queue) Entries() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// MarkSeen records a hash as seen at the given time, e.g. for facts that
// were published before a restart.
func (q *Queue) MarkSeen(hash string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.seen[hash]; !ok || at.Before(t) {
		q.seen[hash] = at
	}
}

// Enqueue inserts a fact that expires after the queue timeout. A fact whose
// hash is still pending, or was seen inside the duplicate window, is
// rejected with ErrDuplicate.
func (q *Queue) Enqueue(fact model.HeadlineFact) (model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	hash := fact.Hash()
	q.pruneSeen(now)

	if first, ok := q.seen[hash]; ok && now.Sub(first) < q.dupWindow {
		return model.QueueEntry{}, fmt.Errorf("%w: %s first seen %s", ErrDuplicate, hash, first.Format(time.RFC3339))
	}
	for _, e := range q.entries {
		if e.FactHash == hash {
			return model.QueueEntry{}, fmt.Errorf("%w: %s already pending", ErrDuplicate, hash)
		}
	}

	entry := model.QueueEntry{
		FactHash:    hash,
		Fact:        fact,
		FirstSeenAt: now,
		ExpiresAt:   now.Add(q.timeout),
	}
	q.entries = append(q.entries, entry)
	q.seen[hash] = now
	return entry, nil
}

// SweepMatch looks for a pending entry describing the same event as fact,
// reported by an independent source. All entries are considered; the first
// eligible one in queue order wins. When more than one is eligible a
// warning is logged.
//
// The winning entry is passed to commit and removed only if commit
// succeeds. commit runs under the queue lock and must not call back into
// the queue.
func (q *Queue) SweepMatch(fact model.HeadlineFact, independent Pairing, commit func(model.QueueEntry) error) (SweepResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var res SweepResult
	first := -1
	var firstVerdict match.Verdict
	var eligibleHashes []string

	for i, e := range q.entries {
		if e.Expired(now) {
			continue
		}
		v := q.policy.Match(e.Fact, fact)
		if !v.Match {
			continue
		}
		ok, err := independent(e.Fact.SourceID, fact.SourceID)
		if err != nil {
			logging.Warn("ownership ambiguous, treating as related",
				"queued_source", e.Fact.SourceID, "new_source", fact.SourceID, "err", err)
		}
		if !ok {
			res.RelatedHits++
			continue
		}
		res.Eligible++
		eligibleHashes = append(eligibleHashes, e.FactHash)
		if first < 0 {
			first = i
			firstVerdict = v
		}
	}

	if res.Eligible > 1 {
		logging.Warn("ambiguous match, taking first in queue order",
			"fact_hash", fact.Hash(), "source", fact.SourceID, "candidates", eligibleHashes)
	}
	if first < 0 {
		return res, nil
	}

	entry := q.entries[first]
	res.Verdict = firstVerdict
	if err := commit(entry); err != nil {
		return res, err
	}
	q.entries = append(q.entries[:first], q.entries[first+1:]...)
	q.seen[fact.Hash()] = now
	res.Matched = &entry
	return res, nil
}

// SweepExpire removes every entry whose deadline is before now, recording a
// failure for each. An entry whose failure cannot be recorded stays queued
// and is retried on the next sweep.
func (q *Queue) SweepExpire(now time.Time, rec FailureRecorder) ([]model.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []model.QueueEntry
	var errs []error
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !e.Expired(now) {
			kept = append(kept, e)
			continue
		}
		if err := rec.RecordFailure(e.Fact.SourceID, e.FactHash); err != nil {
			errs = append(errs, fmt.Errorf("record failure for %s: %w", e.FactHash, err))
			kept = append(kept, e)
			continue
		}
		expired = append(expired, e)
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = model.QueueEntry{}
	}
	q.entries = kept
	return expired, errors.Join(errs...)
}

// Save writes the queue to disk atomically.
func (q *Queue) Save() error {
	q.mu.Lock()
	entries := q.entries
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := fsutil.WriteAtomic(q.path, data); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

// Load replaces the in-memory queue with the file's contents. A missing
// file leaves the queue empty.
func (q *Queue) Load() error {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	var entries []model.QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = entries
	for _, e := range entries {
		if t, ok := q.seen[e.FactHash]; !ok || e.FirstSeenAt.Before(t) {
			q.seen[e.FactHash] = e.FirstSeenAt
		}
	}
	return nil
}

func (q *Queue) pruneSeen(now time.Time) {
	for h, t := range q.seen {
		if now.Sub(t) >= q.dupWindow {
			delete(q.seen, h)
		}
	}
}
