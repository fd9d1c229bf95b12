// Package ratings keeps the evidence-based accuracy rating of every source.
//
// ratings_audit.jsonl is the record of truth: one RatingEvent per line, only
// ever appended, synced before the in-memory counters move. The
// learned_ratings.json cache is derived from it and rewritten on Flush.
package ratings

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/abelbrown/jtfnews/internal/fsutil"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/model"
)

const (
	AuditFile = "ratings_audit.jsonl"
	CacheFile = "learned_ratings.json"
)

// Drift is a source whose cached counters disagree with the audit log.
type Drift struct {
	SourceID string
	Cached   Counts
	Audit    Counts
}

// Store is the rating ledger. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	dir       string
	audit     *os.File
	counts    map[string]Counts
	sources   map[string]model.Source
	coldStart int
	now       func() time.Time
}

// Open replays the audit log under dir and opens it for appending. Drift
// between the replayed counters and the cache is returned for reporting;
// the replayed counters win.
func Open(dir string, sources []model.Source, coldStart int) (*Store, []Drift, error) {
	if coldStart <= 0 {
		return nil, nil, fmt.Errorf("cold start threshold must be positive, got %d", coldStart)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create ratings dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		counts:    make(map[string]Counts),
		sources:   make(map[string]model.Source, len(sources)),
		coldStart: coldStart,
		now:       time.Now,
	}
	for _, src := range sources {
		if src.BaselineRating < 0 || src.BaselineRating > 10 {
			return nil, nil, fmt.Errorf("source %q: baseline %.2f outside 0-10", src.ID, src.BaselineRating)
		}
		s.sources[src.ID] = src
	}

	events, bad, err := ReadAudit(filepath.Join(dir, AuditFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	for _, line := range bad {
		logging.Warn("skipping unreadable audit line", "line", line)
	}
	s.counts = Replay(events)

	cached, err := readCache(filepath.Join(dir, CacheFile))
	if err != nil {
		logging.Warn("ratings cache unreadable, rebuilding from audit", "err", err)
	}
	drift := diff(cached, s.counts)
	for _, d := range drift {
		logging.Warn("ratings cache drift", "source", d.SourceID,
			"cached", fmt.Sprintf("%d/%d", d.Cached.Successes, d.Cached.Total()),
			"audit", fmt.Sprintf("%d/%d", d.Audit.Successes, d.Audit.Total()))
	}

	f, err := os.OpenFile(filepath.Join(dir, AuditFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	if err := terminateTornLine(f); err != nil {
		f.Close()
		return nil, nil, err
	}
	s.audit = f
	return s, drift, nil
}

// RecordSuccess notes a corroborated fact for the source.
func (s *Store) RecordSuccess(sourceID, factHash string) error {
	return s.record(sourceID, model.EventSuccess, factHash)
}

// RecordFailure notes a fact that expired without corroboration.
func (s *Store) RecordFailure(sourceID, factHash string) error {
	return s.record(sourceID, model.EventFailure, factHash)
}

func (s *Store) record(sourceID string, kind model.RatingEventType, factHash string) error {
	ev := model.RatingEvent{
		Timestamp: s.now().UTC(),
		SourceID:  sourceID,
		EventType: kind,
		FactHash:  factHash,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode rating event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audit == nil {
		return errors.New("ratings store closed")
	}
	if _, err := s.audit.Write(line); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	if err := s.audit.Sync(); err != nil {
		return fmt.Errorf("sync audit: %w", err)
	}

	c := s.counts[sourceID]
	if kind == model.EventSuccess {
		c.Successes++
	} else {
		c.Failures++
	}
	s.counts[sourceID] = c

	logging.Info("rating event", "source", sourceID, "event", string(kind), "fact_hash", factHash,
		"successes", c.Successes, "failures", c.Failures)
	return nil
}

// Rating returns the current accuracy rating for a source.
func (s *Store) Rating(sourceID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, _ := Compute(s.baseline(sourceID), s.counts[sourceID], s.coldStart)
	return r
}

// Reliability is rating scaled by extraction confidence.
func (s *Store) Reliability(sourceID string, confidence int) float64 {
	return s.Rating(sourceID) * float64(confidence) / 100
}

// Display returns the evidence-annotated rating string.
func (s *Store) Display(sourceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Display(s.baseline(sourceID), s.counts[sourceID], s.coldStart)
}

// Compact returns the "accuracy|bias" string.
func (s *Store) Compact(sourceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Compact(s.baseline(sourceID), s.sources[sourceID].Bias, s.counts[sourceID], s.coldStart)
}

// Counts returns the evidence for one source.
func (s *Store) Counts(sourceID string) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[sourceID]
}

// Snapshot returns every source's counters, registered or not.
func (s *Store) Snapshot() map[string]Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Counts, len(s.counts))
	for id, c := range s.counts {
		out[id] = c
	}
	return out
}

// SourceIDs lists registered sources plus any that only appear in the audit.
func (s *Store) SourceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	for id := range s.counts {
		if _, ok := s.sources[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Outcomes returns success and failure counts for one source.
func (s *Store) Outcomes(sourceID string) (successes, failures int) {
	c := s.Counts(sourceID)
	return c.Successes, c.Failures
}

func (s *Store) baseline(sourceID string) float64 {
	if src, ok := s.sources[sourceID]; ok {
		return src.BaselineRating
	}
	return DefaultBaseline
}

// Flush rewrites the derived cache atomically.
func (s *Store) Flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.counts, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode ratings cache: %w", err)
	}
	return fsutil.WriteAtomic(filepath.Join(s.dir, CacheFile), data)
}

// Close flushes the cache and closes the audit log.
func (s *Store) Close() error {
	ferr := s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ferr
	}
	cerr := s.audit.Close()
	s.audit = nil
	return errors.Join(ferr, cerr)
}

// ReadAudit parses an audit log. Line numbers of unparseable lines are
// returned separately so a torn final write does not hide the rest.
func ReadAudit(path string) ([]model.RatingEvent, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var events []model.RatingEvent
	var bad []int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev model.RatingEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.SourceID == "" ||
			(ev.EventType != model.EventSuccess && ev.EventType != model.EventFailure) {
			bad = append(bad, n)
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return events, bad, fmt.Errorf("read audit: %w", err)
	}
	return events, bad, nil
}

// Verify compares the cache under dir with a replay of the audit log and
// touches neither. bad lists unreadable audit lines.
func Verify(dir string) (drift []Drift, bad []int, err error) {
	events, bad, err := ReadAudit(filepath.Join(dir, AuditFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, bad, err
	}
	cached, err := readCache(filepath.Join(dir, CacheFile))
	if err != nil {
		return nil, bad, fmt.Errorf("read ratings cache: %w", err)
	}
	return diff(cached, Replay(events)), bad, nil
}

// Replay folds events into per-source counters.
func Replay(events []model.RatingEvent) map[string]Counts {
	out := make(map[string]Counts)
	for _, ev := range events {
		c := out[ev.SourceID]
		switch ev.EventType {
		case model.EventSuccess:
			c.Successes++
		case model.EventFailure:
			c.Failures++
		}
		out[ev.SourceID] = c
	}
	return out
}

func readCache(path string) (map[string]Counts, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Counts{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]Counts
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func diff(cached, audit map[string]Counts) []Drift {
	ids := make(map[string]bool)
	for id := range cached {
		ids[id] = true
	}
	for id := range audit {
		ids[id] = true
	}
	var out []Drift
	for id := range ids {
		if cached[id] != audit[id] {
			out = append(out, Drift{SourceID: id, Cached: cached[id], Audit: audit[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// terminateTornLine ends a partial last line so the next append starts clean.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	r, err := os.Open(f.Name())
	if err != nil {
		return err
	}
	defer r.Close()
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}
