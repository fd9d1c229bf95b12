package queue

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type failureLog struct {
	events []string
	err    error
}

func (f *failureLog) RecordFailure(sourceID, factHash string) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, sourceID+"/"+factHash)
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	c := &clock{now: t0}
	q := New(filepath.Join(t.TempDir(), FileName), match.Default(), time.Hour, 24*time.Hour)
	q.SetClock(c.Now)
	return q, c
}

func fact(source, text string, entities ...string) model.HeadlineFact {
	return model.HeadlineFact{
		ID:         source + "-" + text,
		SourceID:   source,
		FactText:   text,
		Confidence: 90,
		Entities:   entities,
		Timestamp:  t0,
	}
}

// independentExcept treats the listed pairs as sharing an owner.
func independentExcept(related ...[2]string) Pairing {
	return func(a, b string) (bool, error) {
		if a == b {
			return false, nil
		}
		for _, p := range related {
			if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
				return false, nil
			}
		}
		return true, nil
	}
}

func commitOK(model.QueueEntry) error { return nil }

var quake = []string{"loc:chile", "num:6.2", "noun:earthquake"}

func TestEnqueueDuplicateWindow(t *testing.T) {
	q, c := newTestQueue(t)

	e, err := q.Enqueue(fact("a", "Earthquake struck Chile", quake...))
	if err != nil {
		t.Fatal(err)
	}
	if !e.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", e.ExpiresAt)
	}

	// Same text from another source, different casing and punctuation.
	if _, err := q.Enqueue(fact("b", "earthquake  struck CHILE.", quake...)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// Still a duplicate after the entry expired, inside the window.
	c.Advance(2 * time.Hour)
	q.SweepExpire(c.Now(), &failureLog{})
	if _, err := q.Enqueue(fact("a", "Earthquake struck Chile", quake...)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate inside window, got %v", err)
	}

	c.Advance(24 * time.Hour)
	if _, err := q.Enqueue(fact("a", "Earthquake struck Chile", quake...)); err != nil {
		t.Errorf("expected accept after window, got %v", err)
	}
}

func TestSweepMatchFirstMatchWins(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	c.Advance(time.Minute)
	q.Enqueue(fact("b", "second", quake...))
	c.Advance(time.Minute)

	var committed []string
	res, err := q.SweepMatch(fact("c", "third", quake...), independentExcept(), func(e model.QueueEntry) error {
		committed = append(committed, e.Fact.SourceID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched == nil || res.Matched.Fact.SourceID != "a" {
		t.Fatalf("matched = %+v, want source a", res.Matched)
	}
	if res.Eligible != 2 {
		t.Errorf("Eligible = %d, want 2 (ambiguous)", res.Eligible)
	}
	if len(committed) != 1 {
		t.Errorf("commit called %d times, want 1", len(committed))
	}
	if q.Len() != 1 || q.Entries()[0].Fact.SourceID != "b" {
		t.Errorf("remaining = %+v", q.Entries())
	}
}

func TestSweepMatchSkipsRelatedSources(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	q.Enqueue(fact("b", "second", quake...))

	res, err := q.SweepMatch(fact("c", "third", quake...), independentExcept([2]string{"a", "c"}), commitOK)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched == nil || res.Matched.Fact.SourceID != "b" {
		t.Fatalf("matched = %+v, want b", res.Matched)
	}
	if res.RelatedHits != 1 {
		t.Errorf("RelatedHits = %d", res.RelatedHits)
	}
}

func TestSweepMatchAmbiguousOwnershipIsRelated(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	ambiguous := func(a, b string) (bool, error) { return false, errors.New("unknown source") }

	res, err := q.SweepMatch(fact("x", "second", quake...), ambiguous, commitOK)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched != nil || res.RelatedHits != 1 || q.Len() != 1 {
		t.Errorf("ambiguous ownership granted a match: %+v", res)
	}
}

func TestSweepMatchNoMatch(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	res, err := q.SweepMatch(fact("b", "other", "loc:peru", "noun:flood"), independentExcept(), func(model.QueueEntry) error {
		t.Fatal("commit called without a match")
		return nil
	})
	if err != nil || res.Matched != nil {
		t.Errorf("res=%+v err=%v", res, err)
	}
}

func TestSweepMatchCommitFailureKeepsEntry(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	boom := errors.New("emit failed")

	res, err := q.SweepMatch(fact("b", "second", quake...), independentExcept(), func(model.QueueEntry) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if res.Matched != nil {
		t.Error("Matched set despite failed commit")
	}
	if q.Len() != 1 {
		t.Errorf("entry removed despite failed commit")
	}
}

func TestSweepMatchIgnoresExpired(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	c.Advance(time.Hour + time.Second)

	res, _ := q.SweepMatch(fact("b", "second", quake...), independentExcept(), commitOK)
	if res.Matched != nil {
		t.Error("expired entry was eligible")
	}
}

func TestSweepExpire(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue(fact("a", "old", quake...))
	c.Advance(30 * time.Minute)
	q.Enqueue(fact("b", "young", "loc:peru"))

	rec := &failureLog{}
	// Exactly at the deadline nothing expires.
	if got, _ := q.SweepExpire(t0.Add(time.Hour), rec); len(got) != 0 {
		t.Errorf("expired at deadline: %v", got)
	}

	got, err := q.SweepExpire(t0.Add(time.Hour+time.Second), rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Fact.SourceID != "a" {
		t.Fatalf("expired = %+v", got)
	}
	if len(rec.events) != 1 || rec.events[0] != "a/"+model.FactHash("old") {
		t.Errorf("failures = %v", rec.events)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d", q.Len())
	}

	// A second sweep at the same instant records nothing new.
	got, _ = q.SweepExpire(t0.Add(time.Hour+time.Second), rec)
	if len(got) != 0 || len(rec.events) != 1 {
		t.Errorf("second sweep not idempotent: %v %v", got, rec.events)
	}
}

func TestSweepExpireRecorderFailureKeepsEntry(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "old", quake...))

	rec := &failureLog{err: errors.New("disk full")}
	got, err := q.SweepExpire(t0.Add(2*time.Hour), rec)
	if err == nil || len(got) != 0 || q.Len() != 1 {
		t.Fatalf("got=%v err=%v len=%d", got, err, q.Len())
	}

	rec.err = nil
	got, err = q.SweepExpire(t0.Add(2*time.Hour), rec)
	if err != nil || len(got) != 1 || q.Len() != 0 {
		t.Errorf("retry sweep: got=%v err=%v len=%d", got, err, q.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	q, c := newTestQueue(t)
	q.Enqueue(fact("a", "first", quake...))
	c.Advance(7 * time.Minute)
	q.Enqueue(fact("b", "second", "loc:peru", "num:3"))
	if err := q.Save(); err != nil {
		t.Fatal(err)
	}

	q2 := New(q.path, match.Default(), time.Hour, 24*time.Hour)
	q2.SetClock(c.Now)
	if err := q2.Load(); err != nil {
		t.Fatal(err)
	}

	a, b := q.Entries(), q2.Entries()
	if len(a) != len(b) {
		t.Fatalf("len %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].FactHash != b[i].FactHash || !a[i].ExpiresAt.Equal(b[i].ExpiresAt) ||
			!a[i].FirstSeenAt.Equal(b[i].FirstSeenAt) || a[i].Fact.SourceID != b[i].Fact.SourceID {
			t.Errorf("entry %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}

	// Dedup state survives the restart.
	if _, err := q2.Enqueue(fact("c", "first", quake...)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate after reload, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Load(); err != nil {
		t.Fatal(err)
	}
	if err := q.Save(); err != nil {
		t.Fatal(err)
	}
	q2 := New(q.path, match.Default(), time.Hour, time.Hour)
	if err := q2.Load(); err != nil || q2.Len() != 0 {
		t.Errorf("empty round trip: err=%v len=%d", err, q2.Len())
	}
}

func TestResweepProducesNothing(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(fact("a", "one", quake...))
	q.Enqueue(fact("a2", "two", quake...))
	related := independentExcept([2]string{"a", "a2"})

	for round := 0; round < 2; round++ {
		for _, e := range q.Entries() {
			res, err := q.SweepMatch(e.Fact, related, func(model.QueueEntry) error {
				t.Fatal("commit on re-sweep")
				return nil
			})
			if err != nil || res.Matched != nil {
				t.Fatalf("round %d: %+v %v", round, res, err)
			}
		}
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d", q.Len())
	}
}
