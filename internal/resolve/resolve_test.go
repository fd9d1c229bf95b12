package resolve

import (
	"testing"
	"time"

	"github.com/abelbrown/jtfnews/internal/model"
)

type fakeRater map[string]float64

func (f fakeRater) Rating(id string) float64 { return f[id] }
func (f fakeRater) Display(id string) string { return "r:" + id }
func (f fakeRater) Compact(id string) string { return "c:" + id }

func newTestResolver(r fakeRater) *Resolver {
	res := New(r)
	res.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	res.newID = func() string { return "story-1" }
	return res
}

func TestResolveHigherReliabilityWins(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	queued := model.HeadlineFact{SourceID: "reuters", FactText: "Earthquake measuring 6.2 struck Chile", Confidence: 95, Timestamp: t0}
	incoming := model.HeadlineFact{SourceID: "ap", FactText: "Earthquake measuring 6.2 struck Chile. Evacuations reported.", Confidence: 92, Timestamp: t0.Add(2 * time.Minute)}

	res := newTestResolver(fakeRater{"reuters": 9.5, "ap": 9.4}).Resolve(queued, incoming)

	if res.Winner != "reuters" {
		t.Errorf("winner = %s, want reuters (%.3f vs %.3f)", res.Winner, res.QueuedReliability, res.NewReliability)
	}
	s := res.Story
	if s.CanonicalText != queued.FactText {
		t.Errorf("canonical = %q", s.CanonicalText)
	}
	if s.FactHash != queued.Hash() {
		t.Errorf("fact hash = %q", s.FactHash)
	}
	if s.Confidence != 92 {
		t.Errorf("confidence = %d, want min 92", s.Confidence)
	}
	if len(s.Sources) != 2 || s.Sources[0].ID != "reuters" || s.Sources[1].ID != "ap" {
		t.Errorf("sources = %+v", s.Sources)
	}
	if s.Sources[1].DisplayRating != "r:ap" || s.Sources[1].Scores != "c:ap" {
		t.Errorf("credit not filled: %+v", s.Sources[1])
	}
	if len(s.ContributingFacts) != 2 {
		t.Errorf("contributing facts = %d", len(s.ContributingFacts))
	}
	if s.ID != "story-1" || s.VerifiedAt.IsZero() {
		t.Errorf("id/time not set: %+v", s)
	}
}

func TestResolveLowerRatedSourceCanWinOnConfidence(t *testing.T) {
	now := time.Now()
	queued := model.HeadlineFact{SourceID: "a", FactText: "A text", Confidence: 50, Timestamp: now}
	incoming := model.HeadlineFact{SourceID: "b", FactText: "B text", Confidence: 100, Timestamp: now}
	res := newTestResolver(fakeRater{"a": 9, "b": 6}).Resolve(queued, incoming)
	if res.Winner != "b" || res.Story.CanonicalText != "B text" {
		t.Errorf("winner = %s", res.Winner)
	}
}

func TestResolveTieNewerWins(t *testing.T) {
	t0 := time.Now()
	older := model.HeadlineFact{SourceID: "a", FactText: "older", Confidence: 90, Timestamp: t0}
	newer := model.HeadlineFact{SourceID: "b", FactText: "newer", Confidence: 90, Timestamp: t0.Add(time.Minute)}
	r := newTestResolver(fakeRater{"a": 8, "b": 8})

	if got := r.Resolve(older, newer).Story.CanonicalText; got != "newer" {
		t.Errorf("queued older: canonical = %q, want newer", got)
	}
	// Queue order does not matter: a queued fact stamped later still wins the tie.
	if got := r.Resolve(newer, older).Story.CanonicalText; got != "newer" {
		t.Errorf("queued newer: canonical = %q, want newer", got)
	}
}

func TestResolveLocationFallback(t *testing.T) {
	now := time.Now()
	queued := model.HeadlineFact{SourceID: "a", FactText: "x", Confidence: 90, Timestamp: now, Location: model.Location{Country: "Chile"}}
	incoming := model.HeadlineFact{SourceID: "b", FactText: "y", Confidence: 99, Timestamp: now}
	res := newTestResolver(fakeRater{"a": 5, "b": 9}).Resolve(queued, incoming)
	if res.Story.Location.Country != "Chile" {
		t.Errorf("location = %+v", res.Story.Location)
	}
}

func TestAddSource(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	r := newTestResolver(fakeRater{"reuters": 9.5, "ap": 9.4, "bbc": 8})
	queued := model.HeadlineFact{SourceID: "reuters", FactText: "Earthquake measuring 6.2 struck Chile", Confidence: 95, Timestamp: t0}
	incoming := model.HeadlineFact{SourceID: "ap", FactText: "Earthquake measuring 6.2 struck Chile", Confidence: 92, Timestamp: t0}
	story := r.Resolve(queued, incoming).Story

	third := model.HeadlineFact{SourceID: "bbc", SourceName: "BBC", FactText: "A 6.2 magnitude earthquake struck Chile", Confidence: 80, Timestamp: t0.Add(time.Hour)}
	got := r.AddSource(story, third)

	if ids := got.SourceIDs(); len(ids) != 3 || ids[2] != "bbc" {
		t.Errorf("sources = %v", ids)
	}
	if got.Sources[2].Name != "BBC" || got.Sources[2].DisplayRating != "r:bbc" {
		t.Errorf("credit = %+v", got.Sources[2])
	}
	if len(got.ContributingFacts) != 3 {
		t.Errorf("contributing facts = %d", len(got.ContributingFacts))
	}
	if got.ID != story.ID || got.CanonicalText != story.CanonicalText || got.Confidence != story.Confidence || !got.VerifiedAt.Equal(story.VerifiedAt) {
		t.Errorf("story identity changed: %+v", got)
	}
	if len(story.Sources) != 2 || len(story.ContributingFacts) != 2 {
		t.Error("AddSource modified its input")
	}
}
