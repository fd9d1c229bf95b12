// Package resolve picks the canonical wording when two corroborating facts
// disagree and builds the published story.
package resolve

import (
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/model"
)

// Rater supplies the per-source numbers the resolver needs.
type Rater interface {
	Rating(sourceID string) float64
	Display(sourceID string) string
	Compact(sourceID string) string
}

// Resolution is a built story plus the reliabilities that decided it.
type Resolution struct {
	Story             model.PublishedStory
	QueuedReliability float64
	NewReliability    float64
	Winner            string // source id whose text was chosen
}

// Resolver turns a matched pair into a PublishedStory.
type Resolver struct {
	rater Rater
	now   func() time.Time
	newID func() string
}

// New creates a resolver.
func New(rater Rater) *Resolver {
	return &Resolver{
		rater: rater,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// SetClock replaces the time source used for VerifiedAt.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Reliability is rating scaled by confidence.
func (r *Resolver) Reliability(f model.HeadlineFact) float64 {
	return r.rater.Rating(f.SourceID) * float64(f.Confidence) / 100
}

// Resolve chooses between a queued fact and the newly arrived one. The
// higher reliability wins; on a tie the newer fact wins. Both sources are
// credited either way and the story confidence is the lower of the two.
func (r *Resolver) Resolve(queued, incoming model.HeadlineFact) Resolution {
	rq := r.Reliability(queued)
	rn := r.Reliability(incoming)

	winner, other := incoming, queued
	switch {
	case rq > rn:
		winner, other = queued, incoming
	case rq == rn && queued.Timestamp.After(incoming.Timestamp):
		winner, other = queued, incoming
	}

	loc := winner.Location
	if loc.IsZero() {
		loc = other.Location
	}

	story := model.PublishedStory{
		ID:                r.newID(),
		CanonicalText:     winner.FactText,
		FactHash:          winner.Hash(),
		ContributingFacts: []model.HeadlineFact{queued, incoming},
		Sources:           []model.StorySource{r.credit(queued), r.credit(incoming)},
		Confidence:        min(queued.Confidence, incoming.Confidence),
		VerifiedAt:        r.now().UTC(),
		Location:          loc,
	}

	logging.Info("conflict resolved",
		"story", story.ID,
		"queued_source", queued.SourceID, "queued_reliability", rq,
		"new_source", incoming.SourceID, "new_reliability", rn,
		"winner", winner.SourceID)

	return Resolution{
		Story:             story,
		QueuedReliability: rq,
		NewReliability:    rn,
		Winner:            winner.SourceID,
	}
}

// AddSource credits a further independent source on a published story.
// The canonical text, ID and verification time are unchanged; the new
// fact's wording is kept among the contributing facts only.
func (r *Resolver) AddSource(story model.PublishedStory, f model.HeadlineFact) model.PublishedStory {
	out := story
	out.Sources = append(append(make([]model.StorySource, 0, len(story.Sources)+1), story.Sources...), r.credit(f))
	out.ContributingFacts = append(append(make([]model.HeadlineFact, 0, len(story.ContributingFacts)+1), story.ContributingFacts...), f)
	if out.Location.IsZero() {
		out.Location = f.Location
	}
	logging.Info("source added to story", "story", story.ID, "source", f.SourceID, "sources", len(out.Sources))
	return out
}

func (r *Resolver) credit(f model.HeadlineFact) model.StorySource {
	name := f.SourceName
	if name == "" {
		name = f.SourceID
	}
	return model.StorySource{
		ID:            f.SourceID,
		Name:          name,
		DisplayRating: r.rater.Display(f.SourceID),
		Scores:        r.rater.Compact(f.SourceID),
	}
}
