// Package publish turns a verified story into outputs.
//
// The SQLite archive is the commit point: once a story is saved there it is
// published, and every consumer (stories.json, the daily text log, the
// Telegram channel) receives it exactly once through the delivery ledger.
// Failed deliveries stay pending and are retried by Redeliver.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/model"
)

// Consumer receives published stories.
type Consumer interface {
	Name() string
	Deliver(ctx context.Context, story model.PublishedStory) error
}

// Reviser is a consumer that also accepts updates to stories it already
// holds, such as a new corroborating source.
type Reviser interface {
	Consumer
	AcceptsRevisions() bool
}

// Ledger archives stories and tracks per-consumer delivery.
type Ledger interface {
	SaveStory(story model.PublishedStory, consumers []string) (bool, error)
	ReviseStory(story model.PublishedStory, consumers []string) error
	Pending(consumer string) ([]model.PublishedStory, error)
	MarkDelivered(storyID, consumer string, at time.Time) (bool, error)
	RecordDeliveryFailure(storyID, consumer string, cause error) error
}

// Report lists the outcome per consumer for one story.
type Report struct {
	StoryID   string
	Delivered []string
	Failed    map[string]error
}

// Err joins the delivery failures, or returns nil.
func (r Report) Err() error {
	var errs []error
	for name, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Emitter archives a story and fans it out to consumers.
type Emitter struct {
	ledger    Ledger
	consumers []Consumer
	now       func() time.Time

	// OnDelivered is called after each successful delivery.
	OnDelivered func(consumer string)
}

// NewEmitter creates an emitter. Consumers are delivered to in order.
func NewEmitter(ledger Ledger, consumers ...Consumer) *Emitter {
	return &Emitter{ledger: ledger, consumers: consumers, now: time.Now}
}

// SetClock replaces the time source for delivery timestamps.
func (e *Emitter) SetClock(now func() time.Time) { e.now = now }

// Consumers returns the configured consumer names.
func (e *Emitter) Consumers() []string {
	names := make([]string, len(e.consumers))
	for i, c := range e.consumers {
		names[i] = c.Name()
	}
	return names
}

// Emit archives story and delivers it. The returned error is non-nil only
// when archiving failed, in which case nothing was published. Consumer
// failures are reported and left for Redeliver.
func (e *Emitter) Emit(ctx context.Context, story model.PublishedStory) (Report, error) {
	if len(story.ContributingFacts) < 2 {
		return Report{}, fmt.Errorf("story %s has %d contributing facts, need 2", story.ID, len(story.ContributingFacts))
	}

	isNew, err := e.ledger.SaveStory(story, e.Consumers())
	if err != nil {
		return Report{}, fmt.Errorf("archive story %s: %w", story.ID, err)
	}
	if !isNew {
		logging.Warn("story already archived", "story", story.ID)
	}

	logging.Info("story published", "story", story.ID, "sources", story.SourceIDs(), "fact", story.CanonicalText)

	report := Report{StoryID: story.ID}
	for _, c := range e.consumers {
		e.deliver(ctx, c, story, &report)
	}
	return report, nil
}

// Revise replaces an archived story and redelivers it to the consumers that
// accept revisions. Other consumers keep the version they already received.
// The returned error is non-nil only when the archive update failed.
func (e *Emitter) Revise(ctx context.Context, story model.PublishedStory) (Report, error) {
	var revisers []Consumer
	var names []string
	for _, c := range e.consumers {
		if r, ok := c.(Reviser); ok && r.AcceptsRevisions() {
			revisers = append(revisers, c)
			names = append(names, c.Name())
		}
	}
	if err := e.ledger.ReviseStory(story, names); err != nil {
		return Report{}, fmt.Errorf("revise story %s: %w", story.ID, err)
	}

	logging.Info("story revised", "story", story.ID, "sources", story.SourceIDs())

	report := Report{StoryID: story.ID}
	for _, c := range revisers {
		e.deliver(ctx, c, story, &report)
	}
	return report, nil
}

// Redeliver retries every pending delivery. It returns how many deliveries
// succeeded.
func (e *Emitter) Redeliver(ctx context.Context) (int, error) {
	var n int
	var errs []error
	for _, c := range e.consumers {
		pending, err := e.ledger.Pending(c.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("pending for %s: %w", c.Name(), err))
			continue
		}
		for _, story := range pending {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			var r Report
			e.deliver(ctx, c, story, &r)
			n += len(r.Delivered)
		}
	}
	if n > 0 {
		logging.Info("redelivered stories", "count", n)
	}
	return n, errors.Join(errs...)
}

func (e *Emitter) deliver(ctx context.Context, c Consumer, story model.PublishedStory, r *Report) {
	name := c.Name()
	if err := c.Deliver(ctx, story); err != nil {
		logging.Warn("delivery failed", "story", story.ID, "consumer", name, "err", err)
		if lerr := e.ledger.RecordDeliveryFailure(story.ID, name, err); lerr != nil {
			logging.Error("record delivery failure", "story", story.ID, "consumer", name, "err", lerr)
		}
		if r.Failed == nil {
			r.Failed = make(map[string]error)
		}
		r.Failed[name] = err
		return
	}
	if _, err := e.ledger.MarkDelivered(story.ID, name, e.now()); err != nil {
		logging.Error("mark delivered", "story", story.ID, "consumer", name, "err", err)
		if r.Failed == nil {
			r.Failed = make(map[string]error)
		}
		r.Failed[name] = err
		return
	}
	r.Delivered = append(r.Delivered, name)
	if e.OnDelivered != nil {
		e.OnDelivered(name)
	}
}
