package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/jtfnews/internal/alert"
	"github.com/abelbrown/jtfnews/internal/events"
	"github.com/abelbrown/jtfnews/internal/extract"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/model"
	"github.com/abelbrown/jtfnews/internal/retry"
)

// CycleStats summarizes one cycle.
type CycleStats struct {
	ID              string        `json:"id"`
	Started         time.Time     `json:"started"`
	Duration        time.Duration `json:"duration"`
	Fetched         int           `json:"fetched"`
	FetchErrors     int           `json:"fetch_errors"`
	Skipped         int           `json:"skipped"` // already processed today
	Extracted       int           `json:"extracted"`
	Malformed       int           `json:"malformed"`
	ExtractErrors   int           `json:"extract_errors"`
	Queued          int           `json:"queued"`
	Published       int           `json:"published"`
	Corroborated    int           `json:"corroborated"` // extra sources credited on published stories
	Discarded       int           `json:"discarded"`
	Expired         int           `json:"expired"`
	Redelivered     int           `json:"redelivered"`
	BudgetExhausted bool          `json:"budget_exhausted,omitempty"`
}

// Outcome is what happened to one extracted fact.
type Outcome string

const (
	OutcomeQueued       Outcome = "queued"
	OutcomePublished    Outcome = "published"
	OutcomeCorroborated Outcome = "corroborated"
	OutcomeDiscarded    Outcome = "discarded"
	OutcomeContradicted Outcome = "contradicted"
	OutcomeError        Outcome = "error"
)

// Discard reasons recorded on fact.discarded events.
const (
	ReasonNoFact           = "no_fact"
	ReasonInvalid          = "invalid"
	ReasonLowConfidence    = "low_confidence"
	ReasonNotNewsworthy    = "not_newsworthy"
	ReasonAlreadyPublished = "already_published"
	ReasonDuplicate        = "duplicate"
)

// cycle carries per-cycle state through the sequential phase.
type cycle struct {
	id     string
	stats  *CycleStats
	recent []model.PublishedStory // published inside the duplicate window
}

// RunCycle performs one full cycle. It returns ErrKillSwitch without doing
// any work when the kill switch file exists.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	if e.KillSwitchSet() {
		logging.Warn("kill switch present, skipping cycle", "path", e.cfg.KillSwitch)
		if e.events != nil {
			e.events.Warn(events.KindCycleSkipped, "engine", "kill switch present")
		}
		e.metrics.Cycles.WithLabelValues("skipped").Inc()
		return CycleStats{}, ErrKillSwitch
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return CycleStats{}, errors.New("engine not initialized")
	}

	wall := time.Now()
	st := CycleStats{ID: uuid.NewString()[:8], Started: e.now().UTC()}
	c := &cycle{id: st.ID, stats: &st}
	e.events.Emit(events.Event{Kind: events.KindCycleStart, Comp: "engine", CycleID: c.id})

	var errs []error

	n, err := e.emitter.Redeliver(ctx)
	st.Redelivered = n
	if err != nil {
		errs = append(errs, fmt.Errorf("redeliver: %w", err))
	}

	headlines := e.fetchAll(ctx, c)
	fresh := e.unprocessed(headlines, c)

	if e.budgetExhausted() {
		st.BudgetExhausted = true
		logging.Warn("daily extraction budget spent, skipping extraction", "budget", e.cfg.Extract.DailyBudget, "headlines", len(fresh))
		e.alerts.Notify(ctx, alert.CreditsLow, fmt.Sprintf("daily extraction budget of $%.2f spent, extraction paused", e.cfg.Extract.DailyBudget))
		fresh = nil
	}

	results := e.extractAll(ctx, fresh)

	recent, err := e.db.StoriesSince(e.now().Add(-e.cfg.Verify.DuplicateWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("load recent stories: %w", err))
	}
	c.recent = recent

	for _, r := range results {
		if ctx.Err() != nil {
			break
		}
		e.handleResult(ctx, c, r)
	}

	e.expire(c)
	e.checkThresholds(ctx)

	// Processed marks only matter for the current UTC day.
	if n, err := e.db.PruneProcessed(startOfDay(e.now()).Add(-24 * time.Hour)); err != nil {
		logging.Warn("prune caches failed", "err", err)
	} else if n > 0 {
		logging.Debug("pruned caches", "rows", n)
	}

	if err := e.queue.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := e.ratings.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush ratings: %w", err))
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	st.Duration = time.Since(wall)
	e.lastMu.Lock()
	e.last = st
	e.lastMu.Unlock()

	result := "ok"
	if len(errs) > 0 {
		result = "error"
	}
	e.metrics.Cycles.WithLabelValues(result).Inc()
	e.metrics.CycleDuration.Observe(st.Duration.Seconds())
	e.metrics.QueueLength.Set(float64(e.queue.Len()))
	e.events.Emit(events.Event{
		Kind:    events.KindCycleComplete,
		Comp:    "engine",
		CycleID: c.id,
		Dur:     st.Duration,
		Count:   st.Published,
		Extra: map[string]any{
			"fetched":      st.Fetched,
			"extracted":    st.Extracted,
			"queued":       st.Queued,
			"corroborated": st.Corroborated,
			"discarded":    st.Discarded,
			"expired":      st.Expired,
			"queue_len":    e.queue.Len(),
		},
	})
	logging.Info("cycle complete",
		"cycle", c.id, "fetched", st.Fetched, "skipped", st.Skipped,
		"extracted", st.Extracted, "published", st.Published, "corroborated", st.Corroborated, "queued", st.Queued,
		"discarded", st.Discarded, "expired", st.Expired, "dur", st.Duration.Round(time.Millisecond))

	return st, errors.Join(errs...)
}

// fetchAll fetches every source in parallel and returns the headlines in
// source order.
func (e *Engine) fetchAll(ctx context.Context, c *cycle) []model.Headline {
	sources := e.registry.Sources()
	perSource := make([][]model.Headline, len(sources))
	failed := make([]error, len(sources))

	policy := e.policy
	policy.CallTimeout = e.cfg.Timing.FetchTimeout

	var g errgroup.Group
	g.SetLimit(e.cfg.Timing.MaxConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed[i] = ctx.Err()
				return nil
			}
			start := time.Now()
			items, err := retry.Do(ctx, "fetch."+src.ID, policy, func(ctx context.Context) ([]model.Headline, error) {
				return e.fetcher.Fetch(ctx, src)
			})
			if err != nil {
				failed[i] = err
				e.metrics.FetchErrors.WithLabelValues(src.ID).Inc()
				e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindFetchError, Comp: "fetch",
					CycleID: c.id, Source: src.ID, Err: err.Error(), Dur: time.Since(start)})
				return nil // errors are reported per source
			}
			perSource[i] = items
			e.metrics.HeadlinesFetched.WithLabelValues(src.ID).Add(float64(len(items)))
			e.events.Emit(events.Event{Kind: events.KindFetchComplete, Comp: "fetch",
				CycleID: c.id, Source: src.ID, Count: len(items), Dur: time.Since(start)})
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Headline
	for i := range sources {
		if failed[i] != nil {
			c.stats.FetchErrors++
			continue
		}
		out = append(out, perSource[i]...)
	}
	c.stats.Fetched = len(out)

	if len(sources) > 0 && c.stats.FetchErrors == len(sources) && ctx.Err() == nil {
		e.alerts.Notify(ctx, alert.Offline, fmt.Sprintf("all %d sources failed to fetch", len(sources)))
	}
	return out
}

// unprocessed drops headlines already sent to the extractor today.
func (e *Engine) unprocessed(headlines []model.Headline, c *cycle) []model.Headline {
	since := startOfDay(e.now())
	seen := make(map[string]bool, len(headlines))
	var out []model.Headline
	for _, h := range headlines {
		key := h.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		done, err := e.db.Processed(h, since)
		if err != nil {
			logging.Warn("processed lookup failed", "source", h.SourceID, "err", err)
		}
		if done {
			c.stats.Skipped++
			continue
		}
		out = append(out, h)
	}
	return out
}

// extractAll runs the extractor over headlines in parallel, keeping order.
func (e *Engine) extractAll(ctx context.Context, headlines []model.Headline) []extract.Result {
	results := make([]extract.Result, len(headlines))
	var g errgroup.Group
	g.SetLimit(e.cfg.Timing.MaxConcurrency)
	for i, h := range headlines {
		g.Go(func() error {
			results[i] = e.extractor.Extract(ctx, h)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) handleResult(ctx context.Context, c *cycle, r extract.Result) {
	provider := e.opts.Provider.Name()
	h := r.Headline
	e.metrics.Extractions.WithLabelValues(r.Status.String()).Inc()

	switch r.Status {
	case extract.StatusError:
		// Left unprocessed so the next cycle tries again.
		c.stats.ExtractErrors++
		e.events.Emit(events.Event{Level: events.LevelError, Kind: events.KindExtractError, Comp: "extract",
			CycleID: c.id, Source: h.SourceID, Err: errString(r.Err), Msg: h.Title})
		e.failures.Failure(ctx, provider, r.Err)
		return
	case extract.StatusMalformed:
		c.stats.Malformed++
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindExtractMalformed, Comp: "extract",
			CycleID: c.id, Source: h.SourceID, Err: errString(r.Err), Msg: h.Title})
		e.failures.Success(provider)
		e.markProcessed(h)
		return
	}

	e.failures.Success(provider)
	c.stats.Extracted++
	if r.Parsed.Skip {
		e.markProcessed(h)
		e.discard(c, r.Fact, h.SourceID, ReasonNoFact)
		return
	}
	// A fact that failed to publish is not queued; leaving the headline
	// unmarked brings it back next cycle from the extraction cache.
	if e.process(ctx, c, r.Fact) != OutcomeError {
		e.markProcessed(h)
	}
}

func (e *Engine) markProcessed(h model.Headline) {
	if err := e.db.MarkProcessed(h, e.now()); err != nil {
		logging.Warn("mark processed failed", "source", h.SourceID, "err", err)
	}
}

// Submit runs one already-extracted fact through the corroboration step
// outside a cycle. The queue is saved before it returns.
func (e *Engine) Submit(ctx context.Context, fact model.HeadlineFact) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return OutcomeError, errors.New("engine not initialized")
	}
	recent, err := e.db.StoriesSince(e.now().Add(-e.cfg.Verify.DuplicateWindow))
	if err != nil {
		return OutcomeError, fmt.Errorf("load recent stories: %w", err)
	}
	fact.Entities = e.entities.ExtractFact(fact)
	c := &cycle{id: "submit", stats: &CycleStats{}, recent: recent}
	out := e.process(ctx, c, fact)
	if err := e.queue.Save(); err != nil {
		return out, err
	}
	return out, nil
}

// process decides a fact's fate: discard, publish with a queued partner,
// or queue.
func (e *Engine) process(ctx context.Context, c *cycle, fact model.HeadlineFact) Outcome {
	if err := fact.Validate(); err != nil {
		return e.discard(c, fact, fact.SourceID, ReasonInvalid)
	}
	if !fact.Newsworthy {
		return e.discard(c, fact, fact.SourceID, ReasonNotNewsworthy)
	}
	if fact.Confidence < e.cfg.Verify.MinConfidence {
		return e.discard(c, fact, fact.SourceID, ReasonLowConfidence)
	}
	if i := e.recentMatch(c, fact); i >= 0 {
		return e.corroborate(ctx, c, i, fact)
	}

	var published bool
	res, err := e.queue.SweepMatch(fact, e.registry.Independent, func(entry model.QueueEntry) error {
		if err := e.publish(ctx, c, entry.Fact, fact); err != nil {
			return err
		}
		published = true
		return nil
	})
	switch {
	case errors.Is(err, errContradiction):
		c.stats.Discarded++
		e.metrics.Facts.WithLabelValues(string(OutcomeContradicted)).Inc()
		return OutcomeContradicted
	case err != nil:
		logging.Error("publish failed, headline retried next cycle", "source", fact.SourceID, "fact", fact.FactText, "err", err)
		e.events.Emit(events.Event{Level: events.LevelError, Kind: events.KindError, Comp: "engine",
			CycleID: c.id, Source: fact.SourceID, FactHash: fact.Hash(), Err: err.Error()})
		e.metrics.Facts.WithLabelValues(string(OutcomeError)).Inc()
		return OutcomeError
	case published:
		c.stats.Published++
		e.metrics.Facts.WithLabelValues(string(OutcomePublished)).Inc()
		return OutcomePublished
	}

	if res.RelatedHits > 0 {
		logging.Info("match rejected on ownership", "source", fact.SourceID, "related_hits", res.RelatedHits)
	}

	entry, err := e.queue.Enqueue(fact)
	if err != nil {
		return e.discard(c, fact, fact.SourceID, ReasonDuplicate)
	}
	c.stats.Queued++
	e.metrics.Facts.WithLabelValues(string(OutcomeQueued)).Inc()
	e.events.Emit(events.Event{Kind: events.KindFactQueued, Comp: "queue", CycleID: c.id,
		Source: fact.SourceID, FactHash: entry.FactHash, Msg: fact.FactText,
		Extra: map[string]any{"expires_at": entry.ExpiresAt}})
	logging.Info("fact queued", "source", fact.SourceID, "hash", entry.FactHash, "fact", fact.FactText)
	return OutcomeQueued
}

// recentMatch returns the index of the recent story fact repeats, by hash
// or by matching its entities, or -1. A matching fact whose numbers disagree
// is not a repeat; it is left to the contradiction guard.
func (e *Engine) recentMatch(c *cycle, fact model.HeadlineFact) int {
	hash := fact.Hash()
	for i, s := range c.recent {
		if s.FactHash == hash {
			return i
		}
		for _, f := range s.ContributingFacts {
			if f.Hash() == hash {
				return i
			}
			if e.matcher.Match(f, fact).Match && !match.Contradicts(f, fact) {
				return i
			}
		}
	}
	return -1
}

// corroborate credits fact's source on the published story it repeats. A
// source already credited, or one related to any credited source, only
// repeats the story and is discarded.
func (e *Engine) corroborate(ctx context.Context, c *cycle, i int, fact model.HeadlineFact) Outcome {
	story := c.recent[i]
	for _, src := range story.Sources {
		if src.ID == fact.SourceID {
			return e.discard(c, fact, fact.SourceID, ReasonAlreadyPublished)
		}
		ok, err := e.registry.Independent(src.ID, fact.SourceID)
		if err != nil {
			logging.Warn("ownership ambiguous, treating as related",
				"story_source", src.ID, "new_source", fact.SourceID, "err", err)
		}
		if !ok {
			return e.discard(c, fact, fact.SourceID, ReasonAlreadyPublished)
		}
	}

	updated := e.resolver.AddSource(story, fact)
	report, err := e.emitter.Revise(ctx, updated)
	if err != nil {
		logging.Error("story update failed, headline retried next cycle", "story", story.ID, "source", fact.SourceID, "err", err)
		e.events.Emit(events.Event{Level: events.LevelError, Kind: events.KindError, Comp: "engine",
			CycleID: c.id, Source: fact.SourceID, FactHash: fact.Hash(), StoryID: story.ID, Err: err.Error()})
		e.metrics.Facts.WithLabelValues(string(OutcomeError)).Inc()
		return OutcomeError
	}
	if derr := report.Err(); derr != nil {
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindDeliveryError, Comp: "publish",
			CycleID: c.id, StoryID: story.ID, Err: derr.Error()})
	}

	if err := e.ratings.RecordSuccess(fact.SourceID, story.FactHash); err != nil {
		logging.Error("record success failed", "source", fact.SourceID, "err", err)
	} else {
		e.events.Emit(events.Event{Kind: events.KindRatingEvent, Comp: "ratings", CycleID: c.id,
			Source: fact.SourceID, FactHash: story.FactHash, Msg: string(model.EventSuccess)})
	}

	c.recent[i] = updated
	c.stats.Corroborated++
	e.metrics.Facts.WithLabelValues(string(OutcomeCorroborated)).Inc()
	e.events.Emit(events.Event{Kind: events.KindStoryUpdated, Comp: "publish", CycleID: c.id,
		Source: fact.SourceID, StoryID: story.ID, FactHash: story.FactHash, Msg: fact.FactText, Count: len(updated.Sources),
		Extra: map[string]any{
			"sources":   updated.SourceIDs(),
			"delivered": report.Delivered,
		}})
	return OutcomeCorroborated
}

// publish resolves and emits a matched pair. It runs inside SweepMatch; a
// returned error keeps the queued entry.
func (e *Engine) publish(ctx context.Context, c *cycle, queued, incoming model.HeadlineFact) error {
	if match.Contradicts(queued, incoming) {
		return e.contradiction(ctx, c, incoming, queued.FactText)
	}

	res := e.resolver.Resolve(queued, incoming)
	story := res.Story
	canonical := queued
	if res.Winner == incoming.SourceID {
		canonical = incoming
	}
	for _, s := range c.recent {
		for _, f := range s.ContributingFacts {
			if e.matcher.Match(f, canonical).Match && match.Contradicts(f, canonical) {
				return e.contradiction(ctx, c, incoming, s.CanonicalText)
			}
		}
	}

	report, err := e.emitter.Emit(ctx, story)
	if err != nil {
		return err
	}
	if derr := report.Err(); derr != nil {
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindDeliveryError, Comp: "publish",
			CycleID: c.id, StoryID: story.ID, Err: derr.Error()})
	}

	// The story is archived; rating errors must not undo it.
	for _, f := range []model.HeadlineFact{queued, incoming} {
		if err := e.ratings.RecordSuccess(f.SourceID, f.Hash()); err != nil {
			logging.Error("record success failed", "source", f.SourceID, "err", err)
			continue
		}
		e.events.Emit(events.Event{Kind: events.KindRatingEvent, Comp: "ratings", CycleID: c.id,
			Source: f.SourceID, FactHash: f.Hash(), Msg: string(model.EventSuccess)})
	}

	c.recent = append(c.recent, story)
	e.metrics.StoriesPublished.Inc()
	e.events.Emit(events.Event{Kind: events.KindStoryPublished, Comp: "publish", CycleID: c.id,
		StoryID: story.ID, FactHash: story.FactHash, Msg: story.CanonicalText, Count: len(story.Sources),
		Extra: map[string]any{
			"sources":   story.SourceIDs(),
			"winner":    res.Winner,
			"delivered": report.Delivered,
		}})
	return nil
}

func (e *Engine) contradiction(ctx context.Context, c *cycle, fact model.HeadlineFact, other string) error {
	logging.Warn("contradiction blocked publication", "source", fact.SourceID, "fact", fact.FactText, "conflicts_with", other)
	e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindFactContradicted, Comp: "engine",
		CycleID: c.id, Source: fact.SourceID, FactHash: fact.Hash(), Msg: fact.FactText,
		Extra: map[string]any{"conflicts_with": other}})
	e.alerts.Notify(ctx, alert.Contradiction, fmt.Sprintf("contradiction: %q (%s) vs %q", fact.FactText, fact.SourceID, other))
	return errContradiction
}

func (e *Engine) discard(c *cycle, fact model.HeadlineFact, source, reason string) Outcome {
	c.stats.Discarded++
	e.metrics.Facts.WithLabelValues(string(OutcomeDiscarded)).Inc()
	var hash string
	if fact.FactText != "" {
		hash = fact.Hash()
	}
	e.events.Emit(events.Event{Kind: events.KindFactDiscarded, Comp: "engine", CycleID: c.id,
		Source: source, FactHash: hash, Reason: reason, Msg: fact.FactText})
	logging.Debug("fact discarded", "source", source, "reason", reason, "fact", fact.FactText)
	return OutcomeDiscarded
}

// expire removes timed-out entries, charging a failure to each source.
func (e *Engine) expire(c *cycle) {
	expired, err := e.queue.SweepExpire(e.now(), e.ratings)
	if err != nil {
		logging.Error("expire sweep incomplete", "err", err)
	}
	for _, entry := range expired {
		c.stats.Expired++
		e.metrics.QueueExpired.WithLabelValues(entry.Fact.SourceID).Inc()
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindQueueExpired, Comp: "queue",
			CycleID: c.id, Source: entry.Fact.SourceID, FactHash: entry.FactHash, Msg: entry.Fact.FactText})
		e.events.Emit(events.Event{Kind: events.KindRatingEvent, Comp: "ratings", CycleID: c.id,
			Source: entry.Fact.SourceID, FactHash: entry.FactHash, Msg: string(model.EventFailure)})
		logging.Info("fact expired unverified", "source", entry.Fact.SourceID, "hash", entry.FactHash)
	}
}

func (e *Engine) budgetExhausted() bool {
	if e.cfg.Extract.DailyBudget <= 0 {
		return false
	}
	_, cost, _ := e.usage.Today()
	return cost >= e.cfg.Extract.DailyBudget
}

// checkThresholds raises queue_backup and credits_low alerts.
func (e *Engine) checkThresholds(ctx context.Context) {
	if limit := e.cfg.Verify.QueueBackupThreshold; limit > 0 {
		if n := e.queue.Len(); n > limit {
			e.alerts.Notify(ctx, alert.QueueBackup, fmt.Sprintf("queue backed up: %d facts waiting (threshold %d)", n, limit))
		}
	}

	_, cost, _ := e.usage.Today()
	e.metrics.CostToday.Set(cost)
	if budget := e.cfg.Extract.DailyBudget; budget > 0 && cost >= budget*creditsWarnRatio && cost < budget {
		e.alerts.Notify(ctx, alert.CreditsLow, fmt.Sprintf("extraction spend $%.2f is %.0f%% of the $%.2f daily budget", cost, 100*cost/budget, budget))
	}
}

// LastCycle returns the stats of the most recent completed cycle.
func (e *Engine) LastCycle() CycleStats {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
