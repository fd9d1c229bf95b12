// Package engine runs the verification cycle: fetch headlines, extract
// facts, corroborate them against the pending queue and publish what two
// independent sources agree on.
//
// One Engine is the single writer of the queue, the rating ledger and the
// story archive. Cycles never overlap; context cancellation is the only
// stop mechanism besides the kill switch file.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/abelbrown/jtfnews/internal/alert"
	"github.com/abelbrown/jtfnews/internal/config"
	"github.com/abelbrown/jtfnews/internal/entity"
	"github.com/abelbrown/jtfnews/internal/events"
	"github.com/abelbrown/jtfnews/internal/extract"
	"github.com/abelbrown/jtfnews/internal/fetch"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/metrics"
	"github.com/abelbrown/jtfnews/internal/ownership"
	"github.com/abelbrown/jtfnews/internal/publish"
	"github.com/abelbrown/jtfnews/internal/queue"
	"github.com/abelbrown/jtfnews/internal/ratings"
	"github.com/abelbrown/jtfnews/internal/resolve"
	"github.com/abelbrown/jtfnews/internal/retry"
	"github.com/abelbrown/jtfnews/internal/store"
)

// ErrKillSwitch is returned by RunCycle and Run when the kill switch file
// exists.
var ErrKillSwitch = errors.New("kill switch present")

// errContradiction blocks a match whose wording conflicts with a published
// or corroborating fact.
var errContradiction = errors.New("contradicts published fact")

// creditsWarnRatio is the share of the daily budget that raises credits_low.
const creditsWarnRatio = 0.8

// Options are the injected collaborators. Zero values select the
// production implementations built from the config.
type Options struct {
	Fetcher     fetch.Fetcher
	Provider    extract.Provider // required
	AlertSender alert.Sender
	Consumers   []publish.Consumer // delivered after stories.json and the text log
	Events      *events.Logger
	Metrics     *metrics.Metrics

	// Sleep replaces the retry backoff wait.
	Sleep func(ctx context.Context, d time.Duration) error

	Now func() time.Time
}

// Engine owns all pipeline state.
type Engine struct {
	cfg  *config.Config
	opts Options
	now  func() time.Time

	// mu serializes cycles and every write to the queue, ledger and archive.
	mu sync.Mutex

	registry  *ownership.Registry
	matcher   match.WeightedOverlap
	entities  *entity.Extractor
	queue     *queue.Queue
	ratings   *ratings.Store
	resolver  *resolve.Resolver
	db        *store.Store
	emitter   *publish.Emitter
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	usage     *extract.Usage
	policy    retry.Policy
	alerts    *alert.Throttler
	failures  *alert.FailureTracker
	events    *events.Logger
	ring      *events.RingBuffer
	metrics   *metrics.Metrics

	lastMu  sync.Mutex
	last    CycleStats
	started bool
}

// New validates the configuration and prepares an engine. Nothing touches
// disk until Init.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Provider == nil {
		return nil, errors.New("engine: no extraction provider")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		cfg:      cfg,
		opts:     opts,
		now:      now,
		registry: ownership.NewRegistry(cfg.Sources, cfg.Verify.OwnershipHolderPercentThreshold),
		matcher: match.WeightedOverlap{
			MinShared: cfg.Match.MinShared,
			MinScore:  cfg.Match.MinScore,
			Weights:   cfg.Match.Weights,
		},
		entities: entity.NewExtractor(aliases(cfg.Match)),
		fetcher:  opts.Fetcher,
		policy: retry.Policy{
			MaxRetries:  cfg.Retry.MaxRetries,
			BaseDelay:   cfg.Retry.BaseDelay,
			CallTimeout: cfg.Retry.CallTimeout,
			Sleep:       opts.Sleep,
		},
		ring:    events.NewRingBuffer(events.DefaultRingSize),
		metrics: opts.Metrics,
	}
	if e.fetcher == nil {
		e.fetcher = fetch.NewRSSFetcher(cfg.Timing.FetchTimeout)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	sender := opts.AlertSender
	if sender == nil {
		sender = alert.LogSender{}
	}
	overrides := make(map[alert.AlertType]time.Duration, len(cfg.Alerts.Cooldowns))
	for name, d := range cfg.Alerts.Cooldowns {
		typ, ok := alert.ParseType(name)
		if !ok {
			logging.Warn("unknown alert type in cooldowns", "type", name)
			continue
		}
		overrides[typ] = d
	}
	e.alerts = alert.NewThrottler(sender, overrides, cfg.Alerts.MaxPerMinute)
	e.alerts.OnSent = func(typ alert.AlertType) {
		e.metrics.AlertsSent.WithLabelValues(typ.String()).Inc()
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindAlertSent, Comp: "alert", Msg: typ.String()})
	}
	e.failures = alert.NewFailureTracker(e.alerts, cfg.Alerts.FailureThreshold)
	return e, nil
}

func aliases(m config.MatchConfig) *entity.AliasTable {
	base := entity.DefaultAliases()
	if len(m.Aliases) == 0 {
		return base
	}
	ver := m.AliasesVer
	if ver == "" {
		ver = base.Version + "+local"
	}
	return base.Extend(ver, m.Aliases)
}

// Init opens persistent state: the story database, the rating ledger, the
// queue file and the event journal.
func (e *Engine) Init() (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already initialized")
	}

	if err := os.MkdirAll(e.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	e.events = e.opts.Events
	if e.events == nil {
		l, openErr := events.Open(e.cfg.DataDir)
		if openErr != nil {
			return openErr
		}
		e.events = l
		// Release the journal if a later step fails.
		defer func() {
			if err != nil {
				l.Close()
				e.events = nil
			}
		}()
	}
	e.events.SetRingBuffer(e.ring)

	db, err := store.Open(e.cfg.Path(store.FileName))
	if err != nil {
		return err
	}
	e.db = db
	defer func() {
		if err != nil {
			e.closeStores()
			e.db, e.ratings = nil, nil
		}
	}()

	rs, drift, err := ratings.Open(e.cfg.DataDir, e.cfg.Sources, e.cfg.Verify.ColdStartThreshold)
	if err != nil {
		return err
	}
	e.ratings = rs
	if len(drift) > 0 {
		e.events.Emit(events.Event{Level: events.LevelWarn, Kind: events.KindError, Comp: "ratings",
			Msg: "ratings cache drift, audit log wins", Count: len(drift)})
		// Rewrite the cache so the next start sees no drift.
		if err := rs.Flush(); err != nil {
			logging.Warn("ratings cache rewrite failed", "err", err)
		}
	}
	if err := e.metrics.Register(metrics.NewRatingsCollector(rs)); err != nil {
		logging.Warn("ratings collector not registered", "err", err)
	}
	e.resolver = resolve.New(rs)
	e.resolver.SetClock(e.now)

	e.queue = queue.New(e.cfg.Path(queue.FileName), e.matcher, e.cfg.Verify.QueueTimeout, e.cfg.Verify.DuplicateWindow)
	e.queue.SetClock(e.now)
	if err := e.queue.Load(); err != nil {
		return err
	}
	e.reseedSeen()

	stories := publish.NewStoriesFile(e.cfg.Path(publish.StoriesFileName))
	stories.SetClock(e.now)
	consumers := []publish.Consumer{stories, publish.NewTextLog(e.cfg.Path(publish.ArchiveDir))}
	consumers = append(consumers, e.opts.Consumers...)
	e.emitter = publish.NewEmitter(db, consumers...)
	e.emitter.SetClock(e.now)
	e.emitter.OnDelivered = func(consumer string) {
		e.metrics.Deliveries.WithLabelValues(consumer).Inc()
	}

	e.usage = extract.NewUsage(extract.Pricing{
		InputPerMTok:  e.cfg.Extract.InputPerMTok,
		OutputPerMTok: e.cfg.Extract.OutputPerMTok,
	}, db)
	e.usage.SetClock(e.now)
	e.extractor = extract.NewExtractor(e.opts.Provider, extract.Options{
		Policy:        e.policy,
		RatePerSecond: e.cfg.Extract.RatePerSecond,
		Burst:         e.cfg.Extract.Burst,
		Cache:         db,
		Usage:         e.usage,
		Entities:      e.entities,
		Now:           e.now,
	})

	e.started = true
	e.metrics.QueueLength.Set(float64(e.queue.Len()))
	e.events.Emit(events.Event{Kind: events.KindStartup, Comp: "engine",
		Count: e.queue.Len(), Msg: fmt.Sprintf("%d sources", e.registry.Len())})
	logging.Info("engine initialized",
		"data_dir", e.cfg.DataDir, "sources", e.registry.Len(),
		"queued", e.queue.Len(), "provider", e.opts.Provider.Name())
	return nil
}

// reseedSeen marks recently published hashes so a restart cannot queue a
// fact that was already verified.
func (e *Engine) reseedSeen() {
	recent, err := e.db.StoriesSince(e.now().Add(-e.cfg.Verify.DuplicateWindow))
	if err != nil {
		logging.Warn("could not reseed published hashes", "err", err)
		return
	}
	for _, s := range recent {
		for _, f := range s.ContributingFacts {
			e.queue.MarkSeen(f.Hash(), s.VerifiedAt)
		}
	}
}

// Run executes a cycle immediately and then every CycleInterval until ctx
// is cancelled or the kill switch appears.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Timing.CycleInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, ErrKillSwitch) || ctx.Err() != nil {
				return err
			}
			logging.Error("cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// KillSwitchSet reports whether the kill switch file exists.
func (e *Engine) KillSwitchSet() bool {
	if e.cfg.KillSwitch == "" {
		return false
	}
	_, err := os.Stat(e.cfg.KillSwitch)
	return err == nil
}

// Close persists the queue and ratings and releases every file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	var errs []error
	if err := e.queue.Save(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, e.closeStores())
	e.events.Emit(events.Event{Kind: events.KindShutdown, Comp: "engine", Count: e.queue.Len()})
	e.events.Close()
	return errors.Join(errs...)
}

func (e *Engine) closeStores() error {
	var errs []error
	if e.ratings != nil {
		if err := e.ratings.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Events returns the in-memory event ring.
func (e *Engine) Events() *events.RingBuffer { return e.ring }

// Store returns the story database. Valid after Init.
func (e *Engine) Store() *store.Store { return e.db }

// Queue returns the pending fact queue. Valid after Init.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Ratings returns the rating ledger. Valid after Init.
func (e *Engine) Ratings() *ratings.Store { return e.ratings }
