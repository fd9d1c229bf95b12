package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/jtfnews/internal/config"
	"github.com/abelbrown/jtfnews/internal/events"
	"github.com/abelbrown/jtfnews/internal/extract"
	"github.com/abelbrown/jtfnews/internal/model"
	"github.com/abelbrown/jtfnews/internal/publish"
	"github.com/abelbrown/jtfnews/internal/queue"
	"github.com/abelbrown/jtfnews/internal/retry"
	"github.com/abelbrown/jtfnews/internal/store"
	_ "modernc.org/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mockFetcher serves canned headlines per source.
type mockFetcher struct {
	mu         sync.Mutex
	headlines  map[string][]string
	fetchCount atomic.Int32
}

func (m *mockFetcher) set(sourceID string, titles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headlines == nil {
		m.headlines = make(map[string][]string)
	}
	m.headlines[sourceID] = titles
}

func (m *mockFetcher) Fetch(_ context.Context, src model.Source) ([]model.Headline, error) {
	m.fetchCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Headline
	for _, title := range m.headlines[src.ID] {
		out = append(out, model.Headline{SourceID: src.ID, SourceName: src.Name, Title: title})
	}
	return out, nil
}

// mockProvider answers by headline title.
type mockProvider struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
	calls   atomic.Int32
}

func (p *mockProvider) reply(title, fact string, confidence int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replies == nil {
		p.replies = make(map[string]string)
	}
	p.replies[title] = fmt.Sprintf(`{"fact": %q, "confidence": %d, "newsworthy": true}`, fact, confidence)
}

func (p *mockProvider) Name() string    { return "mock" }
func (p *mockProvider) Available() bool { return true }

func (p *mockProvider) Complete(_ context.Context, _, prompt string) (extract.Completion, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return extract.Completion{}, p.err
	}
	text, ok := p.replies[prompt]
	if !ok {
		text = `{"fact": "SKIP", "confidence": 0, "newsworthy": false}`
	}
	return extract.Completion{Text: text, InputTokens: 1000, OutputTokens: 100}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSender) Send(_ context.Context, text string) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, text)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

type harness struct {
	cfg      *config.Config
	clock    *fakeClock
	fetcher  *mockFetcher
	provider *mockProvider
	alerts   *recordingSender
	engine   *Engine

	mu     sync.Mutex
	delays []time.Duration
}

func source(id, owner string, baseline float64) model.Source {
	return model.Source{ID: id, Name: strings.ToUpper(id), OwnerGroup: owner, BaselineRating: baseline}
}

func testConfig(t *testing.T, sources ...model.Source) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.KillSwitch = filepath.Join(cfg.DataDir, "stop")
	cfg.Sources = sources
	cfg.Extract.RatePerSecond = 0
	cfg.Timing.MaxConcurrency = 1
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		cfg:      cfg,
		clock:    newClock(),
		fetcher:  &mockFetcher{},
		provider: &mockProvider{},
		alerts:   &recordingSender{},
	}
	h.start(t)
	return h
}

// start builds and initializes an engine over the harness state.
func (h *harness) start(t *testing.T) {
	t.Helper()
	e, err := New(h.cfg, Options{
		Fetcher:     h.fetcher,
		Provider:    h.provider,
		AlertSender: h.alerts,
		Events:      events.Discard(),
		Now:         h.clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			h.delays = append(h.delays, d)
			h.mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h.engine = e
	t.Cleanup(func() { e.Close() })
}

func (h *harness) cycle(t *testing.T) CycleStats {
	t.Helper()
	st, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return st
}

func TestScenarioCorroboratedStoryPublished(t *testing.T) {
	cfg := testConfig(t,
		source("reuters", "Thomson", 9.5),
		source("ap", "Cooperative", 9.4),
	)
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)

	st := h.cycle(t)
	if st.Queued != 1 || st.Published != 0 {
		t.Fatalf("first cycle: queued=%d published=%d, want 1/0", st.Queued, st.Published)
	}

	h.clock.Advance(2 * time.Minute)
	h.fetcher.set("ap", "Chile quake prompts evacuations")
	h.provider.reply("Chile quake prompts evacuations", "Earthquake measuring 6.2 struck Chile. Evacuations reported.", 92)

	st = h.cycle(t)
	if st.Published != 1 {
		t.Fatalf("second cycle published %d, want 1", st.Published)
	}
	if st.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (reuters headline already processed)", st.Skipped)
	}
	if n := h.engine.Queue().Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}

	stories, err := h.engine.Store().StoriesOn(h.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 {
		t.Fatalf("expected 1 archived story, got %d", len(stories))
	}
	story := stories[0]
	ids := story.SourceIDs()
	if len(ids) != 2 || ids[0] != "reuters" || ids[1] != "ap" {
		t.Errorf("credited sources = %v, want [reuters ap]", ids)
	}
	// reuters: 9.5*0.95 beats ap: 9.4*0.92
	if story.CanonicalText != "Earthquake measuring 6.2 struck Chile" {
		t.Errorf("canonical text = %q", story.CanonicalText)
	}
	if story.Confidence != 92 {
		t.Errorf("confidence = %d, want 92", story.Confidence)
	}

	for _, id := range []string{"reuters", "ap"} {
		if c := h.engine.Ratings().Counts(id); c.Successes != 1 || c.Failures != 0 {
			t.Errorf("%s counts = %+v, want 1 success", id, c)
		}
	}

	day, err := publish.ReadDay(cfg.Path(publish.StoriesFileName))
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(day.Stories) != 1 || day.Latest != story.ID {
		t.Errorf("stories.json = %+v", day)
	}
	logPath := publish.NewTextLog(cfg.Path(publish.ArchiveDir)).Path(h.clock.Now())
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("text log: %v", err)
	}
	if !strings.Contains(string(data), "|REUTERS,AP|") {
		t.Errorf("text log missing story line:\n%s", data)
	}
	for _, consumer := range []string{"stories_json", "textlog"} {
		pending, err := h.engine.Store().Pending(consumer)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 0 {
			t.Errorf("%s has %d undelivered stories", consumer, len(pending))
		}
	}
}

func TestScenarioLoneFactExpires(t *testing.T) {
	cfg := testConfig(t,
		source("reuters", "Thomson", 9.5),
		source("ap", "Cooperative", 9.4),
	)
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)
	h.cycle(t)

	h.fetcher.set("reuters")
	h.clock.Advance(cfg.Verify.QueueTimeout + time.Minute)
	st := h.cycle(t)

	if st.Expired != 1 {
		t.Fatalf("expired = %d, want 1", st.Expired)
	}
	if n := h.engine.Queue().Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
	if c := h.engine.Ratings().Counts("reuters"); c.Failures != 1 || c.Successes != 0 {
		t.Errorf("reuters counts = %+v, want 1 failure", c)
	}
	stories, err := h.engine.Store().StoriesSince(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 0 {
		t.Errorf("expected no stories, got %d", len(stories))
	}
}

func TestScenarioSameOwnerNeverPublished(t *testing.T) {
	cfg := testConfig(t,
		source("cnn", "Warner Bros. Discovery", 8.0),
		source("hln", "Warner Bros. Discovery", 7.5),
	)
	h := newHarness(t, cfg)

	h.fetcher.set("cnn", "Jakarta floods")
	h.fetcher.set("hln", "Floods in Jakarta")
	h.provider.reply("Jakarta floods", "Floods displaced 5,000 people in Jakarta", 90)
	h.provider.reply("Floods in Jakarta", "Floods displaced 5,000 residents in Jakarta", 90)

	st := h.cycle(t)
	if st.Published != 0 || st.Queued != 2 {
		t.Fatalf("published=%d queued=%d, want 0/2", st.Published, st.Queued)
	}

	h.clock.Advance(time.Hour)
	st = h.cycle(t)
	if st.Published != 0 {
		t.Errorf("second cycle published %d", st.Published)
	}
	if n := h.engine.Queue().Len(); n != 2 {
		t.Errorf("queue length = %d, want 2", n)
	}
}

func TestScenarioAdapterFailuresAlertOnce(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Headline one", "Headline two", "Headline three")
	h.provider.err = retry.New(retry.KindConnection, "complete", errors.New("connection reset"))

	st := h.cycle(t)
	if st.ExtractErrors != 3 {
		t.Fatalf("extract errors = %d, want 3", st.ExtractErrors)
	}
	if n := h.engine.Queue().Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
	if got := h.provider.calls.Load(); got != 12 {
		t.Errorf("provider calls = %d, want 12 (4 attempts x 3 headlines)", got)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	h.mu.Lock()
	delays := append([]time.Duration(nil), h.delays...)
	h.mu.Unlock()
	if len(delays) != 9 {
		t.Fatalf("recorded %d backoff delays, want 9", len(delays))
	}
	for i, d := range delays {
		if d != want[i%3] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i%3])
		}
	}

	if n := h.alerts.count("mock API failed"); n != 1 {
		t.Fatalf("api failure alerts = %d, want 1", n)
	}

	// Failed headlines are retried next cycle; the alert stays throttled.
	st = h.cycle(t)
	if st.ExtractErrors != 3 || st.Skipped != 0 {
		t.Errorf("second cycle: errors=%d skipped=%d, want 3/0", st.ExtractErrors, st.Skipped)
	}
	if n := h.alerts.count("mock API failed"); n != 1 {
		t.Errorf("api failure alerts after second cycle = %d, want 1", n)
	}
}

func TestRunCycleIsIdempotentForSeenHeadlines(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5), source("ap", "Cooperative", 9.4))
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)

	h.cycle(t)
	calls := h.provider.calls.Load()

	st := h.cycle(t)
	if st.Skipped != 1 || st.Queued != 0 {
		t.Errorf("second cycle skipped=%d queued=%d, want 1/0", st.Skipped, st.Queued)
	}
	if got := h.provider.calls.Load(); got != calls {
		t.Errorf("provider called again: %d -> %d", calls, got)
	}
	if n := h.engine.Queue().Len(); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5), source("ap", "Cooperative", 9.4))
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)
	h.cycle(t)
	if err := h.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h.start(t)
	if n := h.engine.Queue().Len(); n != 1 {
		t.Fatalf("queue after restart = %d, want 1", n)
	}

	h.clock.Advance(5 * time.Minute)
	h.fetcher.set("ap", "Chile quake prompts evacuations")
	h.provider.reply("Chile quake prompts evacuations", "Earthquake measuring 6.2 struck Chile. Evacuations reported.", 92)
	st := h.cycle(t)
	if st.Published != 1 {
		t.Errorf("published after restart = %d, want 1", st.Published)
	}
}

func TestThirdSourceCreditedOnPublishedStory(t *testing.T) {
	cfg := testConfig(t,
		source("reuters", "Thomson", 9.5),
		source("ap", "Cooperative", 9.4),
		source("bbc", "BBC", 9.0),
	)
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)
	h.cycle(t)

	h.clock.Advance(2 * time.Minute)
	h.fetcher.set("ap", "Chile quake prompts evacuations")
	h.provider.reply("Chile quake prompts evacuations", "Earthquake measuring 6.2 struck Chile. Evacuations reported.", 92)
	if st := h.cycle(t); st.Published != 1 {
		t.Fatalf("published = %d, want 1", st.Published)
	}

	h.clock.Advance(10 * time.Minute)
	h.fetcher.set("bbc", "Chile earthquake")
	h.provider.reply("Chile earthquake", "A 6.2 magnitude earthquake struck Chile", 93)
	st := h.cycle(t)
	if st.Corroborated != 1 || st.Queued != 0 || st.Published != 0 || st.Discarded != 0 {
		t.Errorf("third source: corroborated=%d queued=%d published=%d discarded=%d, want 1/0/0/0",
			st.Corroborated, st.Queued, st.Published, st.Discarded)
	}

	stories, err := h.engine.Store().StoriesOn(h.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 {
		t.Fatalf("archived stories = %d, want 1", len(stories))
	}
	story := stories[0]
	if ids := story.SourceIDs(); strings.Join(ids, " ") != "reuters ap bbc" {
		t.Errorf("sources = %v, want [reuters ap bbc]", ids)
	}
	if story.CanonicalText != "Earthquake measuring 6.2 struck Chile" {
		t.Errorf("canonical text changed to %q", story.CanonicalText)
	}
	if c := h.engine.Ratings().Counts("bbc"); c.Successes != 1 || c.Failures != 0 {
		t.Errorf("bbc counts = %+v, want 1 success", c)
	}

	day, err := publish.ReadDay(cfg.Path(publish.StoriesFileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(day.Stories) != 1 || len(day.Stories[0].Sources) != 3 {
		t.Errorf("stories.json = %+v", day.Stories)
	}
	for _, consumer := range []string{"stories_json", "textlog"} {
		if pending, _ := h.engine.Store().Pending(consumer); len(pending) != 0 {
			t.Errorf("%s has %d undelivered stories", consumer, len(pending))
		}
	}

	// A credited source re-reporting the story only repeats it.
	h.clock.Advance(10 * time.Minute)
	h.fetcher.set("reuters", "Chile quake: aftershocks felt")
	h.provider.reply("Chile quake: aftershocks felt", "Earthquake measuring 6.2 struck Chile", 90)
	st = h.cycle(t)
	if st.Discarded != 1 || st.Corroborated != 0 || st.Queued != 0 {
		t.Errorf("repeat: discarded=%d corroborated=%d queued=%d, want 1/0/0", st.Discarded, st.Corroborated, st.Queued)
	}
	if c := h.engine.Ratings().Counts("reuters"); c.Successes != 1 {
		t.Errorf("reuters successes = %d, want 1", c.Successes)
	}
}

func TestRelatedSourceNotCreditedOnPublishedStory(t *testing.T) {
	cfg := testConfig(t,
		source("reuters", "Thomson", 9.5),
		source("ap", "Cooperative", 9.4),
		source("reutersuk", "Thomson", 9.0),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	for _, f := range []model.HeadlineFact{
		{SourceID: "reuters", FactText: "Earthquake measuring 6.2 struck Chile", Confidence: 95, Newsworthy: true, Timestamp: h.clock.Now()},
		{SourceID: "ap", FactText: "Earthquake measuring 6.2 struck Chile. Evacuations reported.", Confidence: 92, Newsworthy: true, Timestamp: h.clock.Now()},
	} {
		if _, err := h.engine.Submit(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	out, err := h.engine.Submit(ctx, model.HeadlineFact{
		SourceID: "reutersuk", FactText: "A 6.2 magnitude earthquake struck Chile",
		Confidence: 90, Newsworthy: true, Timestamp: h.clock.Now(),
	})
	if err != nil || out != OutcomeDiscarded {
		t.Fatalf("Submit related = %v, %v, want discarded", out, err)
	}
	stories, _ := h.engine.Store().StoriesOn(h.clock.Now())
	if len(stories) != 1 || len(stories[0].Sources) != 2 {
		t.Errorf("stories = %+v", stories)
	}
}

func TestSubmitNormalizesSuppliedEntities(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5), source("ap", "Cooperative", 9.4))
	h := newHarness(t, cfg)
	ctx := context.Background()

	out, err := h.engine.Submit(ctx, model.HeadlineFact{
		SourceID: "reuters", FactText: "Earthquake measuring 6.2 struck Chile",
		Entities:   []string{"Chile", "6.2", "earthquake"},
		Confidence: 95, Newsworthy: true, Timestamp: h.clock.Now(),
	})
	if err != nil || out != OutcomeQueued {
		t.Fatalf("Submit reuters = %v, %v", out, err)
	}
	entries := h.engine.Queue().Entries()
	if len(entries) != 1 {
		t.Fatalf("queue = %d entries", len(entries))
	}
	got := strings.Join(entries[0].Fact.Entities, " ")
	for _, tok := range []string{"loc:chile", "num:6.2"} {
		if !strings.Contains(got, tok) {
			t.Errorf("entities %q lack %s", got, tok)
		}
	}
	for _, tok := range entries[0].Fact.Entities {
		if tok == "Chile" || tok == "6.2" {
			t.Errorf("raw entity %q kept", tok)
		}
	}

	out, err = h.engine.Submit(ctx, model.HeadlineFact{
		SourceID: "ap", FactText: "Earthquake measuring 6.2 struck Chile. Evacuations reported.",
		Confidence: 92, Newsworthy: true, Timestamp: h.clock.Now(),
	})
	if err != nil || out != OutcomePublished {
		t.Errorf("Submit ap = %v, %v, want published", out, err)
	}
}

func TestArchiveFailureRetriesHeadline(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5), source("ap", "Cooperative", 9.4))
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Strong quake hits Chile")
	h.provider.reply("Strong quake hits Chile", "Earthquake measuring 6.2 struck Chile", 95)
	h.cycle(t)

	db, err := sql.Open("sqlite", cfg.Path(store.FileName))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TRIGGER fail_story BEFORE INSERT ON stories
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(2 * time.Minute)
	h.fetcher.set("ap", "Chile quake prompts evacuations")
	h.provider.reply("Chile quake prompts evacuations", "Earthquake measuring 6.2 struck Chile. Evacuations reported.", 92)
	st := h.cycle(t)
	if st.Published != 0 {
		t.Fatalf("published = %d while the archive rejects writes", st.Published)
	}
	if n := h.engine.Queue().Len(); n != 1 {
		t.Errorf("queue length = %d, want the reuters fact kept", n)
	}
	ap := model.Headline{SourceID: "ap", Title: "Chile quake prompts evacuations"}
	if seen, _ := h.engine.Store().Processed(ap, startOfDay(h.clock.Now())); seen {
		t.Error("headline marked processed although its fact was not published")
	}

	if _, err := db.Exec("DROP TRIGGER fail_story"); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Minute)
	st = h.cycle(t)
	if st.Published != 1 {
		t.Errorf("published after recovery = %d, want 1", st.Published)
	}
	if n := h.engine.Queue().Len(); n != 0 {
		t.Errorf("queue length after recovery = %d, want 0", n)
	}
	if seen, _ := h.engine.Store().Processed(ap, startOfDay(h.clock.Now())); !seen {
		t.Error("headline not marked processed after publishing")
	}
}

func TestInitFailureReleasesState(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		t.Fatal(err)
	}
	queuePath := cfg.Path(queue.FileName)
	if err := os.WriteFile(queuePath, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	clock := newClock()
	e, err := New(cfg, Options{Fetcher: &mockFetcher{}, Provider: &mockProvider{}, Now: clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Init(); err == nil {
		t.Fatal("Init should fail on a corrupt queue file")
	}
	if e.events != nil || e.db != nil || e.ratings != nil {
		t.Errorf("state left open after failed Init: events=%v db=%v ratings=%v", e.events != nil, e.db != nil, e.ratings != nil)
	}

	if err := os.Remove(queuePath); err != nil {
		t.Fatal(err)
	}
	if err := e.Init(); err != nil {
		t.Fatalf("Init after repair: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSubmitContradictionBlocked(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5), source("ap", "Cooperative", 9.4))
	h := newHarness(t, cfg)
	ctx := context.Background()

	first := model.HeadlineFact{
		SourceID: "reuters", FactText: "Earthquake measuring 6.2 struck Chile",
		Confidence: 95, Newsworthy: true, Timestamp: h.clock.Now(),
	}
	out, err := h.engine.Submit(ctx, first)
	if err != nil || out != OutcomeQueued {
		t.Fatalf("Submit first = %v, %v", out, err)
	}

	second := model.HeadlineFact{
		SourceID: "ap", FactText: "Earthquake measuring 6.5 struck Chile",
		Confidence: 92, Newsworthy: true, Timestamp: h.clock.Now(),
	}
	out, err = h.engine.Submit(ctx, second)
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	if out != OutcomeContradicted {
		t.Fatalf("outcome = %v, want contradicted", out)
	}
	if n := h.engine.Queue().Len(); n != 1 {
		t.Errorf("queue length = %d, want 1 (queued fact kept)", n)
	}
	if n := h.alerts.count("contradiction"); n != 1 {
		t.Errorf("contradiction alerts = %d, want 1", n)
	}
}

func TestSubmitFilters(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	h := newHarness(t, cfg)

	base := model.HeadlineFact{
		SourceID: "reuters", FactText: "Parliament passed the budget bill",
		Confidence: 90, Newsworthy: true, Timestamp: h.clock.Now(),
	}
	tests := []struct {
		name string
		mut  func(*model.HeadlineFact)
		want Outcome
	}{
		{"low confidence", func(f *model.HeadlineFact) { f.Confidence = 50 }, OutcomeDiscarded},
		{"not newsworthy", func(f *model.HeadlineFact) { f.Newsworthy = false }, OutcomeDiscarded},
		{"no timestamp", func(f *model.HeadlineFact) { f.Timestamp = time.Time{} }, OutcomeDiscarded},
		{"accepted", func(f *model.HeadlineFact) {}, OutcomeQueued},
		{"duplicate", func(f *model.HeadlineFact) {}, OutcomeDiscarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mut(&f)
			got, err := h.engine.Submit(context.Background(), f)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKillSwitchStopsCycle(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	h := newHarness(t, cfg)

	if err := os.WriteFile(cfg.KillSwitch, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.RunCycle(context.Background()); !errors.Is(err, ErrKillSwitch) {
		t.Fatalf("RunCycle error = %v, want ErrKillSwitch", err)
	}
	if err := h.engine.Run(context.Background()); !errors.Is(err, ErrKillSwitch) {
		t.Errorf("Run error = %v, want ErrKillSwitch", err)
	}
	if n := h.fetcher.fetchCount.Load(); n != 0 {
		t.Errorf("fetched %d times with kill switch set", n)
	}
}

func TestBudgetExhaustedPausesExtraction(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	// One completion costs $0.0045 at the default prices.
	cfg.Extract.DailyBudget = 0.004
	h := newHarness(t, cfg)

	h.fetcher.set("reuters", "Headline one")
	h.provider.reply("Headline one", "Parliament passed the budget bill", 90)
	h.cycle(t)

	h.fetcher.set("reuters", "Headline one", "Headline two")
	calls := h.provider.calls.Load()
	st := h.cycle(t)
	if !st.BudgetExhausted {
		t.Error("expected budget exhausted")
	}
	if got := h.provider.calls.Load(); got != calls {
		t.Errorf("provider called with budget spent: %d -> %d", calls, got)
	}
	if n := h.alerts.count("budget"); n != 1 {
		t.Errorf("credits alerts = %d, want 1", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, source("reuters", "Thomson", 9.5))
	cfg.Timing.CycleInterval = time.Hour
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for h.fetcher.fetchCount.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
