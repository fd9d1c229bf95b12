package extract

import (
	"sync"
	"time"
)

// Pricing converts tokens into dollars.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the dollar cost of a completion.
func (p Pricing) Cost(c Completion) float64 {
	return float64(c.InputTokens)*p.InputPerMTok/1e6 + float64(c.OutputTokens)*p.OutputPerMTok/1e6
}

// UsageSink persists per-day usage. Implemented by the SQLite store.
type UsageSink interface {
	RecordUsage(day, service string, inputTokens, outputTokens int, cost float64) error
	UsageCost(day string) (float64, error)
}

// Usage tracks spend for the current UTC day.
type Usage struct {
	mu      sync.Mutex
	pricing Pricing
	sink    UsageSink
	day     string
	cost    float64
	calls   int
	now     func() time.Time
}

// NewUsage creates a tracker. A nil sink keeps usage in memory only.
func NewUsage(pricing Pricing, sink UsageSink) *Usage {
	u := &Usage{pricing: pricing, sink: sink, now: time.Now}
	u.rollover()
	return u
}

// SetClock replaces the time source that decides the UTC day.
func (u *Usage) SetClock(now func() time.Time) {
	u.mu.Lock()
	u.now = now
	u.rollover()
	u.mu.Unlock()
}

// Add records one completion and returns today's total cost.
func (u *Usage) Add(service string, c Completion) float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover()
	cost := u.pricing.Cost(c)
	u.cost += cost
	u.calls++
	if u.sink != nil {
		u.sink.RecordUsage(u.day, service, c.InputTokens, c.OutputTokens, cost)
	}
	return u.cost
}

// Today returns the day key, total cost and call count so far.
func (u *Usage) Today() (string, float64, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollover()
	return u.day, u.cost, u.calls
}

// rollover resets counters on a new UTC day, seeding from the sink.
func (u *Usage) rollover() {
	day := u.now().UTC().Format("2006-01-02")
	if day == u.day {
		return
	}
	u.day, u.cost, u.calls = day, 0, 0
	if u.sink != nil {
		if c, err := u.sink.UsageCost(day); err == nil {
			u.cost = c
		}
	}
}
