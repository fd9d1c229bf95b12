package engine

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/abelbrown/jtfnews/internal/events"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/store"
)

// recentEvents is how many ring buffer events /status returns.
const recentEvents = 50

// SourceStatus is one row of the ratings table.
type SourceStatus struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Owner     string  `json:"owner"`
	Rating    float64 `json:"rating"`
	Display   string  `json:"display"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
}

// Status is the daemon's self-report.
type Status struct {
	Version      string              `json:"version"`
	Now          time.Time           `json:"now"`
	KillSwitch   bool                `json:"kill_switch"`
	LastCycle    CycleStats          `json:"last_cycle"`
	QueueLength  int                 `json:"queue_length"`
	Store        store.Stats         `json:"store"`
	Sources      []SourceStatus      `json:"sources"`
	EventCounts  map[events.Kind]int `json:"event_counts"`
	Recent       []events.Event      `json:"recent_events"`
	EventDropped uint64              `json:"events_dropped"`
}

// Status gathers a snapshot without waiting for a running cycle.
func (e *Engine) Status() (Status, error) {
	now := e.now()
	st := Status{
		Version:     logging.Version,
		Now:         now.UTC(),
		KillSwitch:  e.KillSwitchSet(),
		LastCycle:   e.LastCycle(),
		QueueLength: e.queue.Len(),
		EventCounts: e.ring.Stats(),
		Recent:      e.ring.Last(recentEvents),
	}
	if e.events != nil {
		st.EventDropped = e.events.Dropped()
	}
	for _, src := range e.registry.Sources() {
		s, f := e.ratings.Outcomes(src.ID)
		st.Sources = append(st.Sources, SourceStatus{
			ID:        src.ID,
			Name:      src.Name,
			Owner:     src.OwnerGroup,
			Rating:    e.ratings.Rating(src.ID),
			Display:   e.ratings.Display(src.ID),
			Successes: s,
			Failures:  f,
		})
	}
	stats, err := e.db.Stats(now)
	if err != nil {
		return st, err
	}
	st.Store = stats
	return st, nil
}

// Handler serves /health, /status and /metrics.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if e.KillSwitchSet() {
			http.Error(w, "kill switch present", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		st, err := e.Status()
		if err != nil {
			logging.Warn("status incomplete", "err", err)
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			logging.Warn("encode status", "err", err)
		}
	})
	mux.Handle("GET /metrics", e.metrics.Handler())
	return mux
}
