// Package events records the pipeline's decisions as JSONL lines.
//
// Every fact that is queued, discarded, matched or expired leaves one event,
// so an operator can reconstruct why a story was or was not published. The
// Logger writes asynchronously; an optional RingBuffer keeps the recent tail
// in memory for the status endpoint.
package events

import (
	"encoding/json"
	"time"
)

// Level is event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Kind names an event as "<subsystem>.<action>".
type Kind string

const (
	KindCycleStart    Kind = "cycle.start"
	KindCycleComplete Kind = "cycle.complete"
	KindCycleSkipped  Kind = "cycle.skipped"

	KindFetchComplete Kind = "fetch.complete"
	KindFetchError    Kind = "fetch.error"

	KindExtractError     Kind = "extract.error"
	KindExtractMalformed Kind = "extract.malformed"

	KindFactQueued       Kind = "fact.queued"
	KindFactDiscarded    Kind = "fact.discarded"
	KindFactContradicted Kind = "fact.contradicted"

	KindStoryPublished Kind = "story.published"
	KindStoryUpdated   Kind = "story.updated"
	KindDeliveryError  Kind = "story.delivery_error"

	KindQueueExpired Kind = "queue.expired"
	KindRatingEvent  Kind = "rating.event"
	KindAlertSent    Kind = "alert.sent"

	KindStartup  Kind = "sys.startup"
	KindShutdown Kind = "sys.shutdown"
	KindError    Kind = "sys.error"
)

// Event is one journal line. Only Kind and Time are always present.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      Kind           `json:"kind"`
	Comp      string         `json:"comp,omitempty"` // "engine", "queue", "extract", "main"
	SessionID string         `json:"session_id,omitempty"`
	CycleID   string         `json:"cycle,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"`
	Count     int            `json:"count,omitempty"`
	Source    string         `json:"source,omitempty"`
	FactHash  string         `json:"fact_hash,omitempty"`
	StoryID   string         `json:"story_id,omitempty"`
	Reason    string         `json:"reason,omitempty"` // why a fact was discarded
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON writes Dur as dur_ms.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	p := plain(e)
	if e.Dur > 0 {
		p.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(p)
}
