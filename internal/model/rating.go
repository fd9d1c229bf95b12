package model

import "time"

// RatingEventType is the outcome recorded for a source.
type RatingEventType string

const (
	EventSuccess RatingEventType = "success" // fact corroborated and published
	EventFailure RatingEventType = "failure" // fact expired unverified
)

// RatingEvent is one immutable line of the ratings audit trail.
type RatingEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	SourceID  string          `json:"source_id"`
	EventType RatingEventType `json:"event"`
	FactHash  string          `json:"fact_hash"`
}
