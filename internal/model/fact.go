// Package model holds the data types shared across the verification pipeline.
//
// A HeadlineFact is created once per extraction and never mutated. It either
// waits in the pending queue as a QueueEntry, is merged into a PublishedStory,
// or is discarded.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Location describes where a reported event happened.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Scope   string `json:"scope,omitempty"` // "local", "national", "international"
}

// IsZero reports whether no location field is set.
func (l Location) IsZero() bool {
	return l.City == "" && l.State == "" && l.Country == "" && l.Scope == ""
}

// HeadlineFact is a single editorialization-free fact reported by one source.
type HeadlineFact struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name,omitempty"`
	FactText   string    `json:"fact"`
	Confidence int       `json:"confidence"`
	Entities   []string  `json:"entities"`
	Location   Location  `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
	Newsworthy bool      `json:"newsworthy"`
}

// Hash returns the dedup hash of the fact text.
func (f HeadlineFact) Hash() string {
	return FactHash(f.FactText)
}

// QueueEntry is an unverified fact waiting for a second independent source.
type QueueEntry struct {
	FactHash    string       `json:"fact_hash"`
	Fact        HeadlineFact `json:"fact"`
	FirstSeenAt time.Time    `json:"first_seen_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Expired reports whether the entry is past its deadline at now.
func (e QueueEntry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// NormalizeText produces the canonical form used for hashing: lower-cased,
// whitespace collapsed, trailing sentence punctuation removed.
func NormalizeText(text string) string {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRight(s, ".!?;: ")
}

// FactHash derives the dedup key for a fact from its normalized text.
func FactHash(text string) string {
	h := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(h[:8])
}
