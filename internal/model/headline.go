package model

import "time"

// Headline is a raw headline as fetched from a source. It is never
// published; it only feeds the fact extraction adapter.
type Headline struct {
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name,omitempty"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Published  time.Time `json:"published,omitempty"`
}

// Key identifies the headline per source for the processed-headline cache.
func (h Headline) Key() string {
	return FactHash(h.SourceID + "|" + h.Title)
}

// TextKey identifies the headline text alone, shared across sources.
func (h Headline) TextKey() string {
	return FactHash(h.Title)
}
