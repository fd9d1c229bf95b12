package model

import "time"

// StorySource credits one contributing source on a published story.
type StorySource struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DisplayRating string `json:"display_rating"`   // "9.4 (47/50)", "8.5* (3/10)", "9.6*"
	Scores        string `json:"scores,omitempty"` // compact "accuracy|bias"
}

// PublishedStory is a fact corroborated by at least two independent sources.
type PublishedStory struct {
	ID                string         `json:"id"`
	CanonicalText     string         `json:"fact"`
	FactHash          string         `json:"fact_hash"`
	ContributingFacts []HeadlineFact `json:"contributing_facts"`
	Sources           []StorySource  `json:"sources"`
	Confidence        int            `json:"confidence"`
	VerifiedAt        time.Time      `json:"verified_at"`
	Location          Location       `json:"location"`
}

// SourceIDs returns the IDs of all credited sources in credit order.
func (s PublishedStory) SourceIDs() []string {
	ids := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		ids[i] = src.ID
	}
	return ids
}

// SourceNames returns the display names of all credited sources.
func (s PublishedStory) SourceNames() []string {
	names := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		names[i] = src.Name
		if names[i] == "" {
			names[i] = src.ID
		}
	}
	return names
}
