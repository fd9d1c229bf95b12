package model

import (
	"sort"
	"strings"
)

// Holder is an institutional shareholder of a source's parent company.
type Holder struct {
	Name    string  `json:"name" yaml:"name"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// Source represents a news outlet and its ownership structure.
type Source struct {
	ID                   string   `json:"id" yaml:"id"`
	Name                 string   `json:"name" yaml:"name"`
	FeedURL              string   `json:"feed_url,omitempty" yaml:"feed_url"`
	OwnerGroup           string   `json:"owner" yaml:"owner"`
	InstitutionalHolders []Holder `json:"institutional_holders,omitempty" yaml:"institutional_holders"`

	// BaselineRating is the editorial accuracy default on a 0-10 scale,
	// used until the source accumulates verification evidence.
	BaselineRating float64 `json:"baseline_rating" yaml:"baseline_rating"`

	// Bias is the political leaning on a -2..+2 scale (0 = neutral).
	Bias float64 `json:"bias" yaml:"bias"`

	// Runtime counters, mirrored from the rating ledger.
	Successes int `json:"successes" yaml:"-"`
	Failures  int `json:"failures" yaml:"-"`
}

// TopHolders returns up to n holders ordered by descending percent.
// Ties are broken by name so the result is deterministic.
func (s Source) TopHolders(n int) []Holder {
	holders := make([]Holder, len(s.InstitutionalHolders))
	copy(holders, s.InstitutionalHolders)
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Percent != holders[j].Percent {
			return holders[i].Percent > holders[j].Percent
		}
		return holders[i].Name < holders[j].Name
	})
	if n >= 0 && len(holders) > n {
		holders = holders[:n]
	}
	return holders
}

// NormalizeName lower-cases and trims an owner or holder name for comparison.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
