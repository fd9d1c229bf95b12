// Package match decides whether two facts describe the same event.
package match

import (
	"sort"

	"github.com/abelbrown/jtfnews/internal/entity"
	"github.com/abelbrown/jtfnews/internal/model"
)

// Verdict is the outcome of comparing two facts.
type Verdict struct {
	Match  bool
	Shared []string // sorted intersection
	Score  float64  // weighted intersection size
}

// Policy compares two facts. Implementations must be symmetric:
// Match(a, b) and Match(b, a) return the same verdict.
type Policy interface {
	Match(a, b model.HeadlineFact) Verdict
}

// WeightedOverlap matches when enough entities are shared and their weighted
// sum clears MinScore. Kinds without a weight count as 1.
type WeightedOverlap struct {
	MinShared int
	MinScore  float64
	Weights   map[string]float64
}

// Default returns the production policy.
func Default() WeightedOverlap {
	return WeightedOverlap{
		MinShared: 2,
		MinScore:  2.5,
		Weights: map[string]float64{
			entity.KindLoc:  1.5,
			entity.KindNum:  1.5,
			entity.KindName: 1.25,
			entity.KindNoun: 1.0,
		},
	}
}

// Match implements Policy.
func (w WeightedOverlap) Match(a, b model.HeadlineFact) Verdict {
	shared := Intersect(a.Entities, b.Entities)
	score := 0.0
	for _, tok := range shared {
		score += w.weight(entity.Kind(tok))
	}
	return Verdict{
		Match:  len(shared) >= w.MinShared && score >= w.MinScore,
		Shared: shared,
		Score:  score,
	}
}

func (w WeightedOverlap) weight(kind string) float64 {
	if v, ok := w.Weights[kind]; ok {
		return v
	}
	return 1.0
}

// Intersect returns the sorted set of tokens present in both slices.
func Intersect(a, b []string) []string {
	in := make(map[string]bool, len(a))
	for _, tok := range a {
		in[tok] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range b {
		if in[tok] && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Contradicts reports whether two facts about the same event give different
// figures: both carry numbers and none of them agree.
func Contradicts(a, b model.HeadlineFact) bool {
	na := kindSet(a.Entities, entity.KindNum)
	nb := kindSet(b.Entities, entity.KindNum)
	if len(na) == 0 || len(nb) == 0 {
		return false
	}
	for tok := range na {
		if nb[tok] {
			return false
		}
	}
	return true
}

func kindSet(tokens []string, kind string) map[string]bool {
	m := make(map[string]bool)
	for _, tok := range tokens {
		if entity.Kind(tok) == kind {
			m[tok] = true
		}
	}
	return m
}
