package ratings

import (
	"fmt"
	"math"
)

// DefaultBaseline is used for sources missing from the registry.
const DefaultBaseline = 5.0

// Counts is the evidence held for one source.
type Counts struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Total returns the number of recorded events.
func (c Counts) Total() int { return c.Successes + c.Failures }

// Compute returns the accuracy rating on a 0-10 scale.
//
// With no evidence the baseline is returned and noData is true. Below
// coldStart events the observed rate is blended with the baseline in
// proportion to the evidence; from coldStart on only the observed rate
// counts. For a baseline within 0-10 the result never drops when a success
// is added and never rises when a failure is added.
func Compute(baseline float64, c Counts, coldStart int) (rating float64, noData bool) {
	n := c.Total()
	if n == 0 {
		return baseline, true
	}
	observed := float64(c.Successes) / float64(n) * 10
	if n >= coldStart {
		return observed, false
	}
	w := float64(n) / float64(coldStart)
	return baseline*(1-w) + observed*w, false
}

// Display formats a rating with its evidence:
// "9.6*" without data, "8.5* (3/10)" during cold start, "9.4 (47/50)" after.
func Display(baseline float64, c Counts, coldStart int) string {
	r, noData := Compute(baseline, c, coldStart)
	switch {
	case noData:
		return fmt.Sprintf("%.1f*", r)
	case c.Total() < coldStart:
		return fmt.Sprintf("%.1f* (%d/%d)", r, c.Successes, c.Total())
	default:
		return fmt.Sprintf("%.1f (%d/%d)", r, c.Successes, c.Total())
	}
}

// BiasScore converts a -2..+2 leaning into 0-10 where 10 is neutral.
func BiasScore(bias float64) float64 {
	return math.Max(0, math.Min(10, 10-math.Abs(bias)*5))
}

// Compact formats "accuracy|bias" for tight spaces, e.g. "9.8*|9.5".
func Compact(baseline, bias float64, c Counts, coldStart int) string {
	r, noData := Compute(baseline, c, coldStart)
	acc := fmt.Sprintf("%.1f", r)
	if noData || c.Total() < coldStart {
		acc += "*"
	}
	return fmt.Sprintf("%s|%.1f", acc, BiasScore(bias))
}
