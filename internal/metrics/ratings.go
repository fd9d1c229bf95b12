package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ratingDesc = prometheus.NewDesc(
		namespace+"_source_rating",
		"Current accuracy rating by source",
		[]string{"source"}, nil,
	)
	outcomesDesc = prometheus.NewDesc(
		namespace+"_source_outcomes",
		"Recorded verification outcomes by source and event",
		[]string{"source", "event"}, nil,
	)
)

// RatingSource is read on every scrape.
type RatingSource interface {
	SourceIDs() []string
	Rating(sourceID string) float64
	Outcomes(sourceID string) (successes, failures int)
}

// RatingsCollector reports source ratings straight from the rating store.
type RatingsCollector struct {
	src RatingSource
}

// NewRatingsCollector wraps src.
func NewRatingsCollector(src RatingSource) *RatingsCollector {
	return &RatingsCollector{src: src}
}

func (c *RatingsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ratingDesc
	ch <- outcomesDesc
}

func (c *RatingsCollector) Collect(ch chan<- prometheus.Metric) {
	ids := c.src.SourceIDs()
	sort.Strings(ids)
	for _, id := range ids {
		ch <- prometheus.MustNewConstMetric(ratingDesc, prometheus.GaugeValue, c.src.Rating(id), id)
		s, f := c.src.Outcomes(id)
		ch <- prometheus.MustNewConstMetric(outcomesDesc, prometheus.CounterValue, float64(s), id, "success")
		ch <- prometheus.MustNewConstMetric(outcomesDesc, prometheus.CounterValue, float64(f), id, "failure")
	}
}
