package extract

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/abelbrown/jtfnews/internal/model"
)

// skipMarker is the fact text the model returns for headlines with no fact.
const skipMarker = "SKIP"

// Parsed is the validated adapter output.
type Parsed struct {
	Fact         string
	Confidence   int
	Newsworthy   bool
	ThresholdMet string
	Entities     []string
	Location     model.Location

	// Skip is set when the model found no verifiable fact.
	Skip bool
}

type wireFact struct {
	Fact         *string         `json:"fact"`
	Confidence   *int            `json:"confidence"`
	Newsworthy   *bool           `json:"newsworthy"`
	ThresholdMet string          `json:"threshold_met"`
	Entities     []string        `json:"entities"`
	Location     *model.Location `json:"location"`
}

// Parse validates a raw model response. The response must be one JSON
// object, optionally wrapped in a single code fence. Missing required
// fields and out-of-range values are errors, never defaulted.
func Parse(raw string) (Parsed, error) {
	body := unfence(strings.TrimSpace(raw))
	if body == "" {
		return Parsed{}, &model.ValidationError{Reason: "empty response"}
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var w wireFact
	if err := dec.Decode(&w); err != nil {
		return Parsed{}, &model.ValidationError{Reason: "not a JSON object: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Parsed{}, &model.ValidationError{Reason: "trailing data after JSON object"}
	}

	switch {
	case w.Fact == nil:
		return Parsed{}, &model.ValidationError{Field: "fact", Reason: "missing"}
	case w.Confidence == nil:
		return Parsed{}, &model.ValidationError{Field: "confidence", Reason: "missing"}
	case w.Newsworthy == nil:
		return Parsed{}, &model.ValidationError{Field: "newsworthy", Reason: "missing"}
	}

	fact := strings.TrimSpace(*w.Fact)
	if strings.EqualFold(fact, skipMarker) {
		return Parsed{Skip: true, Confidence: *w.Confidence}, nil
	}
	if fact == "" {
		return Parsed{}, &model.ValidationError{Field: "fact", Reason: "empty"}
	}
	if *w.Confidence < 0 || *w.Confidence > 100 {
		return Parsed{}, &model.ValidationError{Field: "confidence", Reason: "out of range 0-100"}
	}

	p := Parsed{
		Fact:         fact,
		Confidence:   *w.Confidence,
		Newsworthy:   *w.Newsworthy,
		ThresholdMet: w.ThresholdMet,
		Entities:     w.Entities,
	}
	if w.Location != nil {
		p.Location = *w.Location
	}
	return p, nil
}

// unfence strips one surrounding ``` or ```json fence.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := s[3 : len(s)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || lang == "json" {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
