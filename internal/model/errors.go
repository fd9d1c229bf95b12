package model

import "fmt"

// ValidationError reports malformed adapter output. The fact is discarded,
// never repaired with a guessed value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validate checks the structural contract every fact must satisfy before it
// can enter the queue.
func (f HeadlineFact) Validate() error {
	switch {
	case f.SourceID == "":
		return &ValidationError{Field: "source_id", Reason: "empty"}
	case f.FactText == "":
		return &ValidationError{Field: "fact", Reason: "empty"}
	case f.Confidence < 0 || f.Confidence > 100:
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%d out of range 0-100", f.Confidence)}
	case f.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Reason: "zero"}
	}
	return nil
}
