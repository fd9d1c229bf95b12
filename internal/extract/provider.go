// Package extract is the boundary to the AI fact extraction adapter. It turns
// a raw headline into a tagged Result: OK with a parsed fact, Malformed with
// the raw response, or Error with the cause. Nothing here guesses a value
// the model did not return.
package extract

import "context"

// Completion is one model response with its token usage.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is a text completion backend.
type Provider interface {
	Name() string
	Available() bool
	Complete(ctx context.Context, system, prompt string) (Completion, error)
}

// SystemPrompt instructs the model to return a single JSON object.
const SystemPrompt = `You extract facts from news headlines for a neutral news service.

Strip all editorialization, loaded language, speculation and attributed motive.
Keep numbers, locations, names with official titles, and actions. Use one sentence.
If the headline has no verifiable fact, return "SKIP" as the fact.

A story is newsworthy only if it involves death or violent crime, affects 500+
people, costs $1M+, changes a law or border, is a major scientific, humanitarian,
economic or diplomatic event, a disaster or public health emergency, or an
official act of a head of state or government.

Reply with exactly one JSON object and nothing else:
{"fact": string, "confidence": integer 0-100, "newsworthy": boolean,
 "threshold_met": string, "entities": [string],
 "location": {"city": string, "state": string, "country": string, "scope": "local"|"national"|"international"}}`
