package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/abelbrown/jtfnews/internal/entity"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/model"
	"github.com/abelbrown/jtfnews/internal/retry"
)

// Status tags an extraction Result.
type Status int

const (
	StatusOK Status = iota
	StatusMalformed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMalformed:
		return "malformed"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is the outcome for one headline. Exactly one of the variants is
// meaningful:
//
//	StatusOK        Parsed is valid; Fact is set unless Parsed.Skip
//	StatusMalformed Raw holds the unusable response, Err says why
//	StatusError     the call failed; Err is the last error
type Result struct {
	Status   Status
	Headline model.Headline
	Parsed   Parsed
	Fact     model.HeadlineFact
	Raw      string
	Err      error
	Cached   bool
}

// Cache stores raw responses that parsed cleanly, keyed by headline text.
type Cache interface {
	GetExtraction(key string) (string, bool, error)
	PutExtraction(key, raw string) error
}

// Extractor calls a Provider with rate limiting, retries and caching.
type Extractor struct {
	provider Provider
	policy   retry.Policy
	limiter  *rate.Limiter
	cache    Cache
	usage    *Usage
	entities *entity.Extractor
	now      func() time.Time
}

// Options configures an Extractor. Zero values disable the optional parts.
type Options struct {
	Policy        retry.Policy
	RatePerSecond float64
	Burst         int
	Cache         Cache
	Usage         *Usage
	Entities      *entity.Extractor
	Now           func() time.Time
}

// NewExtractor creates an extractor around provider.
func NewExtractor(provider Provider, opts Options) *Extractor {
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	ents := opts.Entities
	if ents == nil {
		ents = entity.NewExtractor(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		provider: provider,
		policy:   opts.Policy,
		limiter:  lim,
		cache:    opts.Cache,
		usage:    opts.Usage,
		entities: ents,
		now:      now,
	}
}

// Provider returns the wrapped provider.
func (x *Extractor) Provider() Provider { return x.provider }

// Extract turns one headline into a Result. It never returns a fact that
// was not fully parsed from a model response.
func (x *Extractor) Extract(ctx context.Context, h model.Headline) Result {
	res := Result{Headline: h}
	key := h.TextKey()

	if x.cache != nil {
		if raw, ok, err := x.cache.GetExtraction(key); err == nil && ok {
			if p, err := Parse(raw); err == nil {
				res.Cached = true
				return x.accept(res, raw, p)
			}
		}
	}

	if err := x.limiter.Wait(ctx); err != nil {
		res.Status = StatusError
		res.Err = fmt.Errorf("rate limiter: %w", err)
		return res
	}

	comp, err := retry.Do(ctx, "extract."+x.provider.Name(), x.policy, func(ctx context.Context) (Completion, error) {
		return x.provider.Complete(ctx, SystemPrompt, h.Title)
	})
	if err != nil {
		res.Status = StatusError
		res.Err = err
		return res
	}
	if x.usage != nil {
		x.usage.Add(x.provider.Name(), comp)
	}

	p, err := Parse(comp.Text)
	if err != nil {
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			err = &model.ValidationError{Reason: err.Error()}
		}
		logging.Warn("malformed extraction", "source", h.SourceID, "headline", h.Title, "err", err)
		res.Status = StatusMalformed
		res.Raw = comp.Text
		res.Err = err
		return res
	}

	if x.cache != nil {
		if err := x.cache.PutExtraction(key, comp.Text); err != nil {
			logging.Warn("extraction cache write failed", "err", err)
		}
	}
	return x.accept(res, comp.Text, p)
}

func (x *Extractor) accept(res Result, raw string, p Parsed) Result {
	res.Status = StatusOK
	res.Raw = raw
	res.Parsed = p
	if p.Skip {
		return res
	}
	h := res.Headline
	res.Fact = model.HeadlineFact{
		ID:         uuid.New().String(),
		SourceID:   h.SourceID,
		SourceName: h.SourceName,
		FactText:   p.Fact,
		Confidence: p.Confidence,
		Location:   p.Location,
		Timestamp:  x.now().UTC(),
		Newsworthy: p.Newsworthy,
		Entities:   x.entities.Extract(p.Fact, p.Location, p.Entities),
	}
	return res
}
