// Package fetch pulls raw headlines from source feeds.
//
// Headlines are only inputs to fact extraction; they are never published.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/jtfnews/internal/model"
	"github.com/abelbrown/jtfnews/internal/retry"
)

// DefaultMaxItems caps the headlines taken from one feed per cycle.
const DefaultMaxItems = 20

const userAgent = "jtfnews/0.3 (+https://jtfnews.com)"

// Fetcher retrieves headlines for one source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]model.Headline, error)
}

// RSSFetcher reads RSS and Atom feeds with gofeed.
type RSSFetcher struct {
	client   *http.Client
	maxItems int
	now      func() time.Time
}

// NewRSSFetcher creates a fetcher with the given HTTP timeout.
func NewRSSFetcher(timeout time.Duration) *RSSFetcher {
	return &RSSFetcher{
		client:   &http.Client{Timeout: timeout},
		maxItems: DefaultMaxItems,
		now:      time.Now,
	}
}

// WithMaxItems sets the per-feed cap. Zero or less means unlimited.
func (f *RSSFetcher) WithMaxItems(n int) *RSSFetcher {
	f.maxItems = n
	return f
}

// Fetch downloads src.FeedURL and returns its headlines, newest first.
// Errors are *retry.Error so callers can retry transient failures.
func (f *RSSFetcher) Fetch(ctx context.Context, src model.Source) ([]model.Headline, error) {
	op := "fetch." + src.ID
	if src.FeedURL == "" {
		return nil, retry.New(retry.KindConfig, op, errors.New("no feed_url configured"))
	}
	if err := ctx.Err(); err != nil {
		return nil, retry.New(retry.KindTimeout, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, retry.New(retry.KindConfig, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		kind := retry.Classify(err)
		if kind == retry.KindUnknown {
			kind = retry.KindConnection
		}
		return nil, retry.New(kind, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, retry.FromStatus(op, resp.StatusCode, string(body))
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, retry.New(retry.KindMalformed, op, fmt.Errorf("parse feed: %w", err))
	}

	return f.convert(feed.Items, src), nil
}

func (f *RSSFetcher) convert(items []*gofeed.Item, src model.Source) []model.Headline {
	fetched := f.now().UTC()
	seen := make(map[string]bool, len(items))
	out := make([]model.Headline, 0, len(items))

	for _, it := range items {
		title := cleanTitle(it.Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true

		published := fetched
		if it.PublishedParsed != nil {
			published = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			published = it.UpdatedParsed.UTC()
		}

		out = append(out, model.Headline{
			SourceID:   src.ID,
			SourceName: src.Name,
			Title:      title,
			URL:        it.Link,
			Published:  published,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Published.After(out[j].Published)
	})
	if f.maxItems > 0 && len(out) > f.maxItems {
		out = out[:f.maxItems]
	}
	return out
}

// cleanTitle collapses whitespace and strips a trailing " - Source" suffix
// that aggregator feeds append.
func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndex(s, " - "); i > 0 && len(s)-i <= 40 && !strings.ContainsAny(s[i+3:], ".,:;") {
		suffix := s[i+3:]
		if len(strings.Fields(suffix)) <= 4 {
			s = s[:i]
		}
	}
	return s
}
