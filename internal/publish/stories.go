package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/abelbrown/jtfnews/internal/fsutil"
	"github.com/abelbrown/jtfnews/internal/model"
)

// StoriesFileName is the day's story list inside the data directory.
const StoriesFileName = "stories.json"

// Entry is one story as the display loop reads it.
type Entry struct {
	ID         string              `json:"id"`
	Fact       string              `json:"fact"`
	Source     string              `json:"source"` // "Reuters 9.6*|10 · AP 9.4|8.5"
	Sources    []model.StorySource `json:"sources"`
	Confidence int                 `json:"confidence"`
	VerifiedAt time.Time           `json:"verified_at"`
}

// Day is the stories.json document. Stories is append-only within a UTC
// day; Latest points at the newest entry.
type Day struct {
	Date    string  `json:"date"`
	Latest  string  `json:"latest,omitempty"`
	Stories []Entry `json:"stories"`
}

// NewEntry renders a story for stories.json.
func NewEntry(s model.PublishedStory) Entry {
	return Entry{
		ID:         s.ID,
		Fact:       s.CanonicalText,
		Source:     Attribution(s),
		Sources:    s.Sources,
		Confidence: s.Confidence,
		VerifiedAt: s.VerifiedAt.UTC(),
	}
}

// Attribution formats the first two credited sources with compact scores.
func Attribution(s model.PublishedStory) string {
	parts := make([]string, 0, 2)
	for i, src := range s.Sources {
		if i == 2 {
			break
		}
		name := src.Name
		if name == "" {
			name = src.ID
		}
		if src.Scores != "" {
			name += " " + src.Scores
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " · ")
}

// StoriesFile is the stories.json consumer.
type StoriesFile struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStoriesFile writes to path.
func NewStoriesFile(path string) *StoriesFile {
	return &StoriesFile{path: path, now: time.Now}
}

// SetClock replaces the time source that decides "today".
func (f *StoriesFile) SetClock(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *StoriesFile) Name() string { return "stories_json" }

// Deliver appends story to today's list, starting a new list on a new UTC
// day. A story already listed is replaced in place. Stories verified on an
// earlier day are not added to today's list.
func (f *StoriesFile) Deliver(_ context.Context, story model.PublishedStory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	today := f.now().UTC().Format("2006-01-02")
	if story.VerifiedAt.UTC().Format("2006-01-02") < today {
		return nil
	}

	day, err := ReadDay(f.path)
	if err != nil {
		return err
	}
	if day.Date != today {
		day = Day{Date: today, Stories: []Entry{}}
	}
	entry := NewEntry(story)
	for i, e := range day.Stories {
		if e.ID == story.ID {
			if entriesEqual(e, entry) {
				return nil
			}
			day.Stories[i] = entry
			return WriteDay(f.path, day)
		}
	}
	day.Stories = append(day.Stories, entry)
	day.Latest = story.ID
	return WriteDay(f.path, day)
}

// AcceptsRevisions reports that a revised story replaces its entry in place.
func (f *StoriesFile) AcceptsRevisions() bool { return true }

func entriesEqual(a, b Entry) bool {
	if a.Fact != b.Fact || a.Source != b.Source || a.Confidence != b.Confidence || len(a.Sources) != len(b.Sources) {
		return false
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			return false
		}
	}
	return true
}

// ReadDay loads a stories.json file. A missing file is an empty Day.
func ReadDay(path string) (Day, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Day{Stories: []Entry{}}, nil
	}
	if err != nil {
		return Day{}, fmt.Errorf("read %s: %w", path, err)
	}
	var day Day
	if err := json.Unmarshal(data, &day); err != nil {
		return Day{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if day.Stories == nil {
		day.Stories = []Entry{}
	}
	return day, nil
}

// WriteDay replaces path atomically.
func WriteDay(path string, day Day) error {
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, data)
}

// Rebuild regenerates a Day from archived stories for date.
func Rebuild(date time.Time, stories []model.PublishedStory) Day {
	day := Day{Date: date.UTC().Format("2006-01-02"), Stories: make([]Entry, 0, len(stories))}
	for _, s := range stories {
		day.Stories = append(day.Stories, NewEntry(s))
		day.Latest = s.ID
	}
	return day
}
