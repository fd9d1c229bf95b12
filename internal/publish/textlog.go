package publish

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/abelbrown/jtfnews/internal/model"
)

// ArchiveDir holds the daily text logs inside the data directory.
const ArchiveDir = "archive"

// TextLog appends one line per story to archive/YYYY-MM-DD.txt:
//
//	timestamp|source names|source ratings|fact
type TextLog struct {
	mu  sync.Mutex
	dir string
}

// NewTextLog writes daily logs under dir.
func NewTextLog(dir string) *TextLog {
	return &TextLog{dir: dir}
}

func (l *TextLog) Name() string { return "textlog" }

// Path returns the log file for t's UTC date.
func (l *TextLog) Path(t time.Time) string {
	return filepath.Join(l.dir, t.UTC().Format("2006-01-02")+".txt")
}

// Line formats story as a log line without the newline.
func Line(story model.PublishedStory) string {
	names := story.SourceNames()
	scores := make([]string, len(story.Sources))
	for i, s := range story.Sources {
		scores[i] = s.DisplayRating
	}
	fact := strings.ReplaceAll(story.CanonicalText, "\n", " ")
	return fmt.Sprintf("%s|%s|%s|%s",
		story.VerifiedAt.UTC().Format(time.RFC3339),
		strings.Join(names, ","),
		strings.Join(scores, ","),
		fact)
}

// Deliver appends the story's line. A line already present is not written
// again.
func (l *TextLog) Deliver(_ context.Context, story model.PublishedStory) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	path := l.Path(story.VerifiedAt)
	line := Line(story)

	present, err := containsLine(path, line)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if errors.Is(statErr, os.ErrNotExist) {
		fmt.Fprintf(&b, "# JTF News Daily Log\n# Date: %s\n# Generated: UTC\n\n", story.VerifiedAt.UTC().Format("2006-01-02"))
	}
	b.WriteString(line)
	b.WriteByte('\n')
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append daily log: %w", err)
	}
	return f.Sync()
}

// AcceptsRevisions reports that a revised story is logged again with its
// new attribution.
func (l *TextLog) AcceptsRevisions() bool { return true }

func containsLine(path, line string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if sc.Text() == line {
			return true, nil
		}
	}
	return false, sc.Err()
}
