package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/jtfnews/internal/events"
)

var levelRank = map[events.Level]int{
	events.LevelDebug: 0,
	events.LevelInfo:  1,
	events.LevelWarn:  2,
	events.LevelError: 3,
}

// eventFilter selects journal lines. Empty fields match everything.
type eventFilter struct {
	kindPrefix string
	minLevel   events.Level
	comp       string
	source     string
	cycle      string
}

func (f eventFilter) match(ev events.Event) bool {
	switch {
	case f.kindPrefix != "" && !strings.HasPrefix(string(ev.Kind), f.kindPrefix):
		return false
	case f.minLevel != "" && levelRank[ev.Level] < levelRank[f.minLevel]:
		return false
	case f.comp != "" && ev.Comp != f.comp:
		return false
	case f.source != "" && ev.Source != f.source:
		return false
	case f.cycle != "" && ev.CycleID != f.cycle:
		return false
	}
	return true
}

func runEvents() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	cfgPath := configFlag(fs)
	tail := fs.Int("tail", 50, "Number of recent matching events to show")
	follow := fs.Bool("f", false, "Keep printing events as they are appended")
	var filter eventFilter
	fs.StringVar(&filter.kindPrefix, "kind", "", "Event kind prefix (e.g. 'fact', 'story.published')")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	fs.StringVar(&filter.comp, "comp", "", "Component (engine, queue, extract, fetch, publish, ratings)")
	fs.StringVar(&filter.source, "source", "", "Source id")
	fs.StringVar(&filter.cycle, "cycle", "", "Cycle id")
	rawJSON := fs.Bool("json", false, "Print JSON lines")
	fs.Parse(os.Args[1:])

	if *level != "" {
		filter.minLevel = events.Level(strings.ToLower(*level))
		if _, ok := levelRank[filter.minLevel]; !ok {
			fatalf("unknown level %q", *level)
		}
	}
	show := func(ev events.Event) {
		if *rawJSON {
			b, _ := json.Marshal(ev)
			fmt.Println(string(b))
			return
		}
		fmt.Println(formatEvent(ev))
	}

	cfg := loadConfig(*cfgPath)
	path := cfg.Path(events.FileName)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		fatalf("no event journal at %s (has jtfnews run with this data_dir?)", path)
	}
	if err != nil {
		fatalf("%v", err)
	}
	defer f.Close()

	jt := &journalTail{r: bufio.NewReaderSize(f, 64*1024), filter: filter}
	if *tail > 0 {
		ring := events.NewRingBuffer(*tail)
		if err := jt.read(ring.Push); err != nil {
			fatalf("%v", err)
		}
		for _, ev := range ring.Snapshot() {
			show(ev)
		}
	} else if err := jt.read(func(events.Event) {}); err != nil {
		fatalf("%v", err)
	}

	if !*follow {
		return
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if err := jt.read(show); err != nil {
			fatalf("%v", err)
		}
	}
}

// journalTail reads an append-only JSONL file incrementally. A line the
// daemon has not finished writing is kept until its newline arrives.
type journalTail struct {
	r       *bufio.Reader
	filter  eventFilter
	partial []byte
}

// read decodes every complete line up to EOF and passes matches to fn.
func (t *journalTail) read(fn func(events.Event)) error {
	for {
		chunk, err := t.r.ReadBytes('\n')
		t.partial = append(t.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line := bytes.TrimSpace(t.partial)
		t.partial = t.partial[:0]
		if len(line) == 0 {
			continue
		}
		var ev events.Event
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if t.filter.match(ev) {
			fn(ev)
		}
	}
}

// runTrace prints the lifecycle of one fact: queued, matched, published or
// expired, plus the rating events it caused.
func runTrace() {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fatalf("usage: jtf trace [-config path] <fact_hash>")
	}

	cfg := loadConfig(*cfgPath)
	evs, err := events.ReadFile(cfg.Path(events.FileName), events.Query{FactHash: fs.Arg(0)})
	if err != nil {
		fatalf("%v", err)
	}
	if len(evs) == 0 {
		fmt.Println(mutedStyle.Render("no events for " + fs.Arg(0)))
		return
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("fact %s (%d events)", fs.Arg(0), len(evs))))
	for _, ev := range evs {
		fmt.Println(formatEvent(ev))
	}
}

func formatEvent(ev events.Event) string {
	lvl := strings.ToUpper(string(ev.Level))
	if lvl == "" {
		lvl = "INFO"
	}
	head := fmt.Sprintf("%s %-5s %-8s %-22s", ev.Time.Local().Format("01-02 15:04:05"), lvl, ev.Comp, ev.Kind)
	switch ev.Level {
	case events.LevelWarn:
		head = warnStyle.Render(head)
	case events.LevelError:
		head = errorStyle.Render(head)
	default:
		head = mutedStyle.Render(head)
	}

	var b strings.Builder
	b.WriteString(head)
	field := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
	}
	field("cycle", ev.CycleID)
	field("src", ev.Source)
	field("fact", ev.FactHash)
	field("story", ev.StoryID)
	field("reason", ev.Reason)
	if ev.Count > 0 {
		field("n", fmt.Sprint(ev.Count))
	}
	if ev.DurMs > 0 {
		field("dur", (time.Duration(ev.DurMs * float64(time.Millisecond))).Round(time.Millisecond).String())
	}
	field("err", ev.Err)
	if ev.Msg != "" {
		b.WriteString("  " + valueStyle.Render(truncate(ev.Msg, 100)))
	}
	return b.String()
}
