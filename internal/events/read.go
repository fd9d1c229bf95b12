package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
)

// Query selects journal events. Zero fields match everything.
type Query struct {
	Kind     Kind
	FactHash string
	Source   string
	Limit    int // newest N after filtering
}

func (q Query) match(e Event) bool {
	return (q.Kind == "" || e.Kind == q.Kind) &&
		(q.FactHash == "" || e.FactHash == q.FactHash) &&
		(q.Source == "" || e.Source == q.Source)
}

// ReadFile scans a journal and returns matching events in file order.
// Unparseable lines are skipped. A missing file yields no events.
func ReadFile(path string, q Query) ([]Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e Event
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		if q.match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}
