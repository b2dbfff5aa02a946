// Package eventlog evaluates the metric query set over an in-memory event log.
// It mirrors the ClickHouse queries row for row and backs offline runs and tests.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// Feed actions.
const (
	ActionView = "view"
	ActionLike = "like"
)

// Event is one user action on either surface.
type Event struct {
	UserID  uint64          `json:"user_id"`
	Time    time.Time       `json:"time"`
	Surface metrics.Surface `json:"surface"`
	Action  string          `json:"action,omitempty"`
	City    string          `json:"city"`
	Country string          `json:"country"`
}

// Log is an immutable, time-ordered set of events.
type Log struct {
	events []Event
}

// New copies the events and orders them by time.
func New(events []Event) *Log {
	out := slices.Clone(events)
	for i := range out {
		out[i].Time = out[i].Time.UTC()
	}
	slices.SortStableFunc(out, func(a, b Event) int { return a.Time.Compare(b.Time) })
	return &Log{events: out}
}

func (l *Log) Len() int { return len(l.events) }

// All yields the events in time order.
func (l *Log) All() iter.Seq[Event] { return slices.Values(l.events) }

// Read decodes one JSON event per line.
func Read(r io.Reader) (*Log, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event on line %d: %w", line, err)
		}
		if err := ev.validate(); err != nil {
			return nil, fmt.Errorf("invalid event on line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return New(events), nil
}

// ReadFile loads a JSON-lines event file.
func ReadFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes the log as JSON lines.
func (l *Log) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, ev := range l.events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return bw.Flush()
}

func (ev Event) validate() error {
	switch ev.Surface {
	case metrics.Feed:
		if ev.Action != ActionView && ev.Action != ActionLike {
			return fmt.Errorf("unknown feed action %q", ev.Action)
		}
	case metrics.Messaging:
	default:
		return fmt.Errorf("unknown surface %q", ev.Surface)
	}
	if ev.Time.IsZero() {
		return fmt.Errorf("event of user %d has no time", ev.UserID)
	}
	return nil
}
