package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Well-known event names. EventName is free-form; these are the ones the
// aggregator derives rates from.
const (
	EventTestAssigned = "test_assigned"
	EventAdShown      = "ad_shown"
	EventTestComplete = "test_complete"
	EventShare        = "share"
	EventSessionEnd   = "session_end"
)

// TestData ties an event to the experiment and variant it was recorded under.
type TestData struct {
	TestID      string `json:"testId"`
	VariantID   string `json:"variantId,omitempty"`
	VariantName string `json:"variantName,omitempty"`
}

// Event is one tracking event. Events are immutable once written.
type Event struct {
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	UserID    string         `json:"userId"`
	EventName string         `json:"eventName"`
	TestData  *TestData      `json:"testData,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Log is an append-only newline-delimited JSON event store. Appends are
// atomic at the line level; reads tolerate corrupt lines by skipping them.
// There is no rotation and no compaction — the file grows unboundedly.
type Log struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string {
	return l.path
}

// Append durably writes one event before returning. A missing timestamp is
// assigned from the server clock. The storage directory is created lazily.
func (l *Log) Append(ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	// Single write keeps the line intact even with interleaved appends.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ReadAll scans the whole log. Lines that fail to parse are skipped, never
// fatal. A missing log file reads as empty.
func (l *Log) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	r := bufio.NewReader(f)
	for {
		// ReadBytes has no line length limit, so an oversized event never
		// poisons the rest of the log.
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var ev Event
			if jerr := json.Unmarshal(line, &ev); jerr == nil {
				events = append(events, ev)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event log: %w", err)
		}
	}

	return events, nil
}

// Size returns the log file size in bytes, 0 when the file does not exist.
func (l *Log) Size() int64 {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// FilterTest keeps events recorded under the given test id. An empty id
// keeps everything.
func FilterTest(events []Event, testID string) []Event {
	if testID == "" {
		return events
	}
	var out []Event
	for _, ev := range events {
		if ev.TestData != nil && ev.TestData.TestID == testID {
			out = append(out, ev)
		}
	}
	return out
}

// FilterRange keeps events with timestamps in [start, end] inclusive. A zero
// start defaults to epoch 0, a zero end to now.
func FilterRange(events []Event, start, end time.Time) []Event {
	if start.IsZero() && end.IsZero() {
		return events
	}
	if start.IsZero() {
		start = time.UnixMilli(0)
	}
	if end.IsZero() {
		end = time.Now()
	}

	var out []Event
	for _, ev := range events {
		t := ev.Time()
		if t.Before(start) || t.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ParseTime accepts RFC 3339 timestamps, plain dates, and epoch
// milliseconds, the formats the query endpoints see in practice.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
