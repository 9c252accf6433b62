package capture

import (
	"fmt"
	"strings"
	"time"
)

// EventType distinguishes a search submission from a result-link click.
type EventType string

const (
	EventSearch EventType = "search"
	EventClick  EventType = "click"
)

// Event is a single detected user action. Events are created by the detector,
// buffered by the delivery queue, and shipped to the backend in batches. They
// are never persisted on the client outside the in-memory queue.
type Event struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	URL       string    `json:"url"`
	Engine    string    `json:"engine"`
	Timestamp time.Time `json:"timestamp"`
	TabID     int       `json:"tabId"`
	WindowID  int       `json:"windowId"`
}

// Key returns the (query, url) deduplication key. Two events with the same
// key accepted within the dedup window are considered duplicates.
func (e *Event) Key() string {
	return e.Query + "\x00" + e.URL
}

// Age reports how old the event is relative to now.
func (e *Event) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Validate checks that the event is well-formed enough to persist. The
// ingestion endpoint rejects a whole batch if any event fails this check.
func (e *Event) Validate() error {
	switch e.Type {
	case EventSearch, EventClick:
	default:
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if strings.TrimSpace(e.Query) == "" {
		return fmt.Errorf("empty query")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}
