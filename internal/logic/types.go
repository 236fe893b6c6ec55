// Package logic contains pure business logic for turning debounce states into
// button events and indicator levels.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/debounced-pin/internal/debounce"
)

// EventType represents a button transition event.
type EventType string

const (
	EventPressed  EventType = "PRESSED"
	EventReleased EventType = "RELEASED"
)

// Event represents a debounced transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     debounce.State
	// Held is how long the button was active. Set on EventReleased only.
	Held time.Duration
	// Long reports whether Held reached the long-press threshold.
	Long bool
}

// Input represents the result of a single debounce update.
type Input struct {
	State debounce.State
	Time  time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Pressed     int
	Released    int
	LongPresses int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
