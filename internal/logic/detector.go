package logic

import (
	"time"

	"github.com/sweeney/debounced-pin/internal/debounce"
)

// Detector turns a stream of debounce states into press and release events.
type Detector struct {
	longPress     time.Duration
	state         debounce.State
	ready         bool
	pressed       bool
	pressedAt     time.Time
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a new event detector.
// Releases held for at least longPress are flagged as long; 0 disables this.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(longPress time.Duration, startTime time.Time) *Detector {
	return &Detector{
		longPress:     longPress,
		state:         debounce.StateNotActive,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes the state from one debounce update and returns any events
// that should be emitted. A press is reported once on entering StateActive
// and a release once on leaving it.
func (d *Detector) Process(input Input) []Event {
	d.state = input.State
	d.ready = true

	active := input.State == debounce.StateActive
	switch {
	case active && !d.pressed:
		d.pressed = true
		d.pressedAt = input.Time
		d.eventCounts.Pressed++
		return []Event{{
			Timestamp: input.Time,
			Type:      EventPressed,
			State:     input.State,
		}}

	case !active && d.pressed:
		// Normally StateReset; any other non-active state also ends the press.
		d.pressed = false
		held := input.Time.Sub(d.pressedAt)
		long := d.longPress > 0 && held >= d.longPress
		d.eventCounts.Released++
		if long {
			d.eventCounts.LongPresses++
		}
		return []Event{{
			Timestamp: input.Time,
			Type:      EventReleased,
			State:     input.State,
			Held:      held,
			Long:      long,
		}}
	}

	return nil
}

// IsReady returns whether at least one sample has been processed.
func (d *Detector) IsReady() bool {
	return d.ready
}

// IsPressed returns whether the button is currently held.
func (d *Detector) IsPressed() bool {
	return d.pressed
}

// CurrentState returns the most recent debounce state.
func (d *Detector) CurrentState() debounce.State {
	return d.state
}

// Counts returns a copy of the event counters.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if no sample has been processed, if
// the interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.ready {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
