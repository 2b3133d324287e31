// Package logic contains pure decision logic for the gateway's demo jumper
// and heartbeat scheduling.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the debounced state of the demo jumper.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType represents a demo jumper transition.
type EventType string

const (
	EventDemoOn  EventType = "DEMO_ON"
	EventDemoOff EventType = "DEMO_OFF"
)

// Event is a debounced jumper state to apply to the gateway.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	// Baseline is set on the first stable reading after startup.
	Baseline bool
}

// On reports whether the event puts the gateway into demo mode.
func (e Event) On() bool {
	return e.State == StateOn
}

// ChannelState tracks debounce state for the jumper input.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single sample of the jumper.
type Input struct {
	Present bool // true = jumper fitted (already inverted from raw GPIO)
	Time    time.Time
}

// EventCounts tracks jumper transitions since startup.
type EventCounts struct {
	DemoOn  int
	DemoOff int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
