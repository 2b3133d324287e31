package logic

import "time"

// Detector debounces the demo jumper input.
type Detector struct {
	debounceDuration time.Duration
	ch               ChannelState
	counts           EventCounts
}

// NewDetector creates a jumper detector with the given debounce duration.
func NewDetector(debounceDuration time.Duration) *Detector {
	return &Detector{debounceDuration: debounceDuration}
}

// Process takes a new input sample and returns the event to apply, if any.
// The first stable reading returns a Baseline event so the gateway starts in
// the jumper's position; later events are emitted only on transitions.
func (d *Detector) Process(input Input) *Event {
	newState := boolToState(input.Present)
	ch := &d.ch

	if !ch.Baselined {
		if ch.Pending != newState {
			ch.Pending = newState
			ch.PendingSince = input.Time
			if d.debounceDuration > 0 {
				return nil
			}
		}
		if input.Time.Sub(ch.PendingSince) < d.debounceDuration {
			return nil
		}
		ch.Stable = newState
		ch.Baselined = true
		ch.Pending = ""
		return &Event{Timestamp: input.Time, Type: eventTypeFor(newState), State: newState, Baseline: true}
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return nil
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = input.Time
		if d.debounceDuration > 0 {
			return nil
		}
	}

	if input.Time.Sub(ch.PendingSince) < d.debounceDuration {
		return nil
	}

	ch.Stable = newState
	ch.Pending = ""
	if newState == StateOn {
		d.counts.DemoOn++
	} else {
		d.counts.DemoOff++
	}
	return &Event{Timestamp: input.Time, Type: eventTypeFor(newState), State: newState}
}

func boolToState(b bool) State {
	if b {
		return StateOn
	}
	return StateOff
}

func eventTypeFor(s State) EventType {
	if s == StateOn {
		return EventDemoOn
	}
	return EventDemoOff
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.ch.Baselined
}

// CurrentState returns the current stable state, or "" before baseline.
func (d *Detector) CurrentState() State {
	return d.ch.Stable
}

// Counts returns the transitions seen since startup.
func (d *Detector) Counts() EventCounts {
	return d.counts
}
