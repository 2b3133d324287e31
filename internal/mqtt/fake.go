package mqtt

import (
	"sync"

	"github.com/sweeney/tank-gateway/internal/state"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Telemetry contains every telemetry snapshot that was published.
	Telemetry []state.Snapshot

	// Relays contains every relay snapshot that was published.
	Relays []state.Snapshot

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by every publish call.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	// Topics and OnCommand are used by Deliver.
	Topics    Topics
	OnCommand CommandHandler
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Topics: TopicsFor(DefaultTopicPrefix)}
}

// PublishTelemetry records the snapshot.
func (f *FakePublisher) PublishTelemetry(snap state.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, snap)
	return nil
}

// PublishRelays records the snapshot.
func (f *FakePublisher) PublishRelays(snap state.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Relays = append(f.Relays, snap)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// SetPublishError makes every later publish call fail with err.
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// Deliver simulates an inbound message on topic.
func (f *FakePublisher) Deliver(topic string, payload []byte) error {
	id, on, err := f.Topics.ParseRelayCommand(topic, payload)
	if err != nil {
		return err
	}
	if f.OnCommand != nil {
		f.OnCommand(id, on)
	}
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Snapshot returns copies of the recorded messages.
func (f *FakePublisher) Snapshot() (telemetry, relays []state.Snapshot, system []SystemEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.Snapshot(nil), f.Telemetry...),
		append([]state.Snapshot(nil), f.Relays...),
		append([]SystemEvent(nil), f.SystemEvents...)
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Telemetry = nil
	f.Relays = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
}
