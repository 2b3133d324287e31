// Package state provides the thread-safe state store for the tank gateway.
// It is written by the serial read loop, the relay controller and the
// simulator, and read by the HTTP server and the MQTT publisher.
package state

import (
	"math"
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of the serial session.
type ConnectionState string

const (
	Disconnected ConnectionState = "DISCONNECTED"
	Connecting   ConnectionState = "CONNECTING"
	Connected    ConnectionState = "CONNECTED"
)

// Source identifies where the environmental telemetry fields come from.
type Source string

const (
	SourceNone Source = "NONE"
	SourceDemo Source = "DEMO"
	SourceLive Source = "LIVE"
)

// SourceFor derives the effective telemetry source. A live session always
// takes precedence over the demo flag.
func SourceFor(demo, live bool) Source {
	switch {
	case live:
		return SourceLive
	case demo:
		return SourceDemo
	default:
		return SourceNone
	}
}

// RelayCount is the number of relay channels on the controller.
const RelayCount = 2

// DefaultPH is the pH reported before the first simulated sample.
const DefaultPH = 7.0

// Telemetry is the latest value of every tank sensor field.
type Telemetry struct {
	TemperatureC float64
	HumidityPct  float64
	MethaneRaw   uint
	PH           float64
	CapturedAt   time.Time // zero until the first write
}

// Reading carries the fields extracted from one telemetry record.
// A field whose OK flag is false keeps its previous value.
type Reading struct {
	TemperatureC  float64
	TemperatureOK bool
	HumidityPct   float64
	HumidityOK    bool
	MethaneRaw    uint
	MethaneOK     bool
}

// Sample is one simulator tick. Env is nil when the tick only resamples pH.
type Sample struct {
	PH  float64
	Env *Reading
}

// NPK holds the latest soil nutrient reading.
type NPK struct {
	N, P, K    int
	CapturedAt time.Time
}

// NetworkInfo contains host network state as reported by the environment.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Port          string
	Baud          int
	Broker        string
	TopicPrefix   string
	HTTPAddr      string
	WSBroker      string // Websocket broker URL for browser MQTT (empty = disabled)
	SimIntervalMs int64
	HeartbeatMs   int64
}

// Snapshot is a point-in-time view of gateway state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Connection    ConnectionState
	Port          string
	Telemetry     Telemetry
	Relays        [RelayCount]bool
	Demo          bool
	NPK           NPK
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Source returns the effective telemetry source for this snapshot.
func (s Snapshot) Source() Source {
	return SourceFor(s.Demo, s.Connection == Connected)
}

// Relay reports whether relay id (1-based) is on. Unknown ids report false.
func (s Snapshot) Relay(id int) bool {
	if id < 1 || id > RelayCount {
		return false
	}
	return s.Relays[id-1]
}

// Store holds mutable gateway state behind an RWMutex.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[chan struct{}]struct{}
}

// NewStore creates a Store with the given start time and config.
func NewStore(startTime time.Time, cfg Config) *Store {
	return &Store{
		snap: Snapshot{
			Connection: Disconnected,
			Telemetry:  Telemetry{PH: DefaultPH},
			StartTime:  startTime,
			Config:     cfg,
		},
		subs: make(map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives a signal after every change.
// Signals are coalesced: a slow reader sees one pending signal, then reads
// the latest Snapshot. The returned func cancels the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// notify must be called with mu held.
func (s *Store) notify() {
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetConnecting marks an open attempt in progress.
func (s *Store) SetConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Connection == Connecting {
		return
	}
	s.snap.Connection = Connecting
	s.notify()
}

// SetConnected marks the session live on the given port.
func (s *Store) SetConnected(port string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connection = Connected
	s.snap.Port = port
	s.notify()
}

// MarkDisconnected moves to Disconnected and forces every relay Off.
// The relay reset is unconditional.
func (s *Store) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connection = Disconnected
	s.snap.Port = ""
	s.snap.Relays = [RelayCount]bool{}
	s.notify()
}

// SetRelay records a confirmed relay state. It is refused unless the session
// is Connected, so a command racing with teardown cannot leave a relay On
// after the fail-safe reset. Returns whether the state was recorded.
func (s *Store) SetRelay(id int, on bool) bool {
	if id < 1 || id > RelayCount {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Connection != Connected {
		return false
	}
	s.snap.Relays[id-1] = on
	s.notify()
	return true
}

// ApplyReading writes the valid fields of a parsed record. pH is never
// touched. Returns whether any field was written.
func (s *Store) ApplyReading(r Reading, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applyEnv(r) {
		return false
	}
	s.snap.Telemetry.CapturedAt = at
	s.notify()
	return true
}

// ApplySimulation writes one simulator tick. pH is always written. The
// environmental fields are written only when no live session is Connected
// and the demo flag is set; the check and the write happen under one lock.
// Returns the source that was in effect.
func (s *Store) ApplySimulation(sample Sample, at time.Time) Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.snap.Source()

	changed := false
	if valid(sample.PH) {
		s.snap.Telemetry.PH = sample.PH
		changed = true
	}
	if src == SourceDemo && sample.Env != nil {
		if s.applyEnv(*sample.Env) {
			changed = true
		}
	}
	if changed {
		s.snap.Telemetry.CapturedAt = at
		s.notify()
	}
	return src
}

func (s *Store) applyEnv(r Reading) bool {
	changed := false
	if r.TemperatureOK && valid(r.TemperatureC) {
		s.snap.Telemetry.TemperatureC = r.TemperatureC
		changed = true
	}
	if r.HumidityOK && valid(r.HumidityPct) {
		s.snap.Telemetry.HumidityPct = r.HumidityPct
		changed = true
	}
	if r.MethaneOK {
		s.snap.Telemetry.MethaneRaw = r.MethaneRaw
		changed = true
	}
	return changed
}

func valid(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// SetDemo sets the demo presence flag.
func (s *Store) SetDemo(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Demo == on {
		return
	}
	s.snap.Demo = on
	s.notify()
}

// SetNPK records a nutrient reading.
func (s *Store) SetNPK(npk NPK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.NPK = npk
	s.notify()
}

// SetMQTTConnected sets the MQTT connection status.
func (s *Store) SetMQTTConnected(connected bool) {
	s.mu.Lock()
	s.snap.MQTTConnected = connected
	s.mu.Unlock()
}

// SetNetwork sets the network info.
func (s *Store) SetNetwork(info *NetworkInfo) {
	s.mu.Lock()
	s.snap.Network = info
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the gateway state.
// The Now field is set to the current time at the moment of the call.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	snap.Now = time.Now()
	return snap
}
