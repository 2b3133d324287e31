// Package mqtt publishes gateway state to MQTT and accepts relay commands,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/tank-gateway/internal/state"
)

// DefaultTopicPrefix is the root of every gateway topic.
const DefaultTopicPrefix = "tank/gateway"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventHeartbeat   = "HEARTBEAT"
	EventShutdown    = "SHUTDOWN"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
)

// ErrBadCommand is returned for relay command messages that cannot be applied.
var ErrBadCommand = errors.New("mqtt: bad relay command")

// Topics holds the topic names derived from a prefix.
type Topics struct {
	Prefix    string
	Telemetry string
	Relays    string
	System    string
	// RelaySet is the subscription filter for relay commands.
	RelaySet string
}

// TopicsFor derives all topics from prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Prefix:    prefix,
		Telemetry: prefix + "/telemetry",
		Relays:    prefix + "/relays",
		System:    prefix + "/system",
		RelaySet:  prefix + "/relay/+/set",
	}
}

// ParseRelayCommand decodes a message on <prefix>/relay/{id}/set.
// The payload is ON or OFF, case-insensitive.
func (t Topics) ParseRelayCommand(topic string, payload []byte) (id int, on bool, err error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/relay/")
	if !ok {
		return 0, false, fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
	}
	idStr, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false, fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
	}
	id, err = strconv.Atoi(idStr)
	if err != nil || id < 1 || id > state.RelayCount {
		return 0, false, fmt.Errorf("%w: relay %q", ErrBadCommand, idStr)
	}

	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		return id, true, nil
	case "OFF":
		return id, false, nil
	default:
		return 0, false, fmt.Errorf("%w: payload %q", ErrBadCommand, payload)
	}
}

// CommandHandler is invoked for each valid relay command received.
type CommandHandler func(id int, on bool)

// Publisher publishes gateway state to MQTT.
type Publisher interface {
	// PublishTelemetry sends the latest sensor values (retained).
	PublishTelemetry(snap state.Snapshot) error

	// PublishRelays sends the relay states (retained).
	PublishRelays(snap state.Snapshot) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TelemetryPayload is the MQTT message for the telemetry topic.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains the telemetry details.
type TelemetryInner struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	state.TelemetryJSON
}

// FormatTelemetryPayload creates the JSON payload for the telemetry topic.
func FormatTelemetryPayload(snap state.Snapshot) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Telemetry: TelemetryInner{
			Timestamp:     snap.Now.UTC().Format(time.RFC3339),
			Source:        string(snap.Source()),
			TelemetryJSON: state.BuildTelemetry(snap.Telemetry),
		},
	})
}

// RelaysPayload is the MQTT message for the relays topic.
type RelaysPayload struct {
	Relays RelaysInner `json:"relays"`
}

// RelaysInner contains the relay details.
type RelaysInner struct {
	Timestamp  string           `json:"timestamp"`
	Connection string           `json:"connection"`
	States     state.RelaysJSON `json:"states"`
}

// FormatRelaysPayload creates the JSON payload for the relays topic.
func FormatRelaysPayload(snap state.Snapshot) ([]byte, error) {
	return json.Marshal(RelaysPayload{
		Relays: RelaysInner{
			Timestamp:  snap.Now.UTC().Format(time.RFC3339),
			Connection: string(snap.Connection),
			States:     state.BuildRelays(snap.Relays),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
