package state

import (
	"encoding/json"
	"strconv"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Connection    string        `json:"connection"`
	Port          string        `json:"port,omitempty"`
	Source        string        `json:"source"`
	Demo          bool          `json:"demo"`
	Telemetry     TelemetryJSON `json:"telemetry"`
	Relays        RelaysJSON    `json:"relays"`
	NPK           *NPKJSON      `json:"npk,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Heartbeat     *Heartbeat    `json:"heartbeat,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// Heartbeat carries the counters reported with HEARTBEAT events.
type Heartbeat struct {
	DemoOn  int `json:"demo_on"`
	DemoOff int `json:"demo_off"`
}

// TelemetryJSON is the JSON representation of the sensor snapshot.
type TelemetryJSON struct {
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	MethaneRaw   uint    `json:"methane_raw"`
	PH           float64 `json:"ph"`
	CapturedAt   string  `json:"captured_at,omitempty"`
}

// RelaysJSON reports relay states as ON/OFF keyed by relay id.
type RelaysJSON map[string]string

// NPKJSON is the JSON representation of a nutrient reading.
type NPKJSON struct {
	N          int    `json:"n"`
	P          int    `json:"p"`
	K          int    `json:"k"`
	CapturedAt string `json:"captured_at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Port          string `json:"port"`
	Baud          int    `json:"baud"`
	Broker        string `json:"broker"`
	TopicPrefix   string `json:"topic_prefix"`
	HTTPAddr      string `json:"http_addr"`
	WSBroker      string `json:"ws_broker,omitempty"`
	SimIntervalMs int64  `json:"sim_interval_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
}

// OnOff renders a relay state.
func OnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// BuildTelemetry returns the JSON form of a telemetry snapshot.
func BuildTelemetry(t Telemetry) TelemetryJSON {
	tj := TelemetryJSON{
		TemperatureC: t.TemperatureC,
		HumidityPct:  t.HumidityPct,
		MethaneRaw:   t.MethaneRaw,
		PH:           t.PH,
	}
	if !t.CapturedAt.IsZero() {
		tj.CapturedAt = t.CapturedAt.UTC().Format(time.RFC3339)
	}
	return tj
}

// BuildRelays returns the JSON form of the relay states.
func BuildRelays(relays [RelayCount]bool) RelaysJSON {
	rj := make(RelaysJSON, RelayCount)
	for i, on := range relays {
		rj[strconv.Itoa(i+1)] = OnOff(on)
	}
	return rj
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Connection:    string(snap.Connection),
		Port:          snap.Port,
		Source:        string(snap.Source()),
		Demo:          snap.Demo,
		Telemetry:     BuildTelemetry(snap.Telemetry),
		Relays:        BuildRelays(snap.Relays),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Port:          snap.Config.Port,
			Baud:          snap.Config.Baud,
			Broker:        snap.Config.Broker,
			TopicPrefix:   snap.Config.TopicPrefix,
			HTTPAddr:      snap.Config.HTTPAddr,
			WSBroker:      snap.Config.WSBroker,
			SimIntervalMs: snap.Config.SimIntervalMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
		},
	}
	if inner.Connection == "" {
		inner.Connection = string(Disconnected)
	}
	if !snap.NPK.CapturedAt.IsZero() {
		inner.NPK = &NPKJSON{
			N:          snap.NPK.N,
			P:          snap.NPK.P,
			K:          snap.NPK.K,
			CapturedAt: snap.NPK.CapturedAt.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatHeartbeat returns the JSON status for an MQTT HEARTBEAT event.
func FormatHeartbeat(snap Snapshot, hb Heartbeat) []byte {
	inner := buildInner(snap)
	inner.Event = "HEARTBEAT"
	inner.Heartbeat = &hb
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
