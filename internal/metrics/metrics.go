// Package metrics holds the Prometheus collectors for the tank gateway.
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/tank-gateway/internal/state"
)

const namespace = "tank_gateway"

// Record results for RecordsTotal.
const (
	ResultApplied   = "applied"
	ResultDiscarded = "discarded"
)

// Metrics contains the gateway collectors.
type Metrics struct {
	RecordsTotal       *prometheus.CounterVec
	RelayCommandsTotal *prometheus.CounterVec
	DisconnectsTotal   *prometheus.CounterVec
	ConnectionState    prometheus.Gauge
	Temperature        prometheus.Gauge
	Humidity           prometheus.Gauge
	Methane            prometheus.Gauge
	PH                 prometheus.Gauge
	RelayState         *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Telemetry records received from the controller, by parse result",
			},
			[]string{"result"},
		),
		RelayCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_commands_total",
				Help:      "Relay commands by relay, requested state and outcome",
			},
			[]string{"relay", "state", "result"},
		),
		DisconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disconnects_total",
				Help:      "Serial session teardowns by reason",
			},
			[]string{"reason"},
		),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Serial session state (0=disconnected, 1=connecting, 2=connected)",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Latest tank temperature",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Latest tank humidity",
		}),
		Methane: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "methane_raw",
			Help:      "Latest raw MQ4 analog reading",
		}),
		PH: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ph",
			Help:      "Latest pH value",
		}),
		RelayState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_on",
				Help:      "Relay state (0=off, 1=on)",
			},
			[]string{"relay"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RecordsTotal,
			m.RelayCommandsTotal,
			m.DisconnectsTotal,
			m.ConnectionState,
			m.Temperature,
			m.Humidity,
			m.Methane,
			m.PH,
			m.RelayState,
		)
	}
	return m
}

// RecordRecord counts one telemetry record.
func (m *Metrics) RecordRecord(result string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(result).Inc()
}

// RecordRelayCommand counts one relay command attempt.
func (m *Metrics) RecordRelayCommand(id int, on bool, result string) {
	if m == nil {
		return
	}
	m.RelayCommandsTotal.WithLabelValues(strconv.Itoa(id), state.OnOff(on), result).Inc()
}

// RecordDisconnect counts one session teardown.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(reason).Inc()
}

// Observe copies gauge values from a snapshot.
func (m *Metrics) Observe(snap state.Snapshot) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(connectionValue(snap.Connection))
	m.Temperature.Set(snap.Telemetry.TemperatureC)
	m.Humidity.Set(snap.Telemetry.HumidityPct)
	m.Methane.Set(float64(snap.Telemetry.MethaneRaw))
	m.PH.Set(snap.Telemetry.PH)
	for i, on := range snap.Relays {
		v := 0.0
		if on {
			v = 1
		}
		m.RelayState.WithLabelValues(strconv.Itoa(i + 1)).Set(v)
	}
}

func connectionValue(c state.ConnectionState) float64 {
	switch c {
	case state.Connecting:
		return 1
	case state.Connected:
		return 2
	default:
		return 0
	}
}
