package internal

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/tank-gateway/internal/gateway"
	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/mqtt"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/sim"
	"github.com/sweeney/tank-gateway/internal/state"
	"github.com/sweeney/tank-gateway/internal/web"
)

type rig struct {
	store *state.Store
	gw    *gateway.Gateway
	sim   *sim.Simulator
	pub   *mqtt.FakePublisher
	http  *httptest.Server
	ports []*serial.FakePort
}

func newRig(t *testing.T, nPorts int) *rig {
	t.Helper()
	r := &rig{store: state.NewStore(time.Now(), state.Config{Baud: serial.DefaultBaud})}
	for i := 0; i < nPorts; i++ {
		r.ports = append(r.ports, serial.NewFakePort())
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sess := serial.NewSession(r.store, serial.Config{
		Selector: serial.FixedSelector("/dev/ttyACM0"),
		Opener:   serial.NewFakeOpener(r.ports...).Open,
		Metrics:  m,
	})
	r.sim = sim.New(r.store, rand.New(rand.NewSource(42)))
	r.gw = gateway.New(r.store, sess, r.sim, m)
	t.Cleanup(func() { r.gw.Shutdown() })

	r.pub = mqtt.NewFakePublisher()
	r.pub.OnCommand = func(id int, on bool) {
		if err := r.gw.Toggle(id, on); err != nil {
			t.Errorf("toggle from mqtt: %v", err)
		}
	}

	r.http = httptest.NewServer(web.New(":0", r.gw, reg).Handler())
	t.Cleanup(r.http.Close)
	return r
}

func (r *rig) post(t *testing.T, path string) state.StatusJSON {
	t.Helper()
	resp, err := http.Post(r.http.URL+path, "", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
	var sj state.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return sj
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestIntegrationFullFlow drives the gateway from the HTTP and MQTT surfaces
// down to the serial wire using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t, 1)
	port := r.ports[0]

	sj := r.post(t, "/api/connect")
	if sj.Status.Connection != "CONNECTED" {
		t.Fatalf("connect: got %q", sj.Status.Connection)
	}

	port.Feed("Te", "mp: 25.5 | Humidity: 6", "0.0 % | MQ4 Analog: 300\n")
	waitFor(t, "telemetry", func() bool { return r.store.Snapshot().Telemetry.MethaneRaw == 300 })

	tel := r.store.Snapshot().Telemetry
	if tel.TemperatureC != 25.5 || tel.HumidityPct != 60 {
		t.Errorf("telemetry: got %+v", tel)
	}

	if err := r.pub.Deliver("tank/gateway/relay/1/set", []byte("ON")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	sj = r.post(t, "/api/relay/2?state=on")
	if sj.Status.Relays["1"] != "ON" || sj.Status.Relays["2"] != "ON" {
		t.Errorf("relays: got %v", sj.Status.Relays)
	}
	if got := port.Written(); got != "R1ON\nR2ON\n" {
		t.Errorf("wire: got %q", got)
	}

	port.FailRead(errors.New("device unplugged"))
	waitFor(t, "disconnect", func() bool { return r.store.Snapshot().Connection == state.Disconnected })

	snap := r.store.Snapshot()
	if snap.Relay(1) || snap.Relay(2) {
		t.Error("relays must be forced off after an I/O error")
	}

	// Relay commands are no-ops while disconnected.
	if err := r.pub.Deliver("tank/gateway/relay/2/set", []byte("ON")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if port.Writes() != 2 {
		t.Errorf("expected no writes after disconnect, got %d", port.Writes())
	}
}

func TestIntegrationPartialRecordsIgnored(t *testing.T) {
	r := newRig(t, 1)
	port := r.ports[0]
	r.post(t, "/api/connect")

	port.Feed("Temp: 20 | Humidity: 50 | MQ4 Analog: 100\n")
	waitFor(t, "first record", func() bool { return r.store.Snapshot().Telemetry.MethaneRaw == 100 })

	port.Feed("Temp: 99.9 | MQ4 Analog: 999\n", "garbage\n", "Humidity: 10\n")
	port.Feed("MQ4 Analog: 101 Humidity: 51 Temp: 21\n")
	waitFor(t, "last record", func() bool { return r.store.Snapshot().Telemetry.MethaneRaw == 101 })

	tel := r.store.Snapshot().Telemetry
	if tel.TemperatureC != 21 || tel.HumidityPct != 51 {
		t.Errorf("partial records leaked into state: %+v", tel)
	}
}

func TestIntegrationDemoThenLive(t *testing.T) {
	r := newRig(t, 1)
	port := r.ports[0]

	// No source: only pH moves.
	if src := r.sim.Tick(time.Now()); src != state.SourceNone {
		t.Fatalf("source: got %s, want NONE", src)
	}
	if tel := r.store.Snapshot().Telemetry; tel.TemperatureC != 0 || tel.MethaneRaw != 0 {
		t.Errorf("environment should be untouched without a source: %+v", tel)
	}

	sj := r.post(t, "/api/demo?on=true")
	if sj.Status.Source != "DEMO" {
		t.Fatalf("source: got %q, want DEMO", sj.Status.Source)
	}
	r.sim.Tick(time.Now())
	demo := r.store.Snapshot().Telemetry
	if demo.TemperatureC < sim.TemperatureRange.Min || demo.TemperatureC > sim.TemperatureRange.Max {
		t.Errorf("demo temperature out of range: %v", demo.TemperatureC)
	}

	sj = r.post(t, "/api/npk")
	if sj.Status.NPK == nil {
		t.Error("expected NPK reading in demo mode")
	}

	r.post(t, "/api/connect")
	port.Feed("Temp: 18.5 | Humidity: 45 | MQ4 Analog: 222\n")
	waitFor(t, "live record", func() bool { return r.store.Snapshot().Telemetry.MethaneRaw == 222 })

	for i := 0; i < 5; i++ {
		if src := r.sim.Tick(time.Now()); src != state.SourceLive {
			t.Fatalf("tick %d: source %s, want LIVE", i, src)
		}
	}
	live := r.store.Snapshot().Telemetry
	if live.TemperatureC != 18.5 || live.HumidityPct != 45 || live.MethaneRaw != 222 {
		t.Errorf("simulation overwrote live fields: %+v", live)
	}
}

func TestIntegrationReconnect(t *testing.T) {
	r := newRig(t, 2)

	r.post(t, "/api/connect")
	r.post(t, "/api/relay/1?state=on")
	sj := r.post(t, "/api/disconnect")
	if sj.Status.Connection != "DISCONNECTED" || sj.Status.Relays["1"] != "OFF" {
		t.Errorf("after disconnect: %+v", sj.Status)
	}
	if !r.ports[0].IsClosed() {
		t.Error("first port should be closed")
	}

	r.post(t, "/api/connect")
	r.ports[1].Feed("Temp: 30 | Humidity: 40 | MQ4 Analog: 150\n")
	waitFor(t, "record on second link", func() bool { return r.store.Snapshot().Telemetry.MethaneRaw == 150 })
}
