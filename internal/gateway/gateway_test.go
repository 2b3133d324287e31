package gateway

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/sim"
	"github.com/sweeney/tank-gateway/internal/state"
)

type fixture struct {
	gw      *Gateway
	store   *state.Store
	opener  *serial.FakeOpener
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, ports ...*serial.FakePort) *fixture {
	t.Helper()
	store := state.NewStore(time.Now(), state.Config{})
	m := metrics.New(prometheus.NewRegistry())
	opener := serial.NewFakeOpener(ports...)
	sess := serial.NewSession(store, serial.Config{
		Selector: serial.FixedSelector("/dev/ttyACM0"),
		Opener:   opener.Open,
		Metrics:  m,
	})
	gw := New(store, sess, sim.New(store, rand.New(rand.NewSource(1))), m)
	t.Cleanup(func() { gw.Shutdown() })
	return &fixture{gw: gw, store: store, opener: opener, metrics: m}
}

func (f *fixture) waitTelemetry(t *testing.T, cond func(state.Telemetry) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(f.store.Snapshot().Telemetry)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectParsesChunkedTelemetry(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)

	require.NoError(t, f.gw.Connect(context.Background()))
	assert.Equal(t, state.Connected, f.gw.Snapshot().Connection)

	port.Feed("Te", "mp: 25.5 | Humidity: 6", "0.0 % | MQ4 Analog: 300\n")

	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 300 })
	tel := f.gw.Snapshot().Telemetry
	assert.Equal(t, 25.5, tel.TemperatureC)
	assert.Equal(t, 60.0, tel.HumidityPct)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordsTotal.WithLabelValues(metrics.ResultApplied)))
}

func TestPartialRecordDiscarded(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)
	require.NoError(t, f.gw.Connect(context.Background()))

	port.Feed("Temp: 20 | Humidity: 50 | MQ4 Analog: 100\n")
	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 100 })

	port.Feed("Temp: 99 | Humidity: 99\n", "\r\n", "Temp: 21 | Humidity: 51 | MQ4 Analog: 101\n")
	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 101 })

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordsTotal.WithLabelValues(metrics.ResultDiscarded)))
	assert.Equal(t, 21.0, f.gw.Snapshot().Telemetry.TemperatureC)
}

func TestToggleAndFailSafeOnReadError(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)
	require.NoError(t, f.gw.Connect(context.Background()))

	require.NoError(t, f.gw.Toggle(1, true))
	require.NoError(t, f.gw.Toggle(2, true))
	assert.Equal(t, "R1ON\nR2ON\n", port.Written())
	snap := f.gw.Snapshot()
	require.True(t, snap.Relay(1))
	require.True(t, snap.Relay(2))

	port.FailRead(errors.New("input/output error"))

	require.Eventually(t, func() bool {
		return f.gw.Snapshot().Connection == state.Disconnected
	}, 2*time.Second, 5*time.Millisecond)
	snap = f.gw.Snapshot()
	assert.False(t, snap.Relay(1))
	assert.False(t, snap.Relay(2))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DisconnectsTotal.WithLabelValues(serial.ReasonReadError)))

	// Relay commands are now no-ops.
	require.NoError(t, f.gw.Toggle(1, true))
	assert.Equal(t, "R1ON\nR2ON\n", port.Written())
}

func TestToggleWithoutSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gw.Toggle(1, true))
	assert.Equal(t, [state.RelayCount]bool{}, f.gw.Snapshot().Relays)
}

func TestDisconnectStopsReadLoop(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)
	require.NoError(t, f.gw.Connect(context.Background()))
	require.NoError(t, f.gw.Toggle(2, true))

	done := make(chan struct{})
	go func() {
		f.gw.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after disconnect")
	}

	snap := f.gw.Snapshot()
	assert.Equal(t, state.Disconnected, snap.Connection)
	assert.False(t, snap.Relay(2))
	assert.True(t, port.IsClosed())
}

func TestReconnectAfterFailure(t *testing.T) {
	first, second := serial.NewFakePort(), serial.NewFakePort()
	f := newFixture(t, first, second)

	require.NoError(t, f.gw.Connect(context.Background()))
	first.FailRead(errors.New("unplugged"))
	require.Eventually(t, func() bool {
		return f.gw.Snapshot().Connection == state.Disconnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.gw.Connect(context.Background()))
	second.Feed("Temp: 30 | Humidity: 40 | MQ4 Analog: 150\n")
	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 150 })
}

func TestConnectCancelledIsSilent(t *testing.T) {
	f := newFixture(t, serial.NewFakePort())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, f.gw.Connect(ctx))
	assert.Equal(t, state.Disconnected, f.gw.Snapshot().Connection)
}

func TestConnectFailureReturnsConnectionError(t *testing.T) {
	f := newFixture(t)
	f.opener.Err = errors.New("no such file or directory")

	err := f.gw.Connect(context.Background())
	var ce *serial.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, state.Disconnected, f.gw.Snapshot().Connection)
}

func TestConnectTwiceIsNoop(t *testing.T) {
	f := newFixture(t, serial.NewFakePort(), serial.NewFakePort())
	require.NoError(t, f.gw.Connect(context.Background()))
	require.NoError(t, f.gw.Connect(context.Background()))
	assert.Len(t, f.opener.Paths, 1)
}

func TestLiveDataWinsOverSimulation(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)
	f.gw.SetDemo(true)
	require.NoError(t, f.gw.Connect(context.Background()))

	port.Feed("Temp: 18.5 | Humidity: 45 | MQ4 Analog: 222\n")
	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 222 })

	for i := 0; i < 10; i++ {
		assert.Equal(t, state.SourceLive, f.gw.sim.Tick(time.Now()))
	}
	tel := f.gw.Snapshot().Telemetry
	assert.Equal(t, 18.5, tel.TemperatureC)
	assert.Equal(t, 45.0, tel.HumidityPct)
	assert.Equal(t, uint(222), tel.MethaneRaw)
}

func TestReadNPK(t *testing.T) {
	f := newFixture(t)
	_, ok := f.gw.ReadNPK()
	assert.False(t, ok)

	f.gw.SetDemo(true)
	npk, ok := f.gw.ReadNPK()
	require.True(t, ok)
	assert.Equal(t, npk, f.gw.Snapshot().NPK)
}

func TestUnparseableRecordCountedAsDiscarded(t *testing.T) {
	port := serial.NewFakePort()
	f := newFixture(t, port)
	require.NoError(t, f.gw.Connect(context.Background()))

	port.Feed("Temp: . | Humidity: . | MQ4 Analog: 99999999999999999999999\n",
		"Temp: 22 | Humidity: 52 | MQ4 Analog: 102\n")
	f.waitTelemetry(t, func(tel state.Telemetry) bool { return tel.MethaneRaw == 102 })

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordsTotal.WithLabelValues(metrics.ResultDiscarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordsTotal.WithLabelValues(metrics.ResultApplied)))
}

// gatedSelector blocks in Select until release is closed.
type gatedSelector struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedSelector) Select(context.Context) (string, error) {
	close(g.entered)
	<-g.release
	return "/dev/ttyACM0", nil
}

func TestShutdownDuringConnect(t *testing.T) {
	port := serial.NewFakePort()
	store := state.NewStore(time.Now(), state.Config{})
	sel := gatedSelector{entered: make(chan struct{}), release: make(chan struct{})}
	sess := serial.NewSession(store, serial.Config{
		Selector: sel,
		Opener:   serial.NewFakeOpener(port).Open,
	})
	gw := New(store, sess, nil, nil)

	connected := make(chan error, 1)
	go func() { connected <- gw.Connect(context.Background()) }()
	<-sel.entered

	stopped := make(chan error, 1)
	go func() { stopped <- gw.Shutdown() }()

	// Shutdown must not return while the connect is still in flight.
	select {
	case <-stopped:
		t.Fatal("Shutdown returned before the pending connect finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(sel.release)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	assert.NoError(t, <-connected)
	assert.True(t, port.IsClosed())
	assert.Equal(t, state.Disconnected, gw.Snapshot().Connection)
}

func TestConnectAfterShutdownIgnored(t *testing.T) {
	f := newFixture(t, serial.NewFakePort())
	require.NoError(t, f.gw.Shutdown())

	require.NoError(t, f.gw.Connect(context.Background()))
	assert.Equal(t, state.Disconnected, f.gw.Snapshot().Connection)
	assert.Empty(t, f.opener.Paths)
}
