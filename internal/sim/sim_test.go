package sim

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-gateway/internal/state"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newSim(store *state.Store) *Simulator {
	return New(store, rand.New(rand.NewSource(42)))
}

func inRange(t *testing.T, r Range, v float64) {
	t.Helper()
	assert.GreaterOrEqual(t, v, r.Min)
	assert.LessOrEqual(t, v, r.Max)
}

func TestSampleRanges(t *testing.T) {
	s := newSim(state.NewStore(t0, state.Config{}))
	for i := 0; i < 500; i++ {
		smp := s.Sample()
		inRange(t, PHRange, smp.PH)
		require.NotNil(t, smp.Env)
		inRange(t, TemperatureRange, smp.Env.TemperatureC)
		inRange(t, HumidityRange, smp.Env.HumidityPct)
		inRange(t, MethaneRange, float64(smp.Env.MethaneRaw))
	}
}

func TestTickNoSourceOnlyPH(t *testing.T) {
	store := state.NewStore(t0, state.Config{})
	s := newSim(store)

	src := s.Tick(t0)
	assert.Equal(t, state.SourceNone, src)

	tel := store.Snapshot().Telemetry
	inRange(t, PHRange, tel.PH)
	assert.Zero(t, tel.TemperatureC)
	assert.Zero(t, tel.HumidityPct)
	assert.Zero(t, tel.MethaneRaw)
}

func TestTickDemoSimulatesEverything(t *testing.T) {
	store := state.NewStore(t0, state.Config{})
	store.SetDemo(true)
	s := newSim(store)

	assert.Equal(t, state.SourceDemo, s.Tick(t0))

	tel := store.Snapshot().Telemetry
	inRange(t, TemperatureRange, tel.TemperatureC)
	inRange(t, HumidityRange, tel.HumidityPct)
	inRange(t, MethaneRange, float64(tel.MethaneRaw))
	assert.Equal(t, t0, tel.CapturedAt)
}

func TestTickLiveOnlyChangesPH(t *testing.T) {
	store := state.NewStore(t0, state.Config{})
	store.SetDemo(true)
	store.SetConnected("/dev/ttyACM0")
	store.ApplyReading(state.Reading{
		TemperatureC: 21.5, TemperatureOK: true,
		HumidityPct: 55, HumidityOK: true,
		MethaneRaw: 321, MethaneOK: true,
	}, t0)
	s := newSim(store)

	phs := make(map[float64]bool)
	for i := 0; i < 20; i++ {
		assert.Equal(t, state.SourceLive, s.Tick(t0.Add(time.Duration(i)*DefaultInterval)))
		tel := store.Snapshot().Telemetry
		assert.Equal(t, 21.5, tel.TemperatureC)
		assert.Equal(t, 55.0, tel.HumidityPct)
		assert.Equal(t, uint(321), tel.MethaneRaw)
		phs[tel.PH] = true
	}
	assert.Greater(t, len(phs), 1, "pH should keep changing")
}

func TestRun(t *testing.T) {
	store := state.NewStore(t0, state.Config{})
	s := newSim(store)
	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	done := make(chan struct{})

	go func() {
		s.Run(ctx, tick)
		close(done)
	}()

	tick <- t0
	tick <- t0.Add(DefaultInterval)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, t0.Add(DefaultInterval), store.Snapshot().Telemetry.CapturedAt)
}

func TestReadNPK(t *testing.T) {
	store := state.NewStore(t0, state.Config{})
	s := newSim(store)

	_, ok := s.ReadNPK(t0)
	assert.False(t, ok, "no reading without demo")
	assert.True(t, store.Snapshot().NPK.CapturedAt.IsZero())

	store.SetDemo(true)
	npk, ok := s.ReadNPK(t0)
	require.True(t, ok)
	inRange(t, NitrogenRange, float64(npk.N))
	inRange(t, PhosphorusRange, float64(npk.P))
	inRange(t, PotassiumRange, float64(npk.K))
	assert.Equal(t, npk, store.Snapshot().NPK)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 6.57, round(6.5678, 2))
	assert.Equal(t, 30.1, round(30.05000001, 1))
}
