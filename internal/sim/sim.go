// Package sim generates synthetic telemetry when no controller supplies it.
// pH is always simulated; the environmental fields only in demo mode.
package sim

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sweeney/tank-gateway/internal/state"
)

// DefaultInterval is the tick period.
const DefaultInterval = 3 * time.Second

// Range is a half-open interval [Min, Max).
type Range struct {
	Min, Max float64
}

func (r Range) sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Plausible ranges for each simulated field.
var (
	PHRange          = Range{5.5, 8.5}
	TemperatureRange = Range{25, 35}
	HumidityRange    = Range{40, 90}
	MethaneRange     = Range{100, 500}

	NitrogenRange   = Range{20, 200}
	PhosphorusRange = Range{10, 100}
	PotassiumRange  = Range{50, 300}
)

// Simulator writes synthetic samples into the store.
type Simulator struct {
	store *state.Store

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates a Simulator. A nil rng is seeded from the clock.
func New(store *state.Store, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{store: store, rng: rng}
}

// Sample draws one tick's worth of values without applying it.
func (s *Simulator) Sample() state.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.Sample{
		PH: round(PHRange.sample(s.rng), 2),
		Env: &state.Reading{
			TemperatureC:  round(TemperatureRange.sample(s.rng), 1),
			TemperatureOK: true,
			HumidityPct:   round(HumidityRange.sample(s.rng), 1),
			HumidityOK:    true,
			MethaneRaw:    uint(MethaneRange.sample(s.rng)),
			MethaneOK:     true,
		},
	}
}

// Tick applies one sample and returns the source that was in effect.
func (s *Simulator) Tick(now time.Time) state.Source {
	return s.store.ApplySimulation(s.Sample(), now)
}

// Run ticks on every value from tick until ctx is done.
func (s *Simulator) Run(ctx context.Context, tick <-chan time.Time) {
	log.Printf("sim: started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("sim: stopped")
			return
		case now := <-tick:
			s.Tick(now)
		}
	}
}

// ReadNPK takes a simulated nutrient reading. It only produces a value in
// demo mode, when the mock probe counts as attached.
func (s *Simulator) ReadNPK(now time.Time) (state.NPK, bool) {
	if !s.store.Snapshot().Demo {
		return state.NPK{}, false
	}
	s.mu.Lock()
	npk := state.NPK{
		N:          int(NitrogenRange.sample(s.rng)),
		P:          int(PhosphorusRange.sample(s.rng)),
		K:          int(PotassiumRange.sample(s.rng)),
		CapturedAt: now,
	}
	s.mu.Unlock()
	s.store.SetNPK(npk)
	return npk, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
