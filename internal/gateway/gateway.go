// Package gateway wires the serial session, the telemetry pipeline, the
// relay controller and the simulator behind the small set of operations
// the presentation layer may call.
package gateway

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/relay"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/sim"
	"github.com/sweeney/tank-gateway/internal/state"
	"github.com/sweeney/tank-gateway/internal/telemetry"
)

// Gateway is the single entry point for the presentation layer.
type Gateway struct {
	store   *state.Store
	sess    *serial.Session
	relays  *relay.Controller
	sim     *sim.Simulator
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a Gateway. The simulator may be nil, in which case NPK reads
// always report no probe.
func New(store *state.Store, sess *serial.Session, simulator *sim.Simulator, m *metrics.Metrics) *Gateway {
	return &Gateway{
		store:   store,
		sess:    sess,
		relays:  relay.NewController(sess, store, m),
		sim:     simulator,
		metrics: m,
		now:     time.Now,
	}
}

// Connect opens the serial session and starts the read loop. A cancelled
// selection and an already open session are not errors. Any other failure
// is returned as a *serial.ConnectionError; the gateway stays Disconnected
// and the caller may retry.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		log.Printf("gateway: connect ignored, shutting down")
		return nil
	}
	// Counted before Open so Shutdown waits for a connect in flight.
	g.wg.Add(1)
	g.mu.Unlock()

	r, err := g.sess.Open(ctx)
	switch {
	case err == nil:
	case errors.Is(err, serial.ErrCancelled):
		g.wg.Done()
		return nil
	case errors.Is(err, serial.ErrAlreadyOpen):
		g.wg.Done()
		log.Printf("gateway: connect ignored, session already open")
		return nil
	default:
		g.wg.Done()
		return err
	}

	go func() {
		defer g.wg.Done()
		g.readLoop(r)
	}()
	return nil
}

// Disconnect closes the session. The read loop exits and relays are reset.
func (g *Gateway) Disconnect() error {
	return g.sess.Close()
}

// Toggle drives a relay. See relay.Controller.Toggle.
func (g *Gateway) Toggle(id int, on bool) error {
	return g.relays.Toggle(id, on)
}

// SetDemo sets the demo presence flag.
func (g *Gateway) SetDemo(on bool) {
	g.store.SetDemo(on)
	log.Printf("gateway: demo mode %s", state.OnOff(on))
}

// ReadNPK takes a nutrient reading from the demo probe.
func (g *Gateway) ReadNPK() (state.NPK, bool) {
	if g.sim == nil {
		return state.NPK{}, false
	}
	return g.sim.ReadNPK(g.now())
}

// Snapshot returns the current gateway state.
func (g *Gateway) Snapshot() state.Snapshot {
	return g.store.Snapshot()
}

// Shutdown closes the session and waits for the read loop to finish. A
// connect in progress is abandoned and later connects are ignored.
func (g *Gateway) Shutdown() error {
	g.mu.Lock()
	g.shutdown = true
	g.mu.Unlock()

	err := g.Disconnect()
	g.wg.Wait()
	return err
}

func (g *Gateway) readLoop(r *serial.Reader) {
	log.Printf("gateway: read loop started")
	asm := telemetry.NewAssembler(g.handleRecord)
	if err := asm.Run(r); err != nil {
		log.Printf("gateway: read loop ended: %v", err)
		return
	}
	log.Printf("gateway: read loop stopped")
}

func (g *Gateway) handleRecord(record string) {
	if strings.TrimSpace(record) == "" {
		return
	}
	reading, ok := telemetry.Parse(record)
	if !ok {
		g.metrics.RecordRecord(metrics.ResultDiscarded)
		return
	}
	if !g.store.ApplyReading(reading, g.now()) {
		// Every labelled value was unparseable.
		g.metrics.RecordRecord(metrics.ResultDiscarded)
		return
	}
	g.metrics.RecordRecord(metrics.ResultApplied)
}
