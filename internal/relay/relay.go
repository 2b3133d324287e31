// Package relay translates relay requests into controller commands.
// State is write-then-assume: the controller sends no acknowledgement, so a
// successful write is recorded as the new relay state.
package relay

import (
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/state"
)

// ErrUnknownRelay is returned for relay ids other than 1 and 2.
var ErrUnknownRelay = errors.New("relay: unknown relay")

// Command is one controller command line without its terminator.
type Command string

const (
	R1On  Command = "R1ON"
	R1Off Command = "R1OFF"
	R2On  Command = "R2ON"
	R2Off Command = "R2OFF"
)

// Terminator ends every command on the wire.
const Terminator = "\n"

// Names are display names for the relay channels.
var Names = [state.RelayCount]string{"Heater", "Agitator"}

// CommandFor returns the command that drives relay id to on.
func CommandFor(id int, on bool) (Command, error) {
	if id < 1 || id > state.RelayCount {
		return "", fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	suffix := "OFF"
	if on {
		suffix = "ON"
	}
	return Command(fmt.Sprintf("R%d%s", id, suffix)), nil
}

// Wire returns the command as written to the port.
func (c Command) Wire() string {
	return string(c) + Terminator
}

// Writer is the command sink, normally a *serial.Session.
type Writer interface {
	Connected() bool
	Write(cmd string) error
}

// Result labels for metrics.
const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

// Controller issues relay commands.
type Controller struct {
	w       Writer
	store   *state.Store
	metrics *metrics.Metrics
}

// NewController creates a Controller writing to w and recording into store.
func NewController(w Writer, store *state.Store, m *metrics.Metrics) *Controller {
	return &Controller{w: w, store: store, metrics: m}
}

// Toggle drives relay id to on. Without a connected writer it only logs and
// returns nil; callers are expected to gate the control on connection
// state. A write failure is returned after the writer's fail-safe path has
// forced both relays Off.
func (c *Controller) Toggle(id int, on bool) error {
	cmd, err := CommandFor(id, on)
	if err != nil {
		return err
	}

	if !c.w.Connected() {
		log.Printf("relay: writer not available, ignoring %s", cmd)
		c.metrics.RecordRelayCommand(id, on, resultSkipped)
		return nil
	}

	if err := c.w.Write(cmd.Wire()); err != nil {
		if errors.Is(err, serial.ErrNotConnected) {
			// The link closed after the Connected check.
			log.Printf("relay: writer closed, ignoring %s", cmd)
			c.metrics.RecordRelayCommand(id, on, resultSkipped)
			return nil
		}
		log.Printf("relay: failed to write %s: %v", cmd, err)
		c.metrics.RecordRelayCommand(id, on, resultFailed)
		return fmt.Errorf("relay %d: %w", id, err)
	}

	if !c.store.SetRelay(id, on) {
		// The link went down between the write and the update.
		log.Printf("relay: %s written but session closed; state stays OFF", cmd)
	}
	c.metrics.RecordRelayCommand(id, on, resultOK)
	log.Printf("relay: %d (%s) -> %s", id, Names[id-1], state.OnOff(on))
	return nil
}
