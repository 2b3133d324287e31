package serial

import (
	"context"
	"fmt"
	"log"
	"strings"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// OpenPort opens a real serial device at 8N1 framing.
func OpenPort(path string, baud int) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, err := bugst.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return p, nil
}

// USB vendor IDs of boards commonly used as the tank controller.
var knownVIDs = map[string]string{
	"2341": "Arduino",
	"2A03": "Arduino",
	"1A86": "CH340",
	"0403": "FTDI",
	"10C4": "CP210x",
}

// AutoSelector picks the first USB serial device, preferring known
// microcontroller boards.
type AutoSelector struct {
	// List enumerates ports. Defaults to enumerator.GetDetailedPortsList.
	List func() ([]*enumerator.PortDetails, error)
}

// Select enumerates USB serial ports and returns the best candidate.
func (a AutoSelector) Select(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrCancelled
	}
	list := a.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("%w: enumerate: %v", ErrNoPort, err)
	}
	if ctx.Err() != nil {
		return "", ErrCancelled
	}

	var fallback string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if board, ok := knownVIDs[strings.ToUpper(p.VID)]; ok {
			log.Printf("serial: selected %s (%s %s:%s)", p.Name, board, p.VID, p.PID)
			return p.Name, nil
		}
		if fallback == "" {
			fallback = p.Name
		}
	}
	if fallback == "" {
		return "", ErrNoPort
	}
	log.Printf("serial: selected %s (unknown USB device)", fallback)
	return fallback, nil
}
