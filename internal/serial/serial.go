// Package serial owns the byte-stream link to the tank controller.
// The real implementation uses go.bug.st/serial.
// The fake implementation allows testing without hardware.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultBaud is the controller's fixed line rate.
const DefaultBaud = 9600

// Port is an open byte-stream endpoint. Close must unblock a pending Read.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens the endpoint at path with the given baud rate.
type Opener func(path string, baud int) (Port, error)

// Selector picks which endpoint to open.
type Selector interface {
	Select(ctx context.Context) (string, error)
}

var (
	// ErrNoPort means no endpoint is available to open.
	ErrNoPort = errors.New("serial: no port available")
	// ErrCancelled means endpoint selection was abandoned by the caller.
	// It is an expected outcome, not a failure.
	ErrCancelled = errors.New("serial: port selection cancelled")
	// ErrNotConnected is returned by Write when no session is open.
	ErrNotConnected = errors.New("serial: not connected")
	// ErrAlreadyOpen is returned by Open while a session is open or opening.
	ErrAlreadyOpen = errors.New("serial: session already open")
)

// ConnectionError reports a failed attempt to open the endpoint.
type ConnectionError struct {
	Port string // empty when selection itself failed
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("serial: connect: %v", e.Err)
	}
	return fmt.Sprintf("serial: connect %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsCancelled reports whether err means the open attempt was abandoned.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// FixedSelector always selects the same endpoint path.
type FixedSelector string

// Select returns the fixed path.
func (p FixedSelector) Select(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrCancelled
	}
	if p == "" {
		return "", ErrNoPort
	}
	return string(p), nil
}
