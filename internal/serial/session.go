package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/state"
)

// Disconnect reasons reported to metrics.
const (
	ReasonClose      = "close"
	ReasonReadError  = "read_error"
	ReasonWriteError = "write_error"
	ReasonOpenError  = "open_error"
)

const readBufSize = 256

// Config configures a Session.
type Config struct {
	Selector Selector
	Opener   Opener // defaults to OpenPort
	Baud     int    // defaults to DefaultBaud
	Metrics  *metrics.Metrics
}

// Session owns at most one open link to the controller. It mirrors its
// lifecycle into the state store, and every teardown (explicit or after an
// I/O error) resets the relays Off.
type Session struct {
	store   *state.Store
	sel     Selector
	open    Opener
	baud    int
	metrics *metrics.Metrics

	mu      sync.Mutex
	link    *link
	opening bool
	closing bool // Close was called while opening

	writeMu sync.Mutex
}

// link is one open endpoint. A link is never reused after teardown.
type link struct {
	port Port
	path string
}

// NewSession creates a disconnected Session.
func NewSession(store *state.Store, cfg Config) *Session {
	if cfg.Opener == nil {
		cfg.Opener = OpenPort
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	return &Session{
		store:   store,
		sel:     cfg.Selector,
		open:    cfg.Opener,
		baud:    cfg.Baud,
		metrics: cfg.Metrics,
	}
}

// Open selects and opens the endpoint. On success the session is Connected
// and the returned Reader is the text source for this link; exactly one
// goroutine should drain it.
//
// Selection abandoned by the caller returns ErrCancelled and leaves the
// session Disconnected. Any other failure returns a *ConnectionError.
func (s *Session) Open(ctx context.Context) (*Reader, error) {
	s.mu.Lock()
	if s.link != nil || s.opening {
		s.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	s.opening = true
	s.closing = false
	s.mu.Unlock()

	s.store.SetConnecting()
	l, err := s.dial(ctx)

	s.mu.Lock()
	s.opening = false
	closed := s.closing
	s.closing = false
	if err == nil && !closed {
		s.link = l
		// Under mu so a concurrent Close marks Disconnected after this.
		s.store.SetConnected(l.path)
	}
	s.mu.Unlock()

	if err == nil && closed {
		l.port.Close()
		s.store.MarkDisconnected()
		s.metrics.RecordDisconnect(ReasonClose)
		log.Printf("serial: closed %s before the link was established", l.path)
		return nil, ErrCancelled
	}
	if err != nil {
		s.store.MarkDisconnected()
		if IsCancelled(err) {
			log.Printf("serial: port selection cancelled")
			return nil, ErrCancelled
		}
		s.metrics.RecordDisconnect(ReasonOpenError)
		log.Printf("serial: connection error: %v", err)
		return nil, err
	}

	log.Printf("serial: connected to %s at %d baud", l.path, s.baud)
	return &Reader{s: s, l: l, buf: make([]byte, readBufSize)}, nil
}

func (s *Session) dial(ctx context.Context) (*link, error) {
	if s.sel == nil {
		return nil, &ConnectionError{Err: ErrNoPort}
	}
	path, err := s.sel.Select(ctx)
	if err != nil {
		if IsCancelled(err) {
			return nil, ErrCancelled
		}
		return nil, &ConnectionError{Err: err}
	}
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	port, err := s.open(path, s.baud)
	if err != nil {
		return nil, &ConnectionError{Port: path, Err: err}
	}
	return &link{port: port, path: path}, nil
}

// Close releases the endpoint and unblocks a pending read, which then
// reports io.EOF. Close during Open makes that Open release the endpoint it
// acquires and return ErrCancelled. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	if l == nil && s.opening {
		s.closing = true
	}
	s.mu.Unlock()

	if l == nil {
		return nil
	}

	err := l.port.Close()
	s.store.MarkDisconnected()
	s.metrics.RecordDisconnect(ReasonClose)
	log.Printf("serial: closed %s", l.path)
	if err != nil {
		return fmt.Errorf("serial: close %s: %w", l.path, err)
	}
	return nil
}

// Connected reports whether a link is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Write sends cmd as-is. Writes are serialized. A failed write tears the
// link down and resets the relays.
func (s *Session) Write(cmd string) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	err := writeAll(l.port, []byte(cmd))
	s.writeMu.Unlock()

	if err != nil {
		s.fail(l, ReasonWriteError, err)
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// owns reports whether l is still the current link.
func (s *Session) owns(l *link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link == l
}

// fail tears down l after an I/O error. It does nothing if l was already
// torn down, so a late error from a previous link cannot disturb a new one.
func (s *Session) fail(l *link, reason string, cause error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.mu.Unlock()

	l.port.Close()
	s.store.MarkDisconnected()
	s.metrics.RecordDisconnect(reason)
	log.Printf("serial: %s on %s: %v; relays reset to OFF", reason, l.path, cause)
}

// Reader is the decoded text source of one link.
type Reader struct {
	s   *Session
	l   *link
	buf []byte
	dec decoder
}

// Next blocks until text arrives. It returns io.EOF once the link has been
// closed, and the read error (after tearing the link down) if the device
// fails. A device that reports end-of-stream on its own is also torn down.
func (r *Reader) Next() (string, error) {
	for {
		n, err := r.l.port.Read(r.buf)
		if n > 0 {
			if text := r.dec.decode(r.buf[:n]); text != "" {
				// Report the error on the next call.
				if err != nil && r.s.owns(r.l) {
					r.s.fail(r.l, ReasonReadError, err)
				}
				return text, nil
			}
		}
		if err == nil {
			continue
		}
		if !r.s.owns(r.l) {
			return r.eof()
		}
		r.s.fail(r.l, ReasonReadError, err)
		if errors.Is(err, io.EOF) {
			return r.eof()
		}
		return "", fmt.Errorf("serial: read: %w", err)
	}
}

func (r *Reader) eof() (string, error) {
	if text := r.dec.flush(); text != "" {
		return text, nil
	}
	return "", io.EOF
}
