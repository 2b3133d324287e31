package serial

import (
	"errors"
	"strings"
	"sync"
)

// ErrFakeClosed is returned by FakePort reads and writes after Close.
var ErrFakeClosed = errors.New("fake port closed")

// FakePort is a test double that serves scripted reads and records writes.
// Read blocks until a chunk is queued or the port is closed.
type FakePort struct {
	reads     chan fakeRead
	closed    chan struct{}
	closeOnce sync.Once
	leftover  []byte // only touched by the reading goroutine

	mu       sync.Mutex
	written  strings.Builder
	writes   int
	writeErr error
}

type fakeRead struct {
	b   []byte
	err error
}

// NewFakePort creates an open FakePort.
func NewFakePort() *FakePort {
	return &FakePort{
		reads:  make(chan fakeRead, 64),
		closed: make(chan struct{}),
	}
}

// Feed queues chunks; each is delivered by a separate Read.
func (f *FakePort) Feed(chunks ...string) {
	for _, c := range chunks {
		f.reads <- fakeRead{b: []byte(c)}
	}
}

// FailRead makes the next Read (after queued chunks) return err.
func (f *FakePort) FailRead(err error) {
	f.reads <- fakeRead{err: err}
}

// FailWrites makes every subsequent Write return err.
func (f *FakePort) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// Read returns the next scripted chunk.
func (f *FakePort) Read(p []byte) (int, error) {
	if len(f.leftover) > 0 {
		n := copy(p, f.leftover)
		f.leftover = f.leftover[n:]
		return n, nil
	}
	select {
	case r := <-f.reads:
		if r.err != nil {
			return 0, r.err
		}
		n := copy(p, r.b)
		f.leftover = r.b[n:]
		return n, nil
	case <-f.closed:
		return 0, ErrFakeClosed
	}
}

// Write records p.
func (f *FakePort) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, ErrFakeClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written.Write(p)
	f.writes++
	return len(p), nil
}

// Close unblocks pending reads. It is safe to call more than once.
func (f *FakePort) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Written returns everything written so far.
func (f *FakePort) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// Writes returns the number of successful Write calls.
func (f *FakePort) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// IsClosed reports whether Close was called.
func (f *FakePort) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// FakeOpener hands out scripted ports in order and records open calls.
type FakeOpener struct {
	mu    sync.Mutex
	Ports []*FakePort
	Err   error // returned instead of a port when set
	Paths []string
	Bauds []int
}

// NewFakeOpener creates a FakeOpener serving the given ports.
func NewFakeOpener(ports ...*FakePort) *FakeOpener {
	return &FakeOpener{Ports: ports}
}

// Open implements Opener.
func (o *FakeOpener) Open(path string, baud int) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Paths = append(o.Paths, path)
	o.Bauds = append(o.Bauds, baud)
	if o.Err != nil {
		return nil, o.Err
	}
	if len(o.Ports) == 0 {
		return nil, ErrNoPort
	}
	p := o.Ports[0]
	o.Ports = o.Ports[1:]
	return p, nil
}
