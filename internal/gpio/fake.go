package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted jumper values.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted values. Each call to Read consumes the next
	// sample; the last one repeats.
	Samples []bool

	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a single repeating value.
func (f *FakeReader) Set(present bool) {
	f.mu.Lock()
	f.Samples = []bool{present}
	f.index = 0
	f.mu.Unlock()
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeReader) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}
