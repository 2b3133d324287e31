// Package telemetry turns the controller's decoded text stream into sensor
// readings: Assembler reconstructs newline-terminated records from
// arbitrarily chunked text and Parse extracts the labelled fields.
package telemetry

import (
	"errors"
	"io"
	"strings"
)

// Source is a pull-based decoded text stream. Next returns io.EOF once the
// stream has ended.
type Source interface {
	Next() (string, error)
}

// Assembler splits chunked text into records. It holds at most one partial
// record between chunks. Not safe for concurrent use.
type Assembler struct {
	carry string
	emit  func(record string)
}

// NewAssembler creates an Assembler that passes each complete record,
// without its trailing newline, to emit in arrival order.
func NewAssembler(emit func(record string)) *Assembler {
	return &Assembler{emit: emit}
}

// Feed appends a chunk and emits every record it completes.
func (a *Assembler) Feed(chunk string) {
	if chunk == "" {
		return
	}
	rest := a.carry + chunk
	for {
		record, tail, found := strings.Cut(rest, "\n")
		if !found {
			break
		}
		a.emit(record)
		rest = tail
	}
	a.carry = rest
}

// Pending returns the partial record carried over to the next chunk.
func (a *Assembler) Pending() string {
	return a.carry
}

// Run drains src into Feed until end-of-stream or error. End-of-stream is
// reported as nil; the partial record, if any, is dropped.
func (a *Assembler) Run(src Source) error {
	for {
		chunk, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		a.Feed(chunk)
	}
}
