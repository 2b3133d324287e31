// Package gpio reads the demo jumper input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the demo jumper.
type Reader interface {
	// Read returns whether the jumper is fitted. The raw line is pulled up
	// and the jumper shorts it to ground, so raw low = present.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultPin is the jumper input (BCM numbering).
const DefaultPin = 17
