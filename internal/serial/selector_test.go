package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func listOf(ports ...*enumerator.PortDetails) func() ([]*enumerator.PortDetails, error) {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func TestFixedSelector(t *testing.T) {
	path, err := FixedSelector("/dev/ttyUSB0").Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", path)

	_, err = FixedSelector("").Select(context.Background())
	assert.ErrorIs(t, err, ErrNoPort)
}

func TestAutoSelectorPrefersKnownBoard(t *testing.T) {
	sel := AutoSelector{List: listOf(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "067b", PID: "2303"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
	)}
	path, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", path)
}

func TestAutoSelectorFallsBackToFirstUSB(t *testing.T) {
	sel := AutoSelector{List: listOf(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB3", IsUSB: true, VID: "067b"},
	)}
	path, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", path)
}

func TestAutoSelectorNoUSB(t *testing.T) {
	sel := AutoSelector{List: listOf(&enumerator.PortDetails{Name: "/dev/ttyS0"})}
	_, err := sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoPort)
}

func TestAutoSelectorEnumerationError(t *testing.T) {
	sel := AutoSelector{List: func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("sysfs unavailable")
	}}
	_, err := sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoPort)
}

func TestAutoSelectorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AutoSelector{List: listOf()}.Select(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
}
