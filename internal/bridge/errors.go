package bridge

import (
	"errors"

	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// errNotCommandable is returned when a pooled driver has no command surface.
var errNotCommandable = errors.New("bridge: driver does not support commands")

func isNotCommandable(err error) bool {
	return errors.Is(err, errNotCommandable)
}

// isNotConnected reports whether a command failed because the device
// connection could not be established.
func isNotConnected(err error) bool {
	var failed *pool.ConnectionFailedError
	return errors.As(err, &failed) ||
		errors.Is(err, pool.ErrClosed) ||
		errors.Is(err, pool.ErrNotConnected)
}
