package packetstream

import "github.com/pkg/errors"

var (
	errClosedHandle     = errors.New("packetstream: handle already closed")
	errSizeFixedNoGrow  = errors.New("packetstream: cannot grow packet after setsize")
	errSizeTooLarge     = errors.New("packetstream: setsize larger than bytes written")
)

// IsCancelled reports whether err is (or wraps) the cancellation sentinel
// every blocked operation returns once a Buffer has been cancelled.
func IsCancelled(err error) bool {
	return errors.Cause(err) == ErrCancelled
}
