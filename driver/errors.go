package driver

import (
	"github.com/pkg/errors"

	"github.com/aegistudio/go-dokan/ntstatus"
)

var (
	// ErrNotMounted is returned when the device is not or no
	// longer mounted, new requests are rejected by then.
	ErrNotMounted = errors.New("device not mounted")

	// ErrTimeout is returned by a blocking fetch when no
	// event arrives within the bound.
	ErrTimeout = errors.New("event wait timeout")

	// ErrBufferTooSmall is returned when the buffer handed
	// over by user mode cannot hold the result.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// statusOf converts the error raised inside the driver into
// the status reported across the device control surface.
func statusOf(err error) ntstatus.Status {
	switch {
	case err == nil:
		return ntstatus.STATUS_SUCCESS
	case errors.Is(err, ErrNotMounted):
		return ntstatus.STATUS_NO_SUCH_DEVICE
	case errors.Is(err, ErrTimeout):
		return ntstatus.STATUS_TIMEOUT
	case errors.Is(err, ErrBufferTooSmall):
		return ntstatus.STATUS_BUFFER_TOO_SMALL
	}
	return ntstatus.FromError(err)
}
