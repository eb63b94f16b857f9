package dokan

import (
	"context"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/aegistudio/go-dokan/driver"
)

// GlobalDeviceName is the control device of the driver.
const GlobalDeviceName = `\\.\Dokan`

// KernelDevice is a device opened through a kernel driver
// that speaks the wire format of the driver package: the
// IOCTL codes of driver/ioctl.go, with events, answers and
// start requests packed by cstruct the way driver.Event and
// driver.EventInformation encode them. It does not speak the
// binary layout of the stock Dokan driver, whose structures
// differ.
type KernelDevice struct {
	handle windows.Handle
}

// OpenDevice opens the named device of the driver for
// overlapped control, so a blocking fetch can be cancelled.
func OpenDevice(name string) (*KernelDevice, error) {
	path, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, errors.Wrapf(err, "device name %q", name)
	}
	handle, err := windows.CreateFile(path,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open device %q", name)
	}
	return &KernelDevice{handle: handle}, nil
}

// Close closes the device handle.
func (d *KernelDevice) Close() error {
	return windows.CloseHandle(d.handle)
}

// deviceError turns what the driver reports into the errors
// of the in-process driver.
func deviceError(err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case syscall.Errno(windows.WAIT_TIMEOUT):
		return driver.ErrTimeout
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_NO_SUCH_DEVICE:
		return driver.ErrNotMounted
	case windows.ERROR_INSUFFICIENT_BUFFER:
		return driver.ErrBufferTooSmall
	}
	return err
}

// DeviceIoControl issues the control code and waits for it,
// the request is cancelled when the context is done.
func (d *KernelDevice) DeviceIoControl(
	ctx context.Context, code uint32, in, out []byte,
) (int, error) {
	var inPtr, outPtr *byte
	if len(in) > 0 {
		inPtr = &in[0]
	}
	if len(out) > 0 {
		outPtr = &out[0]
	}
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, errors.Wrap(err, "create event")
	}
	defer func() { _ = windows.CloseHandle(event) }()
	overlapped := &windows.Overlapped{HEvent: event}
	stop := context.AfterFunc(ctx, func() {
		_ = windows.CancelIoEx(d.handle, overlapped)
	})
	defer stop()

	var returned uint32
	err = windows.DeviceIoControl(d.handle, code, inPtr, uint32(len(in)),
		outPtr, uint32(len(out)), &returned, overlapped)
	if errors.Is(err, windows.ERROR_IO_PENDING) {
		err = windows.GetOverlappedResult(d.handle, overlapped, &returned, true)
	}
	if err != nil {
		if errors.Is(err, windows.ERROR_OPERATION_ABORTED) && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, deviceError(err)
	}
	return int(returned), nil
}

var _ Device = (*KernelDevice)(nil)
