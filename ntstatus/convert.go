package ntstatus

import (
	"io"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

var errnoStatusMap = map[syscall.Errno]Status{
	syscall.Errno(0): STATUS_SUCCESS,

	syscall.ENOENT:    STATUS_OBJECT_NAME_NOT_FOUND,
	syscall.EEXIST:    STATUS_OBJECT_NAME_COLLISION,
	syscall.EPERM:     STATUS_ACCESS_DENIED,
	syscall.EACCES:    STATUS_ACCESS_DENIED,
	syscall.ENOTDIR:   STATUS_NOT_A_DIRECTORY,
	syscall.EISDIR:    STATUS_FILE_IS_A_DIRECTORY,
	syscall.EINVAL:    STATUS_INVALID_PARAMETER,
	syscall.ENOTEMPTY: STATUS_DIRECTORY_NOT_EMPTY,
	syscall.ENOSPC:    STATUS_DISK_FULL,
	syscall.EBADF:     STATUS_INVALID_HANDLE,
}

// FromError translates an error returned by a backend into
// the status the caller will observe.
//
// Anything that cannot be recognized is reported as not
// implemented, which is what a caller would see when the
// backend has no answer for the operation at all.
func FromError(err error) Status {
	if err == nil {
		return STATUS_SUCCESS
	}
	var status Status
	if errors.As(err, &status) {
		return status
	}
	var code Win32Error
	if errors.As(err, &code) {
		return code.Status()
	}
	if status, ok := fromPlatformError(err); ok {
		return status
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if status, ok := errnoStatusMap[errno]; ok {
			return status
		}
	}
	if errors.Is(err, io.EOF) {
		return STATUS_END_OF_FILE
	}
	if errors.Is(err, os.ErrExist) {
		return STATUS_OBJECT_NAME_COLLISION
	}
	if errors.Is(err, os.ErrNotExist) {
		return STATUS_OBJECT_NAME_NOT_FOUND
	}
	if errors.Is(err, os.ErrPermission) {
		return STATUS_ACCESS_DENIED
	}
	return STATUS_NOT_IMPLEMENTED
}
