package ntstatus

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// applicationError is where go's invented errno values start.
const applicationError = 1 << 29

// fromPlatformError recognizes the native windows error
// types, an errno below the application range is a win32
// error code reported by the system.
func fromPlatformError(err error) (Status, bool) {
	var status windows.NTStatus
	if errors.As(err, &status) {
		return Status(status), true
	}
	var errno windows.Errno
	if errors.As(err, &errno) && errno < applicationError {
		if result, ok := win32StatusMap[Win32Error(errno)]; ok {
			return result, true
		}
	}
	return 0, false
}

// NTStatus converts the status into its native type.
func (s Status) NTStatus() windows.NTStatus {
	return windows.NTStatus(s)
}
