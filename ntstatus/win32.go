package ntstatus

import (
	"fmt"
)

// Win32Error is the error code domain of backend operations,
// the way the user mode interfaces have always reported them.
type Win32Error uint32

const (
	ERROR_SUCCESS             Win32Error = 0
	ERROR_INVALID_FUNCTION    Win32Error = 1
	ERROR_FILE_NOT_FOUND      Win32Error = 2
	ERROR_PATH_NOT_FOUND      Win32Error = 3
	ERROR_ACCESS_DENIED       Win32Error = 5
	ERROR_INVALID_HANDLE      Win32Error = 6
	ERROR_NOT_ENOUGH_MEMORY   Win32Error = 8
	ERROR_NO_MORE_FILES       Win32Error = 18
	ERROR_SHARING_VIOLATION   Win32Error = 32
	ERROR_LOCK_VIOLATION      Win32Error = 33
	ERROR_HANDLE_EOF          Win32Error = 38
	ERROR_HANDLE_DISK_FULL    Win32Error = 39
	ERROR_NOT_SUPPORTED       Win32Error = 50
	ERROR_FILE_EXISTS         Win32Error = 80
	ERROR_INVALID_PARAMETER   Win32Error = 87
	ERROR_DISK_FULL           Win32Error = 112
	ERROR_INSUFFICIENT_BUFFER Win32Error = 122
	ERROR_INVALID_NAME        Win32Error = 123
	ERROR_DIR_NOT_EMPTY       Win32Error = 145
	ERROR_NOT_LOCKED          Win32Error = 158
	ERROR_ALREADY_EXISTS      Win32Error = 183
	ERROR_DIRECTORY           Win32Error = 267
)

var win32StatusMap = map[Win32Error]Status{
	ERROR_SUCCESS:             STATUS_SUCCESS,
	ERROR_INVALID_FUNCTION:    STATUS_NOT_IMPLEMENTED,
	ERROR_FILE_NOT_FOUND:      STATUS_OBJECT_NAME_NOT_FOUND,
	ERROR_PATH_NOT_FOUND:      STATUS_OBJECT_PATH_NOT_FOUND,
	ERROR_ACCESS_DENIED:       STATUS_ACCESS_DENIED,
	ERROR_INVALID_HANDLE:      STATUS_INVALID_HANDLE,
	ERROR_NOT_ENOUGH_MEMORY:   STATUS_INSUFFICIENT_RESOURCES,
	ERROR_NO_MORE_FILES:       STATUS_NO_MORE_FILES,
	ERROR_SHARING_VIOLATION:   STATUS_SHARING_VIOLATION,
	ERROR_LOCK_VIOLATION:      STATUS_FILE_LOCK_CONFLICT,
	ERROR_HANDLE_EOF:          STATUS_END_OF_FILE,
	ERROR_HANDLE_DISK_FULL:    STATUS_DISK_FULL,
	ERROR_NOT_SUPPORTED:       STATUS_NOT_SUPPORTED,
	ERROR_FILE_EXISTS:         STATUS_OBJECT_NAME_COLLISION,
	ERROR_INVALID_PARAMETER:   STATUS_INVALID_PARAMETER,
	ERROR_DISK_FULL:           STATUS_DISK_FULL,
	ERROR_INSUFFICIENT_BUFFER: STATUS_BUFFER_TOO_SMALL,
	ERROR_INVALID_NAME:        STATUS_OBJECT_NAME_INVALID,
	ERROR_DIR_NOT_EMPTY:       STATUS_DIRECTORY_NOT_EMPTY,
	ERROR_NOT_LOCKED:          STATUS_RANGE_NOT_LOCKED,
	ERROR_ALREADY_EXISTS:      STATUS_OBJECT_NAME_COLLISION,
	ERROR_DIRECTORY:           STATUS_NOT_A_DIRECTORY,
}

func (e Win32Error) Error() string {
	return fmt.Sprintf("win32 error %d", uint32(e))
}

// Status translates the error code into the status domain.
// Codes without a counterpart are not implemented.
func (e Win32Error) Status() Status {
	if status, ok := win32StatusMap[e]; ok {
		return status
	}
	return STATUS_NOT_IMPLEMENTED
}
