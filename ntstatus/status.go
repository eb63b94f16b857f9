package ntstatus

import (
	"fmt"
)

// Status is the completion status of an operation.
type Status uint32

const (
	STATUS_SUCCESS                Status = 0x00000000
	STATUS_TIMEOUT                Status = 0x00000102
	STATUS_PENDING                Status = 0x00000103
	STATUS_BUFFER_OVERFLOW        Status = 0x80000005
	STATUS_NO_MORE_FILES          Status = 0x80000006
	STATUS_UNSUCCESSFUL           Status = 0xC0000001
	STATUS_NOT_IMPLEMENTED        Status = 0xC0000002
	STATUS_INVALID_HANDLE         Status = 0xC0000008
	STATUS_INVALID_PARAMETER      Status = 0xC000000D
	STATUS_NO_SUCH_DEVICE         Status = 0xC000000E
	STATUS_NO_SUCH_FILE           Status = 0xC000000F
	STATUS_INVALID_DEVICE_REQUEST Status = 0xC0000010
	STATUS_END_OF_FILE            Status = 0xC0000011
	STATUS_NO_MEMORY              Status = 0xC0000017
	STATUS_ACCESS_DENIED          Status = 0xC0000022
	STATUS_BUFFER_TOO_SMALL       Status = 0xC0000023
	STATUS_OBJECT_NAME_INVALID    Status = 0xC0000033
	STATUS_OBJECT_NAME_NOT_FOUND  Status = 0xC0000034
	STATUS_OBJECT_NAME_COLLISION  Status = 0xC0000035
	STATUS_OBJECT_PATH_NOT_FOUND  Status = 0xC000003A
	STATUS_SHARING_VIOLATION      Status = 0xC0000043
	STATUS_FILE_LOCK_CONFLICT     Status = 0xC0000054
	STATUS_LOCK_NOT_GRANTED       Status = 0xC0000055
	STATUS_DELETE_PENDING         Status = 0xC0000056
	STATUS_RANGE_NOT_LOCKED       Status = 0xC000007E
	STATUS_DISK_FULL              Status = 0xC000007F
	STATUS_INSUFFICIENT_RESOURCES Status = 0xC000009A
	STATUS_FILE_IS_A_DIRECTORY    Status = 0xC00000BA
	STATUS_NOT_SUPPORTED          Status = 0xC00000BB
	STATUS_INTERNAL_ERROR         Status = 0xC00000E5
	STATUS_DIRECTORY_NOT_EMPTY    Status = 0xC0000101
	STATUS_NOT_A_DIRECTORY        Status = 0xC0000103
	STATUS_CANCELLED              Status = 0xC0000120
	STATUS_INVALID_DEVICE_STATE   Status = 0xC0000184
)

var statusNames = map[Status]string{
	STATUS_SUCCESS:                "STATUS_SUCCESS",
	STATUS_TIMEOUT:                "STATUS_TIMEOUT",
	STATUS_PENDING:                "STATUS_PENDING",
	STATUS_BUFFER_OVERFLOW:        "STATUS_BUFFER_OVERFLOW",
	STATUS_NO_MORE_FILES:          "STATUS_NO_MORE_FILES",
	STATUS_UNSUCCESSFUL:           "STATUS_UNSUCCESSFUL",
	STATUS_NOT_IMPLEMENTED:        "STATUS_NOT_IMPLEMENTED",
	STATUS_INVALID_HANDLE:         "STATUS_INVALID_HANDLE",
	STATUS_INVALID_PARAMETER:      "STATUS_INVALID_PARAMETER",
	STATUS_NO_SUCH_DEVICE:         "STATUS_NO_SUCH_DEVICE",
	STATUS_NO_SUCH_FILE:           "STATUS_NO_SUCH_FILE",
	STATUS_INVALID_DEVICE_REQUEST: "STATUS_INVALID_DEVICE_REQUEST",
	STATUS_END_OF_FILE:            "STATUS_END_OF_FILE",
	STATUS_NO_MEMORY:              "STATUS_NO_MEMORY",
	STATUS_ACCESS_DENIED:          "STATUS_ACCESS_DENIED",
	STATUS_BUFFER_TOO_SMALL:       "STATUS_BUFFER_TOO_SMALL",
	STATUS_OBJECT_NAME_INVALID:    "STATUS_OBJECT_NAME_INVALID",
	STATUS_OBJECT_NAME_NOT_FOUND:  "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:  "STATUS_OBJECT_NAME_COLLISION",
	STATUS_OBJECT_PATH_NOT_FOUND:  "STATUS_OBJECT_PATH_NOT_FOUND",
	STATUS_SHARING_VIOLATION:      "STATUS_SHARING_VIOLATION",
	STATUS_FILE_LOCK_CONFLICT:     "STATUS_FILE_LOCK_CONFLICT",
	STATUS_LOCK_NOT_GRANTED:       "STATUS_LOCK_NOT_GRANTED",
	STATUS_DELETE_PENDING:         "STATUS_DELETE_PENDING",
	STATUS_RANGE_NOT_LOCKED:       "STATUS_RANGE_NOT_LOCKED",
	STATUS_DISK_FULL:              "STATUS_DISK_FULL",
	STATUS_INSUFFICIENT_RESOURCES: "STATUS_INSUFFICIENT_RESOURCES",
	STATUS_FILE_IS_A_DIRECTORY:    "STATUS_FILE_IS_A_DIRECTORY",
	STATUS_NOT_SUPPORTED:          "STATUS_NOT_SUPPORTED",
	STATUS_INTERNAL_ERROR:         "STATUS_INTERNAL_ERROR",
	STATUS_DIRECTORY_NOT_EMPTY:    "STATUS_DIRECTORY_NOT_EMPTY",
	STATUS_NOT_A_DIRECTORY:        "STATUS_NOT_A_DIRECTORY",
	STATUS_CANCELLED:              "STATUS_CANCELLED",
	STATUS_INVALID_DEVICE_STATE:   "STATUS_INVALID_DEVICE_STATE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NTSTATUS(0x%08x)", uint32(s))
}

// Error makes a failure status usable as a go error.
func (s Status) Error() string {
	return s.String()
}

// IsSuccess mirrors NT_SUCCESS, informational and warning
// statuses below the error severity count as success.
func (s Status) IsSuccess() bool {
	return int32(s) >= 0
}

// IsError reports whether the status has error severity.
func (s Status) IsError() bool {
	return uint32(s)>>30 == 3
}

// Err returns nil for successful status and the status
// itself otherwise.
func (s Status) Err() error {
	if s.IsSuccess() {
		return nil
	}
	return s
}
