package ntstatus

import (
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestWin32Translation(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(STATUS_DIRECTORY_NOT_EMPTY, ERROR_DIR_NOT_EMPTY.Status())
	assert.Equal(STATUS_OBJECT_NAME_NOT_FOUND, ERROR_FILE_NOT_FOUND.Status())
	assert.Equal(STATUS_OBJECT_NAME_COLLISION, ERROR_ALREADY_EXISTS.Status())
	assert.Equal(STATUS_END_OF_FILE, ERROR_HANDLE_EOF.Status())
	assert.Equal(STATUS_NOT_IMPLEMENTED, Win32Error(9999).Status())
}

func TestFromError(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(STATUS_SUCCESS, FromError(nil))
	assert.Equal(STATUS_ACCESS_DENIED, FromError(STATUS_ACCESS_DENIED))
	assert.Equal(STATUS_ACCESS_DENIED,
		FromError(errors.Wrap(STATUS_ACCESS_DENIED, "open")))
	assert.Equal(STATUS_DIRECTORY_NOT_EMPTY,
		FromError(errors.Wrap(ERROR_DIR_NOT_EMPTY, "rmdir")))
	assert.Equal(STATUS_END_OF_FILE, FromError(io.EOF))
	assert.Equal(STATUS_OBJECT_NAME_NOT_FOUND, FromError(os.ErrNotExist))
	assert.Equal(STATUS_OBJECT_NAME_COLLISION, FromError(os.ErrExist))
	assert.Equal(STATUS_ACCESS_DENIED, FromError(os.ErrPermission))
	assert.Equal(STATUS_OBJECT_NAME_NOT_FOUND, FromError(&os.PathError{
		Op: "open", Path: "a", Err: syscall.ENOENT,
	}))
	assert.Equal(STATUS_NOT_IMPLEMENTED, FromError(errors.New("mystery")))
}

func TestStatusSeverity(t *testing.T) {
	assert := assert.New(t)
	assert.True(STATUS_SUCCESS.IsSuccess())
	assert.True(STATUS_PENDING.IsSuccess())
	assert.False(STATUS_BUFFER_OVERFLOW.IsSuccess())
	assert.False(STATUS_BUFFER_OVERFLOW.IsError())
	assert.True(STATUS_CANCELLED.IsError())
	assert.Nil(STATUS_SUCCESS.Err())
	assert.Equal(STATUS_CANCELLED, STATUS_CANCELLED.Err())
	assert.Equal("STATUS_CANCELLED", STATUS_CANCELLED.Error())
	assert.Equal("NTSTATUS(0xc0ffee00)", Status(0xC0FFEE00).String())
}
