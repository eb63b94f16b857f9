package dokan

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/ntstatus"
)

// openFile is the library side state of an open, indexed
// by the token the device presents with every event.
type openFile struct {
	context   atomic.Uint64
	directory atomic.Bool
}

func (fs *FileSystem) fileInfo(event *driver.Event, open *openFile) *FileInfo {
	flags := event.FileFlags
	info := &FileInfo{
		ProcessID:        event.ProcessID,
		DeleteOnClose:    flags&driver.FlagDeleteOnClose != 0,
		PagingIO:         flags&driver.FlagPagingIO != 0,
		SynchronousIO:    flags&driver.FlagSynchronousIO != 0,
		NoCache:          flags&driver.FlagNoCache != 0,
		WriteToEndOfFile: flags&driver.FlagWriteToEndOfFile != 0,
	}
	if open != nil {
		info.Context = open.context.Load()
		info.IsDirectory = open.directory.Load()
	}
	return info
}

// dispatch runs the operation of the event, returning the
// answer or nil when the event expects none.
func (fs *FileSystem) dispatch(
	ctx context.Context, event *driver.Event,
) *driver.EventInformation {
	logger := fs.logger.WithFields(logrus.Fields{
		"serial":   event.SerialNumber,
		"category": event.Kind(),
		"name":     event.FileName,
	})
	logger.Debug("event received")
	answer := &driver.EventInformation{
		SerialNumber: event.SerialNumber,
	}
	var err error
	switch event.Kind() {
	case driver.CategoryCreate:
		err = fs.handleCreate(event, answer)
	case driver.CategoryClose:
		fs.handleClose(event, logger)
		return nil
	case driver.CategoryUnmount:
		// Only the service channel carries these.
		return nil
	default:
		err = fs.handleOpen(ctx, event, answer)
	}
	if err != nil {
		answer.Status = uint32(statusOf(err))
		logger.WithError(err).Debug("operation failed")
	}
	return answer
}

// handleOpen runs the operations on an open file.
func (fs *FileSystem) handleOpen(
	ctx context.Context, event *driver.Event,
	answer *driver.EventInformation,
) error {
	var open *openFile
	if event.Context != 0 {
		value, ok := fs.opens.Load(event.Context)
		if !ok {
			return ntstatus.STATUS_INVALID_HANDLE
		}
		open = value.(*openFile)
	}
	info := fs.fileInfo(event, open)
	if open != nil {
		defer func() {
			open.context.Store(info.Context)
		}()
	}
	name := event.FileName
	switch event.Kind() {
	case driver.CategoryCleanup:
		return fs.base.Cleanup(fs, name, info)
	case driver.CategoryRead:
		return fs.handleRead(event, info, answer)
	case driver.CategoryWrite:
		return fs.handleWrite(ctx, event, info, answer)
	case driver.CategoryDirectoryQuery:
		return fs.handleDirectory(event, info, answer)
	case driver.CategoryQueryInformation:
		return fs.handleQueryInformation(event, info, answer)
	case driver.CategorySetInformation:
		return fs.handleSetInformation(event, info, answer)
	case driver.CategoryQueryVolumeInformation:
		return fs.handleQueryVolume(event, info, answer)
	case driver.CategoryFlush:
		if fs.flush == nil {
			return nil
		}
		return fs.flush.FlushFileBuffers(fs, name, info)
	case driver.CategoryLock:
		if fs.lock == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		return fs.lock.LockFile(fs, name,
			event.Lock.ByteOffset, event.Lock.Length, info)
	case driver.CategoryUnlock:
		if fs.unlock == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		return fs.unlock.UnlockFile(fs, name,
			event.Lock.ByteOffset, event.Lock.Length, info)
	case driver.CategoryQuerySecurity:
		return fs.handleQuerySecurity(event, info, answer)
	case driver.CategorySetSecurity:
		if fs.setSecurity == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		return fs.setSecurity.SetFileSecurity(fs, name,
			event.Security.SecurityInformation, event.Extra, info)
	}
	return ntstatus.STATUS_INVALID_DEVICE_REQUEST
}

func (fs *FileSystem) handleCreate(
	event *driver.Event, answer *driver.EventInformation,
) error {
	params := event.Create
	data := CreateData{
		DesiredAccess:  params.DesiredAccess,
		ShareAccess:    params.ShareAccess,
		FileAttributes: params.FileAttributes,
		Disposition:    params.Disposition(),
		Options:        params.Options(),
	}
	info := fs.fileInfo(event, nil)
	created, err := fs.create(event.FileName, data, info)
	if err != nil {
		return err
	}
	open := &openFile{}
	open.context.Store(info.Context)
	open.directory.Store(info.IsDirectory)
	token := fs.nextToken.Add(1)
	fs.opens.Store(token, open)
	answer.Context = token
	answer.Information = driver.FILE_OPENED
	if created {
		answer.Information = driver.FILE_CREATED
	}
	if info.IsDirectory {
		answer.Flags |= driver.InfoDirectory
	}
	return nil
}

func (fs *FileSystem) create(
	name string, data CreateData, info *FileInfo,
) (bool, error) {
	if data.Options&driver.FILE_DIRECTORY_FILE == 0 ||
		(fs.createDirectory == nil && fs.openDirectory == nil) {
		return fs.base.CreateFile(fs, name, data, info)
	}
	info.IsDirectory = true
	switch data.Disposition {
	case driver.FILE_CREATE, driver.FILE_OPEN_IF:
		if fs.createDirectory == nil {
			return false, ntstatus.STATUS_NOT_IMPLEMENTED
		}
		err := fs.createDirectory.CreateDirectory(fs, name, info)
		if err == nil {
			return true, nil
		}
		if data.Disposition != driver.FILE_OPEN_IF ||
			statusOf(err) != ntstatus.STATUS_OBJECT_NAME_COLLISION ||
			fs.openDirectory == nil {
			return false, err
		}
		return false, fs.openDirectory.OpenDirectory(fs, name, info)
	case driver.FILE_OPEN:
		if fs.openDirectory == nil {
			return false, ntstatus.STATUS_NOT_IMPLEMENTED
		}
		return false, fs.openDirectory.OpenDirectory(fs, name, info)
	}
	return false, ntstatus.STATUS_INVALID_PARAMETER
}

func (fs *FileSystem) handleClose(event *driver.Event, logger logrus.FieldLogger) {
	value, ok := fs.opens.LoadAndDelete(event.Context)
	if !ok {
		logger.Debug("close of unknown open")
		return
	}
	info := fs.fileInfo(event, value.(*openFile))
	if err := fs.base.CloseFile(fs, event.FileName, info); err != nil {
		logger.WithError(err).Warn("close file")
	}
}

// closeAll closes the opens the device has forgotten about,
// after the workers have stopped.
func (fs *FileSystem) closeAll() {
	fs.opens.Range(func(key, value any) bool {
		fs.opens.Delete(key)
		open := value.(*openFile)
		info := &FileInfo{
			Context:     open.context.Load(),
			IsDirectory: open.directory.Load(),
		}
		if err := fs.base.CloseFile(fs, "", info); err != nil {
			fs.logger.WithError(err).Warn("close file on unmount")
		}
		return true
	})
}

func (fs *FileSystem) handleRead(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	if fs.read == nil {
		return ntstatus.STATUS_NOT_IMPLEMENTED
	}
	offset := event.Read.ByteOffset
	buf := make([]byte, event.Read.BufferLength)
	n, err := fs.read.ReadFile(fs, event.FileName, buf, offset, info)
	if err != nil && !(n > 0 && errors.Is(err, io.EOF)) {
		return err
	}
	if n == 0 && len(buf) > 0 {
		return ntstatus.STATUS_END_OF_FILE
	}
	answer.Buffer = buf[:n]
	answer.Information = uint64(n)
	answer.ByteOffset = offset + int64(n)
	return nil
}

func (fs *FileSystem) handleWrite(
	ctx context.Context, event *driver.Event,
	info *FileInfo, answer *driver.EventInformation,
) error {
	if fs.write == nil {
		return ntstatus.STATUS_NOT_IMPLEMENTED
	}
	in := make([]byte, 8)
	binary.LittleEndian.PutUint64(in, event.SerialNumber)
	data := make([]byte, event.Write.BufferLength)
	n, err := fs.dev.DeviceIoControl(ctx, driver.IOCTL_EVENT_WRITE, in, data)
	if err != nil {
		return errors.Wrap(err, "fetch write payload")
	}
	offset := event.Write.ByteOffset
	written, err := fs.write.WriteFile(
		fs, event.FileName, data[:n], offset, info)
	if err != nil {
		return err
	}
	answer.Information = uint64(written)
	answer.ByteOffset = offset + int64(written)
	if info.WriteToEndOfFile && fs.getFileInfo != nil {
		stat, err := fs.getFileInfo.GetFileInformation(
			fs, event.FileName, info)
		if err == nil {
			answer.ByteOffset = stat.Size
		}
	}
	return nil
}

func (fs *FileSystem) handleQuerySecurity(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	if fs.getSecurity == nil {
		return ntstatus.STATUS_NOT_IMPLEMENTED
	}
	buf := make([]byte, event.Security.BufferLength)
	n, err := fs.getSecurity.GetFileSecurity(fs, event.FileName,
		event.Security.SecurityInformation, buf, info)
	if err != nil {
		return err
	}
	if n > len(buf) {
		answer.Information = uint64(n)
		return ntstatus.STATUS_BUFFER_OVERFLOW
	}
	answer.Buffer = buf[:n]
	answer.Information = uint64(n)
	return nil
}
