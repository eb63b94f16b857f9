package dokan

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/cstruct"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aegistudio/go-dokan/driver"
)

// Device is the control surface of a device, which is all
// the library needs to serve a file system.
type Device interface {
	DeviceIoControl(
		ctx context.Context, code uint32, in, out []byte,
	) (int, error)
}

// eventBufferSize is the buffer each worker fetches events
// into. Write payloads are fetched separately, so only names
// and descriptors need to fit.
const eventBufferSize = 64 * 1024

// FileSystem is the mounted file system.
//
// It carries the behaviours detected upon mounting, and
// is handed to every operation of the file system.
type FileSystem struct {
	base              BehaviourBase
	openDirectory     BehaviourOpenDirectory
	createDirectory   BehaviourCreateDirectory
	read              BehaviourRead
	write             BehaviourWrite
	flush             BehaviourFlush
	getFileInfo       BehaviourGetFileInfo
	findFiles         BehaviourFindFiles
	findFilesPattern  BehaviourFindFilesWithPattern
	setAttributes     BehaviourSetAttributes
	setTimes          BehaviourSetTimes
	deleteFile        BehaviourDeleteFile
	deleteDirectory   BehaviourDeleteDirectory
	moveFile          BehaviourMoveFile
	setEndOfFile      BehaviourSetEndOfFile
	setAllocationSize BehaviourSetAllocationSize
	lock              BehaviourLock
	unlock            BehaviourUnlock
	getDiskFreeSpace  BehaviourGetDiskFreeSpace
	getVolumeInfo     BehaviourGetVolumeInfo
	getSecurity       BehaviourGetSecurity
	setSecurity       BehaviourSetSecurity
	unmount           BehaviourUnmount

	dev    Device
	option *option
	logger logrus.FieldLogger
	info   driver.EventDriverInfo

	opens     sync.Map
	nextToken atomic.Uint64

	cancel     context.CancelFunc
	group      *errgroup.Group
	done       chan struct{}
	err        error
	unmountOne sync.Once
}

// DeviceNumber is the number of the device mounted on.
func (fs *FileSystem) DeviceNumber() uint32 {
	return fs.info.DeviceNumber
}

// MountPoint is the drive letter of the file system.
func (fs *FileSystem) MountPoint() rune {
	return rune(fs.option.mountPoint)
}

// Logger returns the logger of the file system.
func (fs *FileSystem) Logger() logrus.FieldLogger {
	return fs.logger
}

func (fs *FileSystem) detect(base BehaviourBase) {
	fs.base = base
	if inner, ok := base.(BehaviourOpenDirectory); ok {
		fs.openDirectory = inner
	}
	if inner, ok := base.(BehaviourCreateDirectory); ok {
		fs.createDirectory = inner
	}
	if inner, ok := base.(BehaviourRead); ok {
		fs.read = inner
	}
	if inner, ok := base.(BehaviourWrite); ok {
		fs.write = inner
	}
	if inner, ok := base.(BehaviourFlush); ok {
		fs.flush = inner
	}
	if inner, ok := base.(BehaviourGetFileInfo); ok {
		fs.getFileInfo = inner
	}
	if inner, ok := base.(BehaviourFindFilesWithPattern); ok {
		fs.findFilesPattern = inner
	}
	if inner, ok := base.(BehaviourFindFiles); ok {
		fs.findFiles = inner
	}
	if inner, ok := base.(BehaviourSetAttributes); ok {
		fs.setAttributes = inner
	}
	if inner, ok := base.(BehaviourSetTimes); ok {
		fs.setTimes = inner
	}
	if inner, ok := base.(BehaviourDeleteFile); ok {
		fs.deleteFile = inner
	}
	if inner, ok := base.(BehaviourDeleteDirectory); ok {
		fs.deleteDirectory = inner
	}
	if inner, ok := base.(BehaviourMoveFile); ok {
		fs.moveFile = inner
	}
	if inner, ok := base.(BehaviourSetEndOfFile); ok {
		fs.setEndOfFile = inner
	}
	if inner, ok := base.(BehaviourSetAllocationSize); ok {
		fs.setAllocationSize = inner
	}
	if inner, ok := base.(BehaviourLock); ok {
		fs.lock = inner
	}
	if inner, ok := base.(BehaviourUnlock); ok {
		fs.unlock = inner
	}
	if inner, ok := base.(BehaviourGetDiskFreeSpace); ok {
		fs.getDiskFreeSpace = inner
	}
	if inner, ok := base.(BehaviourGetVolumeInfo); ok {
		fs.getVolumeInfo = inner
	}
	if inner, ok := base.(BehaviourGetSecurity); ok {
		fs.getSecurity = inner
	}
	if inner, ok := base.(BehaviourSetSecurity); ok {
		fs.setSecurity = inner
	}
	if inner, ok := base.(BehaviourUnmount); ok {
		fs.unmount = inner
	}
}

// Mount attaches the file system to the device and starts
// serving its events.
func Mount(
	ctx context.Context, dev Device, base BehaviourBase, opts ...Option,
) (*FileSystem, error) {
	if dev == nil {
		return nil, errors.New("invalid nil device parameter")
	}
	if base == nil {
		return nil, errors.New("invalid nil fs parameter")
	}
	option := newOption()
	Options(opts...)(option)
	if err := option.validate(); err != nil {
		return nil, err
	}
	fs := &FileSystem{
		dev:    dev,
		option: option,
		logger: option.makeLogger(),
		done:   make(chan struct{}),
	}
	fs.detect(base)

	version := make([]byte, 4)
	if _, err := dev.DeviceIoControl(
		ctx, driver.IOCTL_TEST, nil, version); err != nil {
		return nil, errors.Wrap(err, "test device")
	}
	if v := binary.LittleEndian.Uint32(version); v != driver.DriverVersion {
		return nil, errors.Errorf(
			"driver version %#x mismatches %#x", v, driver.DriverVersion)
	}

	start := driver.EventStart{
		UserVersion: driver.DriverVersion,
		DriveLetter: option.mountPoint,
	}
	if option.useKeepAlive {
		start.Flags |= driver.StartKeepAlive
	}
	if option.useAltStream {
		start.Flags |= driver.StartAltStream
	}
	in, err := cstruct.Pack(&start, cstruct.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "pack event start")
	}
	out := make([]byte, 64)
	n, err := dev.DeviceIoControl(ctx, driver.IOCTL_EVENT_START, in, out)
	if err != nil {
		return nil, errors.Wrap(err, "start device")
	}
	if _, err := cstruct.Unpack(
		out[:n], &fs.info, cstruct.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpack driver info")
	}
	if fs.info.Status != driver.DriverInfoMounted {
		return nil, errors.Errorf(
			"device %d is already in use", fs.info.DeviceNumber)
	}
	fs.logger = fs.logger.WithFields(logrus.Fields{
		"device": fs.info.DeviceNumber,
		"mount":  fs.info.MountID,
	})

	if option.mountControl != nil {
		if err := option.mountControl.Mount(
			ctx, fs.info.DeviceNumber, option.mountPoint); err != nil {
			_, _ = dev.DeviceIoControl(
				ctx, driver.IOCTL_EVENT_RELEASE, nil, nil)
			return nil, errors.Wrapf(err,
				"register mount point %c", rune(option.mountPoint))
		}
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	fs.cancel = cancel
	fs.group, serveCtx = errgroup.WithContext(serveCtx)
	for i := 0; i < option.threadCount; i++ {
		fs.group.Go(func() error {
			return fs.serve(serveCtx)
		})
	}
	if option.useKeepAlive {
		fs.group.Go(func() error {
			fs.keepAlive(serveCtx)
			return nil
		})
	}
	go func() {
		defer close(fs.done)
		fs.err = fs.group.Wait()
		fs.closeAll()
		if fs.unmount != nil {
			if err := fs.unmount.Unmount(fs, &FileInfo{}); err != nil {
				fs.logger.WithError(err).Warn("unmount file system")
			}
		}
		fs.logger.Info("file system stopped")
	}()
	fs.logger.WithField("drive", string(rune(option.mountPoint))).
		Info("file system mounted")
	return fs, nil
}

// serve is the loop of one worker.
func (fs *FileSystem) serve(ctx context.Context) error {
	buf := make([]byte, eventBufferSize)
	for {
		n, err := fs.dev.DeviceIoControl(
			ctx, driver.IOCTL_EVENT_WAIT, nil, buf)
		switch {
		case err == nil:
		case errors.Is(err, driver.ErrTimeout):
			continue
		case errors.Is(err, driver.ErrBufferTooSmall):
			fs.logger.WithError(err).Warn("event dropped")
			continue
		case errors.Is(err, driver.ErrNotMounted),
			errors.Is(err, context.Canceled):
			// Wakes up the others, including the pinger.
			fs.cancel()
			return nil
		default:
			fs.cancel()
			return errors.Wrap(err, "wait event")
		}
		event, err := driver.DecodeEvent(buf[:n])
		if err != nil {
			fs.logger.WithError(err).Error("malformed event")
			continue
		}
		info := fs.dispatch(ctx, event)
		if info == nil {
			continue
		}
		data, err := info.Encode()
		if err != nil {
			fs.logger.WithError(err).Error("encode answer")
			continue
		}
		if _, err := fs.dev.DeviceIoControl(
			ctx, driver.IOCTL_EVENT_INFO, data, nil); err != nil {
			fs.logger.WithError(err).WithField(
				"serial", event.SerialNumber).Debug("answer rejected")
		}
	}
}

// keepAlive pings the device until the workers stop.
func (fs *FileSystem) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(fs.option.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := fs.dev.DeviceIoControl(
			ctx, driver.IOCTL_KEEPALIVE, nil, nil); err != nil {
			fs.logger.WithError(err).Warn("keepalive")
		}
	}
}

// Unmount detaches the file system from the device and waits
// for the workers to stop. It is safe to call more than once.
func (fs *FileSystem) Unmount() error {
	fs.unmountOne.Do(func() {
		ctx := context.Background()
		if _, err := fs.dev.DeviceIoControl(
			ctx, driver.IOCTL_EVENT_RELEASE, nil, nil); err != nil {
			fs.logger.WithError(err).Warn("release device")
		}
		if fs.option.mountControl != nil {
			if err := fs.option.mountControl.Unmount(
				ctx, fs.option.mountPoint); err != nil {
				fs.logger.WithError(err).Warn("remove mount point")
			}
		}
		fs.cancel()
	})
	<-fs.done
	return fs.err
}

// Wait blocks until the file system stops, which happens on
// Unmount or when the device goes away by itself.
func (fs *FileSystem) Wait() error {
	<-fs.done
	return fs.err
}

// Done is closed once the file system stops.
func (fs *FileSystem) Done() <-chan struct{} {
	return fs.done
}
