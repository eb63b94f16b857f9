package mountctl

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aegistudio/go-dokan/driver"
)

// Server answers control records and keeps the mount table.
type Server struct {
	global *driver.Global
	logger logrus.FieldLogger

	mu    sync.Mutex
	table *table
}

// NewServer creates the server. With a device list, unmount
// releases the device of the drive, the debug level is set on
// the driver and devices that go away leave the table.
func NewServer(global *driver.Global, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		global: global,
		logger: logger.WithField("component", "mountctl"),
		table:  newTable(),
	}
}

// Entries lists the mount table in drive order.
func (s *Server) Entries() []MountEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.entries()
}

// Handle answers a control record in place.
func (s *Server) Handle(control *Control) {
	control.Status = StatusFail
	switch control.Type {
	case ControlMount:
		s.handleMount(control)
	case ControlUnmount:
		s.handleUnmount(control)
	case ControlList:
		s.handleList(control)
	case ControlDebug:
		if s.global == nil || control.Option > 9 {
			return
		}
		s.global.SetDebugMode(control.Option)
		control.Status = StatusSuccess
	default:
		s.logger.WithField("type", control.Type).Warn("unknown control")
	}
}

func (s *Server) handleMount(control *Control) {
	logger := s.logger.WithFields(logrus.Fields{
		"mountPoint": control.MountPointString(),
		"device":     control.Device,
	})
	drive, err := ParseDrive(control.MountPointString())
	if err != nil {
		logger.WithError(err).Warn("mount refused")
		return
	}
	if s.global != nil {
		if _, ok := s.global.Device(control.Device); !ok {
			logger.Warn("mount of unknown device refused")
			return
		}
	}
	s.mu.Lock()
	inserted := s.table.insert(MountEntry{Drive: drive, Device: control.Device})
	s.mu.Unlock()
	if !inserted {
		logger.Warn("mount point already in use")
		return
	}
	control.SetDeviceName(DeviceNameOf(control.Device))
	control.Status = StatusSuccess
	logger.Info("mount point assigned")
}

func (s *Server) handleUnmount(control *Control) {
	logger := s.logger.WithField("mountPoint", control.MountPointString())
	drive, err := ParseDrive(control.MountPointString())
	if err != nil {
		logger.WithError(err).Warn("unmount refused")
		return
	}
	s.mu.Lock()
	entry, ok := s.table.remove(drive)
	s.mu.Unlock()
	if !ok {
		logger.Warn("unmount of unknown mount point")
		return
	}
	if s.global != nil {
		if dev, ok := s.global.Device(entry.Device); ok && dev.Mounted() {
			dev.Release()
		}
	}
	control.Device = entry.Device
	control.SetDeviceName(DeviceNameOf(entry.Device))
	control.Status = StatusSuccess
	logger.WithField("device", entry.Device).Info("mount point removed")
}

func (s *Server) handleList(control *Control) {
	s.mu.Lock()
	entry, ok := s.table.at(control.Index)
	s.mu.Unlock()
	if !ok {
		return
	}
	control.Device = entry.Device
	control.SetMountPoint(MountPointOf(entry.Drive))
	control.SetDeviceName(DeviceNameOf(entry.Device))
	control.Status = StatusSuccess
}

// forget removes the mount point of a device that went away.
func (s *Server) forget(device uint32, drive uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.table.get(drive)
	if !ok || entry.Device != device {
		return
	}
	s.table.remove(drive)
	s.logger.WithFields(logrus.Fields{
		"mountPoint": MountPointOf(drive),
		"device":     device,
	}).Info("mount point of lost device removed")
}

// watch drains the service notifications of the driver.
func (s *Server) watch(ctx context.Context) error {
	buf := make([]byte, 1024)
	for {
		n, err := s.global.WaitService(ctx, buf)
		switch {
		case err == nil:
		case errors.Is(err, driver.ErrTimeout):
			continue
		case ctx.Err() != nil:
			return nil
		default:
			return errors.Wrap(err, "wait service")
		}
		event, err := driver.DecodeEvent(buf[:n])
		if err != nil {
			s.logger.WithError(err).Warn("malformed service notification")
			continue
		}
		if event.Kind() != driver.CategoryUnmount {
			continue
		}
		s.forget(event.Unmount.DeviceNumber, event.Unmount.Drive)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	buf := make([]byte, controlSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.WithError(err).Debug("control connection lost")
			}
			return
		}
		control, err := DecodeControl(buf)
		if err != nil {
			s.logger.WithError(err).Warn("malformed control")
			return
		}
		s.Handle(control)
		data, err := control.Encode()
		if err != nil {
			s.logger.WithError(err).Error("encode control")
			return
		}
		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}

// Serve answers the connections of the listener until the
// context is done, and watches the device list meanwhile.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		_ = l.Close()
		return nil
	})
	if s.global != nil {
		group.Go(func() error {
			return s.watch(ctx)
		})
	}
	group.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept control connection")
			}
			group.Go(func() error {
				s.serveConn(ctx, conn)
				return nil
			})
		}
	})
	return group.Wait()
}
