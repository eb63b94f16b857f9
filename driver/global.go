package driver

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// Global is the process wide list of devices.
//
// It also carries the service channel, on which the driver
// informs the mount service about devices that went away
// without being unmounted by it.
type Global struct {
	config Config
	logger *logrus.Logger

	mu      sync.Mutex
	devices map[uint32]*Device
	next    uint32

	service *Channel
}

// NewGlobal creates the device list. A nil logger stands
// for the standard logger.
func NewGlobal(config Config, logger *logrus.Logger) *Global {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	service := NewChannel()
	service.Open()
	return &Global{
		config:  config,
		logger:  logger,
		devices: make(map[uint32]*Device),
		service: service,
	}
}

// NewDevice adds a device to the list.
func (g *Global) NewDevice() *Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	number := g.next
	g.next++
	dev := newDevice(g, number, g.config, g.logger)
	g.devices[number] = dev
	return dev
}

// Device looks up a device by its number.
func (g *Global) Device(number uint32) (*Device, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev, ok := g.devices[number]
	return dev, ok
}

// Devices lists the devices ordered by number.
func (g *Global) Devices() []*Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]*Device, 0, len(g.devices))
	for _, dev := range g.devices {
		result = append(result, dev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].number < result[j].number
	})
	return result
}

// Remove deletes a released device from the list.
func (g *Global) Remove(number uint32) {
	g.mu.Lock()
	dev, ok := g.devices[number]
	delete(g.devices, number)
	g.mu.Unlock()
	if ok {
		dev.Release()
	}
}

// notifyUnmount queues the unmount notification of a device
// on the service channel.
func (g *Global) notifyUnmount(dev *Device) error {
	event := &Event{}
	event.Category = uint32(CategoryUnmount)
	event.MountID = dev.MountID()
	event.Unmount = UnmountParams{
		DeviceNumber: dev.number,
		Drive:        dev.Drive(),
	}
	data, err := event.Encode()
	if err != nil {
		return err
	}
	return g.service.Push(&notifyEntry{data: data})
}

// WaitService blocks for the next service notification.
func (g *Global) WaitService(ctx context.Context, out []byte) (int, error) {
	entry, err := g.service.BlockingPop(ctx, g.config.EventWaitTimeout)
	if err != nil {
		return 0, err
	}
	if len(out) < len(entry.data) {
		return 0, ntstatus.STATUS_BUFFER_TOO_SMALL
	}
	return copy(out, entry.data), nil
}

// SetDebugMode adjusts the verbosity of the driver log.
func (g *Global) SetDebugMode(mode uint32) {
	g.logger.SetLevel(debugLevel(mode))
	g.logger.WithField("mode", mode).Info("debug mode set")
}

// DeviceIoControl serves the control codes of the global
// device, which are not bound to any mount.
func (g *Global) DeviceIoControl(
	ctx context.Context, code uint32, in, out []byte,
) (int, error) {
	switch code {
	case IOCTL_TEST:
		if len(out) < 4 {
			return 0, ntstatus.STATUS_BUFFER_TOO_SMALL
		}
		binary.LittleEndian.PutUint32(out, DriverVersion)
		return 4, nil

	case IOCTL_SET_DEBUG_MODE:
		if len(in) < 4 {
			return 0, ntstatus.STATUS_INVALID_PARAMETER
		}
		g.SetDebugMode(binary.LittleEndian.Uint32(in))
		return 0, nil

	case IOCTL_SERVICE_WAIT:
		return g.WaitService(ctx, out)
	}
	return 0, ntstatus.STATUS_INVALID_DEVICE_REQUEST
}
