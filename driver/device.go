package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// Config holds the timing parameters of a device.
type Config struct {
	// PendingTimeout is how long a request may wait for its
	// answer before it is failed by the supervisor.
	PendingTimeout time.Duration

	// KeepAliveTimeout is how long user mode may stay silent
	// before it is considered dead, when keepalive is on.
	KeepAliveTimeout time.Duration

	// CheckInterval is the period of the supervisor.
	CheckInterval time.Duration

	// EventWaitTimeout bounds a single worker fetch.
	EventWaitTimeout time.Duration
}

// DefaultConfig returns the configuration of a device.
func DefaultConfig() Config {
	return Config{
		PendingTimeout:   15 * time.Second,
		KeepAliveTimeout: 15 * time.Second,
		CheckInterval:    5 * time.Second,
		EventWaitTimeout: time.Second,
	}
}

// Notifier receives file change notifications of a volume.
type Notifier interface {
	NotifyChange(name string, action uint32)
}

type logNotifier struct {
	logger logrus.FieldLogger
}

func (n logNotifier) NotifyChange(name string, action uint32) {
	n.logger.WithFields(logrus.Fields{
		"name":   name,
		"action": action,
	}).Debug("file change")
}

// Stats counts how the Irps of a device have terminated.
type Stats struct {
	Completed uint64
	Cancelled uint64
	TimedOut  uint64
	Drained   uint64
	Rejected  uint64
}

type stats struct {
	completed atomic.Uint64
	cancelled atomic.Uint64
	timedOut  atomic.Uint64
	drained   atomic.Uint64
	rejected  atomic.Uint64
}

// Device is the mount state of one volume.
type Device struct {
	number   uint32
	config   Config
	logger   logrus.FieldLogger
	global   *Global
	notifier atomic.Pointer[notifierBox]

	registry *Registry
	channel  *Channel
	vcb      *VCB

	serial       atomic.Uint64
	mountID      atomic.Uint32
	mounted      atomic.Bool
	useKeepAlive atomic.Bool
	useAltStream atomic.Bool
	keepAlive    atomic.Int64
	drive        atomic.Uint32

	// mu serializes start and release of the device.
	mu         sync.Mutex
	supervisor *supervisor

	stats stats
}

func newDevice(
	global *Global, number uint32,
	config Config, logger logrus.FieldLogger,
) *Device {
	logger = logger.WithField("device", number)
	d := &Device{
		number:   number,
		config:   config,
		logger:   logger,
		global:   global,
		registry: NewRegistry(),
		channel:  NewChannel(),
		vcb:      newVCB(),
	}
	d.SetNotifier(logNotifier{logger: logger})
	return d
}

// Number is the device number within the global list.
func (d *Device) Number() uint32 {
	return d.number
}

// MountID is the generation of the current mount.
func (d *Device) MountID() uint32 {
	return d.mountID.Load()
}

// Mounted reports whether the device accepts requests.
func (d *Device) Mounted() bool {
	return d.mounted.Load()
}

// Drive is the drive letter of the current mount.
func (d *Device) Drive() uint16 {
	return uint16(d.drive.Load())
}

// VCB returns the open file table of the volume.
func (d *Device) VCB() *VCB {
	return d.vcb
}

type notifierBox struct{ Notifier }

// SetNotifier replaces the receiver of change notifications,
// it may be called while requests are being completed.
func (d *Device) SetNotifier(n Notifier) {
	d.notifier.Store(&notifierBox{n})
}

func (d *Device) notifyChange(name string, action uint32) {
	d.notifier.Load().NotifyChange(name, action)
}

// Stats returns the termination counters of the device.
func (d *Device) Stats() Stats {
	return Stats{
		Completed: d.stats.completed.Load(),
		Cancelled: d.stats.cancelled.Load(),
		TimedOut:  d.stats.timedOut.Load(),
		Drained:   d.stats.drained.Load(),
		Rejected:  d.stats.rejected.Load(),
	}
}

// Pending returns the number of requests in the registry
// and in the notification channel.
func (d *Device) Pending() (registry, channel int) {
	return d.registry.Len(), d.channel.Len()
}

// Start mounts the device. Starting a mounted device reports
// it as used and changes nothing.
func (d *Device) Start(req EventStart) EventDriverInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := EventDriverInfo{
		DriverVersion: DriverVersion,
		DeviceNumber:  d.number,
	}
	if d.mounted.Load() {
		info.Status = DriverInfoUsed
		info.MountID = d.mountID.Load()
		return info
	}
	mountID := d.mountID.Add(1)
	d.drive.Store(uint32(req.DriveLetter))
	d.useKeepAlive.Store(req.Flags&StartKeepAlive != 0)
	d.useAltStream.Store(req.Flags&StartAltStream != 0)
	d.keepAlive.Store(time.Now().UnixNano())
	d.registry.Open()
	d.channel.Open()
	d.mounted.Store(true)
	d.supervisor = newSupervisor(d, mountID)
	d.supervisor.start()
	d.logger.WithFields(logrus.Fields{
		"mount": mountID,
		"drive": string(rune(req.DriveLetter)),
	}).Info("device mounted")
	info.Status = DriverInfoMounted
	info.MountID = mountID
	return info
}

// KeepAlive records a sign of life of user mode.
func (d *Device) KeepAlive() {
	d.keepAlive.Store(time.Now().UnixNano())
}

// EnableKeepAlive turns on the worker liveness check.
func (d *Device) EnableKeepAlive() {
	d.KeepAlive()
	d.useKeepAlive.Store(true)
}

// EnableAltStream allows stream names in create requests.
func (d *Device) EnableAltStream() {
	d.useAltStream.Store(true)
}

func (d *Device) keepAliveExpired(now time.Time) bool {
	if !d.useKeepAlive.Load() {
		return false
	}
	last := time.Unix(0, d.keepAlive.Load())
	return now.Sub(last) > d.config.KeepAliveTimeout
}

// WaitEvent blocks for the next event and copies it into out.
//
// When out cannot hold the event, the worker call fails and
// the request behind it is failed with insufficient resources
// rather than being handed over truncated.
func (d *Device) WaitEvent(ctx context.Context, out []byte) (int, error) {
	entry, err := d.channel.BlockingPop(ctx, d.config.EventWaitTimeout)
	if err != nil {
		return 0, err
	}
	if len(out) < len(entry.data) {
		d.logger.WithFields(logrus.Fields{
			"serial": entry.serial,
			"need":   len(entry.data),
			"have":   len(out),
		}).Warn("event buffer too small")
		if entry.irp != nil && entry.irp.claim() {
			d.registry.FindAndRemove(entry.serial)
			entry.irp.finish(ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0)
		}
		return 0, errors.Wrapf(ErrBufferTooSmall,
			"event needs %d bytes", len(entry.data))
	}
	return copy(out, entry.data), nil
}

// WritePayload copies the payload of the pending write with
// the serial number into out. The copy is made while the
// write is still registered, a write cancelled meanwhile is
// reported as unknown.
func (d *Device) WritePayload(serial uint64, out []byte) (int, error) {
	var (
		entry *pendingEntry
		need  int
		n     int
	)
	d.registry.Use(serial, func(e *pendingEntry) {
		if e.irp.category != CategoryWrite {
			return
		}
		entry = e
		need = len(e.irp.writeData)
		if len(out) >= need {
			n = copy(out, e.irp.writeData)
		}
	})
	if entry == nil {
		return 0, ntstatus.STATUS_INVALID_PARAMETER
	}
	if len(out) < need {
		if entry.irp.claim() {
			d.registry.Remove(entry)
			entry.irp.finish(ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0)
		}
		return 0, errors.Wrapf(ErrBufferTooSmall,
			"write payload needs %d bytes", need)
	}
	return n, nil
}

// CompleteEvent decodes the answer of user mode and matches
// it to its request.
func (d *Device) CompleteEvent(buf []byte) error {
	info, err := DecodeEventInformation(buf)
	if err != nil {
		return err
	}
	d.Complete(info)
	return nil
}

// Release unmounts the device. Pending requests and queued
// events are failed, and workers blocked on the channel are
// woken up to learn the device is gone.
func (d *Device) Release() {
	d.release(0, false)
}

// release unmounts the mount with the id, zero for whichever
// mount is current. The teardown runs under mu, so a Start
// racing with it finds either the old mount or a clean device.
func (d *Device) release(mountID uint32, expired bool) {
	d.mu.Lock()
	current := d.mountID.Load()
	if !d.mounted.Load() || (mountID != 0 && mountID != current) {
		d.mu.Unlock()
		return
	}
	d.mounted.Store(false)
	if expired {
		d.logger.WithField("mount", current).
			Warn("keepalive expired, force to unmount")
		if err := d.global.notifyUnmount(d); err != nil {
			d.logger.WithError(err).Warn("unmount notification failed")
		}
	}
	sup := d.supervisor
	d.supervisor = nil
	if sup != nil {
		sup.signal()
	}

	handles := d.vcb.cleanup()
	notifications := d.channel.Drain()
	for _, entry := range notifications {
		if entry.irp != nil && entry.irp.claim() {
			d.registry.FindAndRemove(entry.serial)
			entry.irp.finish(ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0)
			d.stats.drained.Add(1)
		}
	}
	pending := d.registry.DrainAll()
	for _, entry := range pending {
		if entry.irp.claim() {
			entry.irp.finish(ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0)
			d.stats.drained.Add(1)
		}
	}
	d.mu.Unlock()

	// The supervisor releasing its own mount cannot wait for
	// itself to exit.
	if sup != nil && !expired {
		sup.wait()
	}
	d.logger.WithFields(logrus.Fields{
		"mount":         current,
		"handles":       handles,
		"pending":       len(pending),
		"notifications": len(notifications),
	}).Info("device released")
}
