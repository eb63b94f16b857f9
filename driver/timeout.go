package driver

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// supervisor fails requests user mode never answered, and
// unmounts the device when user mode stops pinging it.
type supervisor struct {
	dev      *Device
	mountID  uint32
	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}

	// warn throttles timeout logs of a stuck backend.
	warn *rate.Limiter
}

func newSupervisor(dev *Device, mountID uint32) *supervisor {
	return &supervisor{
		dev:     dev,
		mountID: mountID,
		kill:    make(chan struct{}),
		done:    make(chan struct{}),
		warn:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *supervisor) start() {
	go s.run()
}

func (s *supervisor) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.dev.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.kill:
			return
		case now := <-ticker.C:
			select {
			case <-s.kill:
				return
			default:
			}
			s.dev.releaseTimedOut(now, s.warn)
			if s.dev.keepAliveExpired(now) {
				s.dev.forceUnmount(s.mountID)
				return
			}
		}
	}
}

// signal asks the supervisor to exit without waiting for it,
// it may be blocked on the lock of the device.
func (s *supervisor) signal() {
	s.killOnce.Do(func() { close(s.kill) })
}

func (s *supervisor) wait() {
	<-s.done
}

// releaseTimedOut fails the requests pending for longer than
// the pending timeout. It is safe to run concurrently with
// itself and with completion, each request is failed at most
// once by whoever claims it.
func (d *Device) releaseTimedOut(now time.Time, warn *rate.Limiter) int {
	entries := d.registry.DrainTimedOut(now, d.config.PendingTimeout)
	count := 0
	for _, entry := range entries {
		if !entry.irp.claim() {
			continue
		}
		entry.irp.finish(ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0)
		d.stats.timedOut.Add(1)
		count++
	}
	if count > 0 && (warn == nil || warn.Allow()) {
		d.logger.WithFields(logrus.Fields{
			"mount": d.mountID.Load(),
			"count": count,
		}).Warn("pending requests timed out")
	}
	return count
}

// forceUnmount tears down the mount whose user mode is dead.
// A mount started after it is left alone.
func (d *Device) forceUnmount(mountID uint32) {
	d.release(mountID, true)
}
