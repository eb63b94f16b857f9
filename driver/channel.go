package driver

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// notifyEntry is an event waiting to be fetched by a worker.
//
// The irp is nil for pure notifications, which have no
// caller waiting for their answer.
type notifyEntry struct {
	serial uint64
	data   []byte
	irp    *Irp
}

// Channel is the queue of events to be delivered to user
// mode workers blocked in BlockingPop.
//
// notEmpty holds one token whenever the queue might be non
// empty. A worker taking the token and leaving entries behind
// posts it again, so each push wakes exactly one waiter and
// waiters keep waking while there is work.
type Channel struct {
	mu       sync.Mutex
	queue    *list.List
	active   bool
	notEmpty chan struct{}
	closed   chan struct{}
}

// NewChannel creates an inactive channel.
func NewChannel() *Channel {
	closed := make(chan struct{})
	close(closed)
	return &Channel{
		queue:    list.New(),
		notEmpty: make(chan struct{}, 1),
		closed:   closed,
	}
}

// Open starts accepting pushes and waiters.
func (c *Channel) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	c.active = true
	c.closed = make(chan struct{})
}

func (c *Channel) signalLocked() {
	select {
	case c.notEmpty <- struct{}{}:
	default:
	}
}

func (c *Channel) clearLocked() {
	select {
	case <-c.notEmpty:
	default:
	}
}

// Push queues the entry.
func (c *Channel) Push(entry *notifyEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNotMounted
	}
	c.queue.PushBack(entry)
	c.signalLocked()
	return nil
}

// popLocked removes the first entry still deliverable. The
// entries whose Irp has been claimed meanwhile are dropped,
// their caller has been answered already.
func (c *Channel) popLocked() *notifyEntry {
	for front := c.queue.Front(); front != nil; front = c.queue.Front() {
		c.queue.Remove(front)
		entry := front.Value.(*notifyEntry)
		if entry.irp != nil && entry.irp.claimed() {
			continue
		}
		return entry
	}
	return nil
}

// BlockingPop waits for an entry for at most timeout.
//
// The channel is checked for being active each time the
// waiter wakes up, since the device might have been released
// while it was sleeping.
func (c *Channel) BlockingPop(
	ctx context.Context, timeout time.Duration,
) (*notifyEntry, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return nil, ErrNotMounted
		}
		entry := c.popLocked()
		if c.queue.Len() > 0 {
			c.signalLocked()
		} else {
			c.clearLocked()
		}
		closed := c.closed
		c.mu.Unlock()
		if entry != nil {
			return entry, nil
		}
		select {
		case <-c.notEmpty:
		case <-closed:
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Drain deactivates the channel, wakes every waiter and
// returns the undelivered entries in queue order.
func (c *Channel) Drain() []*notifyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*notifyEntry, 0, c.queue.Len())
	for front := c.queue.Front(); front != nil; front = front.Next() {
		result = append(result, front.Value.(*notifyEntry))
	}
	c.queue.Init()
	c.clearLocked()
	if c.active {
		c.active = false
		close(c.closed)
	}
	return result
}

// Len returns the number of queued entries.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
