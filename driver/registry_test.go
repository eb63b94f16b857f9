package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(serial uint64, at time.Time) *pendingEntry {
	return &pendingEntry{
		serial: serial,
		irp:    newIrp(CategoryRead, nil),
		at:     at,
	}
}

func TestRegistryInactive(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()
	err := registry.Register(newTestEntry(1, time.Now()))
	assert.ErrorIs(err, ErrNotMounted)
	assert.Zero(registry.Len())

	registry.Open()
	assert.NoError(registry.Register(newTestEntry(1, time.Now())))
	assert.Len(registry.DrainAll(), 1)

	// Drained registry refuses until it is reopened.
	err = registry.Register(newTestEntry(2, time.Now()))
	assert.ErrorIs(err, ErrNotMounted)
	assert.Zero(registry.Len())
}

func TestRegistryFindAndRemove(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()
	registry.Open()
	now := time.Now()
	for _, serial := range []uint64{3, 1, 2} {
		require.NoError(t, registry.Register(newTestEntry(serial, now)))
	}
	assert.Equal(3, registry.Len())

	entry := registry.FindAndRemove(2)
	require.NotNil(t, entry)
	assert.Equal(uint64(2), entry.serial)
	assert.Nil(registry.FindAndRemove(2))
	assert.False(registry.Use(2, func(*pendingEntry) {
		t.Fatal("used a removed entry")
	}))
	var found *pendingEntry
	assert.True(registry.Use(3, func(e *pendingEntry) { found = e }))
	require.NotNil(t, found)
	assert.Equal(uint64(3), found.serial)

	// Removing a stale pointer never evicts another entry.
	assert.False(registry.Remove(newTestEntry(3, now)))
	assert.True(registry.Remove(found))
	assert.False(registry.Remove(entry))
	assert.Equal(1, registry.Len())
}

func TestRegistryDrainOrder(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()
	registry.Open()
	now := time.Now()
	for _, serial := range []uint64{5, 9, 1, 7} {
		require.NoError(t, registry.Register(newTestEntry(serial, now)))
	}
	var serials []uint64
	for _, entry := range registry.DrainAll() {
		serials = append(serials, entry.serial)
	}
	assert.Equal([]uint64{1, 5, 7, 9}, serials)
	assert.Zero(registry.Len())
}

func TestRegistryDrainTimedOut(t *testing.T) {
	assert := assert.New(t)
	registry := NewRegistry()
	registry.Open()
	now := time.Now()
	require.NoError(t, registry.Register(newTestEntry(1, now.Add(-time.Minute))))
	require.NoError(t, registry.Register(newTestEntry(2, now)))
	require.NoError(t, registry.Register(newTestEntry(3, now.Add(-time.Hour))))

	expired := registry.DrainTimedOut(now, 30*time.Second)
	require.Len(t, expired, 2)
	assert.Equal(uint64(1), expired[0].serial)
	assert.Equal(uint64(3), expired[1].serial)
	assert.Empty(registry.DrainTimedOut(now, 30*time.Second))
	assert.Equal(1, registry.Len())
}

func TestChannelFIFO(t *testing.T) {
	assert := assert.New(t)
	channel := NewChannel()
	assert.ErrorIs(channel.Push(&notifyEntry{serial: 1}), ErrNotMounted)

	channel.Open()
	for serial := uint64(1); serial <= 3; serial++ {
		require.NoError(t, channel.Push(&notifyEntry{serial: serial}))
	}
	for serial := uint64(1); serial <= 3; serial++ {
		entry, err := channel.BlockingPop(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(serial, entry.serial)
	}
	_, err := channel.BlockingPop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(err, ErrTimeout)
}

func TestChannelSkipsClaimed(t *testing.T) {
	assert := assert.New(t)
	channel := NewChannel()
	channel.Open()
	claimed := newIrp(CategoryRead, nil)
	require.True(t, claimed.claim())
	require.NoError(t, channel.Push(&notifyEntry{serial: 1, irp: claimed}))
	require.NoError(t, channel.Push(&notifyEntry{serial: 2}))

	entry, err := channel.BlockingPop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(uint64(2), entry.serial)
	assert.Zero(channel.Len())
}

func TestChannelWakesWaiters(t *testing.T) {
	assert := assert.New(t)
	channel := NewChannel()
	channel.Open()

	const waiters = 4
	var wg sync.WaitGroup
	results := make(chan uint64, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := channel.BlockingPop(
				context.Background(), time.Minute)
			if err == nil {
				results <- entry.serial
			}
		}()
	}
	for serial := uint64(1); serial <= waiters; serial++ {
		require.NoError(t, channel.Push(&notifyEntry{serial: serial}))
	}
	wg.Wait()
	close(results)
	seen := make(map[uint64]bool)
	for serial := range results {
		seen[serial] = true
	}
	assert.Len(seen, waiters)
}

func TestChannelDrainWakesWaiters(t *testing.T) {
	assert := assert.New(t)
	channel := NewChannel()
	channel.Open()

	errs := make(chan error, 1)
	go func() {
		_, err := channel.BlockingPop(context.Background(), time.Minute)
		errs <- err
	}()
	require.NoError(t, channel.Push(&notifyEntry{serial: 1}))
	// Whether the waiter took the entry or not, after the
	// drain nothing is left and the channel is shut.
	drained := channel.Drain()
	assert.LessOrEqual(len(drained), 1)
	assert.ErrorIs(channel.Push(&notifyEntry{serial: 2}), ErrNotMounted)

	_, err := channel.BlockingPop(context.Background(), time.Minute)
	assert.ErrorIs(err, ErrNotMounted)

	// The waiter either got the entry before the drain or
	// was woken with the channel shut.
	select {
	case err := <-errs:
		if err != nil {
			assert.ErrorIs(err, ErrNotMounted)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("waiter not woken by drain")
	}
}

func TestChannelContextCancel(t *testing.T) {
	channel := NewChannel()
	channel.Open()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := channel.BlockingPop(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
