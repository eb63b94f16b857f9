package driver

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegistudio/go-dokan/ntstatus"
)

func testConfig() Config {
	return Config{
		PendingTimeout:   time.Minute,
		KeepAliveTimeout: time.Minute,
		CheckInterval:    time.Hour,
		EventWaitTimeout: time.Second,
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDevice(t *testing.T, config Config) *Device {
	global := NewGlobal(config, newTestLogger())
	dev := global.NewDevice()
	info := dev.Start(EventStart{DriveLetter: 'M'})
	require.Equal(t, DriverInfoMounted, info.Status)
	t.Cleanup(dev.Release)
	return dev
}

func fetch(t *testing.T, dev *Device) *Event {
	buf := make([]byte, 4096)
	n, err := dev.WaitEvent(context.Background(), buf)
	require.NoError(t, err)
	event, err := DecodeEvent(buf[:n])
	require.NoError(t, err)
	return event
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *recordingNotifier) NotifyChange(name string, action uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, fmt.Sprintf("%d:%s", action, name))
}

func (n *recordingNotifier) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.changes...)
}

type createResult struct {
	fo          *FileObject
	information uint64
	err         error
}

func startCreate(dev *Device, req CreateRequest) <-chan createResult {
	result := make(chan createResult, 1)
	go func() {
		fo, information, err := dev.Volume().Create(
			context.Background(), req)
		result <- createResult{fo, information, err}
	}()
	return result
}

// openFile opens the name, answering the create with the
// context 42 from user mode.
func openFile(t *testing.T, dev *Device, name string) *FileObject {
	result := startCreate(dev, CreateRequest{
		FileName: name, Disposition: FILE_OPEN,
	})
	event := fetch(t, dev)
	require.Equal(t, CategoryCreate, event.Kind())
	require.Equal(t, name, event.FileName)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Context:      42,
		Information:  FILE_OPENED,
	})
	r := <-result
	require.NoError(t, r.err)
	require.Equal(t, FILE_OPENED, r.information)
	return r.fo
}

type ioResult struct {
	n   int
	err error
}

func startRead(
	ctx context.Context, dev *Device, fo *FileObject,
	size int, offset int64,
) (<-chan ioResult, []byte) {
	buf := make([]byte, size)
	result := make(chan ioResult, 1)
	go func() {
		n, err := dev.Volume().Read(ctx, fo, buf, offset)
		result <- ioResult{n, err}
	}()
	return result, buf
}

func TestReadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)
	assert.True(fo.CCB.Opened())
	assert.Equal(uint64(42), fo.CCB.Context())

	result, buf := startRead(context.Background(), dev, fo, 16, 0)
	event := fetch(t, dev)
	assert.Equal(CategoryRead, event.Kind())
	assert.Equal(uint64(42), event.Context)
	assert.Equal(uint32(16), event.Read.BufferLength)
	assert.Equal(dev.MountID(), event.MountID)

	// The backend has fewer bytes than requested.
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  5,
		ByteOffset:   5,
		Buffer:       []byte("hello"),
	})
	r := <-result
	require.NoError(t, r.err)
	assert.Equal(5, r.n)
	assert.Equal("hello", string(buf[:r.n]))
	assert.Equal(int64(5), fo.CurrentByteOffset())

	// Synchronous read continues from the current offset.
	result, _ = startRead(context.Background(), dev, fo, 16, -1)
	event = fetch(t, dev)
	assert.Equal(int64(5), event.Read.ByteOffset)
	assert.NotZero(event.FileFlags & FlagSynchronousIO)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Status:       uint32(ntstatus.STATUS_END_OF_FILE),
	})
	r = <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_END_OF_FILE)
	assert.Zero(r.n)

	registry, channel := dev.Pending()
	assert.Zero(registry)
	assert.Zero(channel)
	assert.Equal(uint64(3), dev.Stats().Completed)
}

func TestOutOfOrderCompletion(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	const count = 3
	results := make([]<-chan ioResult, count)
	buffers := make([][]byte, count)
	for i := 0; i < count; i++ {
		results[i], buffers[i] = startRead(
			context.Background(), dev, fo, 8, int64(i*100))
	}
	events := make([]*Event, count)
	for i := range events {
		events[i] = fetch(t, dev)
	}

	// Answer in reverse, each caller must get the answer to
	// the offset it asked for.
	for i := count - 1; i >= 0; i-- {
		answer := []byte(fmt.Sprint(events[i].Read.ByteOffset))
		dev.Complete(&EventInformation{
			SerialNumber: events[i].SerialNumber,
			Information:  uint64(len(answer)),
			ByteOffset:   events[i].Read.ByteOffset + int64(len(answer)),
			Buffer:       answer,
		})
	}
	for i := 0; i < count; i++ {
		r := <-results[i]
		require.NoError(t, r.err)
		assert.Equal(fmt.Sprint(i*100), string(buffers[i][:r.n]))
	}
}

func TestAnswerLargerThanBuffer(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	result, _ := startRead(context.Background(), dev, fo, 4, 0)
	event := fetch(t, dev)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  11,
		Buffer:       []byte("hello world"),
	})
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
	assert.Zero(r.n)
	assert.Zero(fo.CurrentByteOffset())
}

func TestReadWithoutBuffer(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	result := make(chan ioResult, 1)
	go func() {
		n, err := dev.Volume().Read(context.Background(), fo, nil, 0)
		result <- ioResult{n, err}
	}()
	event := fetch(t, dev)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		ByteOffset:   5,
		Buffer:       []byte("hello"),
	})
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
	assert.Zero(r.n)
	assert.Zero(fo.CurrentByteOffset())

	// An empty answer does not make an empty buffer acceptable.
	go func() {
		n, err := dev.Volume().Read(context.Background(), fo, []byte{}, 0)
		result <- ioResult{n, err}
	}()
	event = fetch(t, dev)
	dev.Complete(&EventInformation{SerialNumber: event.SerialNumber})
	r = <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
}

func TestCancelRacesCompletion(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)
	before := dev.Stats()

	const iterations = 200
	for i := 0; i < iterations; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		result, buf := startRead(ctx, dev, fo, 4, 0)
		event := fetch(t, dev)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel()
		}()
		go func() {
			defer wg.Done()
			dev.Complete(&EventInformation{
				SerialNumber: event.SerialNumber,
				Information:  2,
				Buffer:       []byte("ok"),
			})
		}()
		wg.Wait()
		r := <-result
		if r.err != nil {
			assert.ErrorIs(r.err, ntstatus.STATUS_CANCELLED)
		} else {
			assert.Equal("ok", string(buf[:r.n]))
		}
	}
	after := dev.Stats()
	assert.Equal(uint64(iterations),
		after.Completed-before.Completed+after.Cancelled-before.Cancelled)
	registry, channel := dev.Pending()
	assert.Zero(registry)
	assert.Zero(channel)
}

func TestCancelBeforeDelivery(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	ctx, cancel := context.WithCancel(context.Background())
	result, _ := startRead(ctx, dev, fo, 4, 0)
	assert.Eventually(func() bool {
		registry, _ := dev.Pending()
		return registry == 1
	}, 10*time.Second, time.Millisecond)
	cancel()
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_CANCELLED)

	// The cancelled event is never handed to a worker.
	_, err := dev.WaitEvent(context.Background(), make([]byte, 4096))
	assert.ErrorIs(err, ErrTimeout)
}

func TestReleaseDrainsEverything(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)
	before := dev.Stats()

	const delivered, undelivered = 3, 2
	var results []<-chan ioResult
	for i := 0; i < delivered+undelivered; i++ {
		result, _ := startRead(context.Background(), dev, fo, 4, 0)
		results = append(results, result)
	}
	require.Eventually(t, func() bool {
		registry, channel := dev.Pending()
		return registry == delivered+undelivered &&
			channel == delivered+undelivered
	}, 10*time.Second, time.Millisecond)
	for i := 0; i < delivered; i++ {
		fetch(t, dev)
	}

	dev.Release()
	assert.False(dev.Mounted())
	for _, result := range results {
		r := <-result
		assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
	}
	registry, channel := dev.Pending()
	assert.Zero(registry)
	assert.Zero(channel)
	assert.Equal(uint64(delivered+undelivered),
		dev.Stats().Drained-before.Drained)

	_, err := dev.WaitEvent(context.Background(), make([]byte, 4096))
	assert.ErrorIs(err, ErrNotMounted)

	// Handles of the old mount are refused.
	_, err = dev.Volume().Read(context.Background(), fo, make([]byte, 4), 0)
	assert.ErrorIs(err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
	assert.NoError(dev.Volume().Close(fo))
	assert.Zero(dev.VCB().Len())
}

func TestReleaseWakesWorker(t *testing.T) {
	config := testConfig()
	config.EventWaitTimeout = time.Minute
	dev := newTestDevice(t, config)

	waitErr := make(chan error, 1)
	go func() {
		_, err := dev.WaitEvent(context.Background(), make([]byte, 4096))
		waitErr <- err
	}()
	// Give the worker a chance to block before releasing.
	time.Sleep(10 * time.Millisecond)
	dev.Release()
	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrNotMounted)
	case <-time.After(10 * time.Second):
		t.Fatal("worker not woken by release")
	}
}

func TestRemountRefusesOldHandles(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)
	mountID := dev.MountID()
	dev.Release()

	info := dev.Start(EventStart{DriveLetter: 'N'})
	assert.Equal(DriverInfoMounted, info.Status)
	assert.Equal(mountID+1, info.MountID)
	assert.Equal(uint16('N'), dev.Drive())
	_, err := dev.Volume().Read(context.Background(), fo, make([]byte, 4), 0)
	assert.ErrorIs(err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)

	info = dev.Start(EventStart{DriveLetter: 'O'})
	assert.Equal(DriverInfoUsed, info.Status)
	assert.Equal(uint16('N'), dev.Drive())
}

func TestReleaseRacesStart(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())

	for i := 0; i < 10; i++ {
		// Open handles keep the teardown busy long enough for
		// the restart to arrive in the middle of it.
		fcb := dev.vcb.acquire(`\busy`)
		for j := 0; j < 20000; j++ {
			dev.vcb.newCCB(fcb, dev.MountID())
		}
		oldMount := dev.MountID()
		started := make(chan EventDriverInfo, 1)
		go func() {
			for dev.Mounted() {
				runtime.Gosched()
			}
			started <- dev.Start(EventStart{DriveLetter: 'M'})
		}()
		dev.Release()
		info := <-started
		require.Equal(t, DriverInfoMounted, info.Status)
		require.Equal(t, oldMount+1, info.MountID)

		// The new mount survives the old teardown and accepts
		// requests end to end.
		assert.True(dev.Mounted())
		fo := openFile(t, dev, `\file`)
		assert.Equal(info.MountID, fo.CCB.mountID)

		// The old supervisor cannot take the new mount down.
		dev.forceUnmount(oldMount)
		assert.True(dev.Mounted())
	}
}

func TestTimeoutSweep(t *testing.T) {
	assert := assert.New(t)
	config := testConfig()
	dev := newTestDevice(t, config)
	fo := openFile(t, dev, `\file`)

	result, _ := startRead(context.Background(), dev, fo, 4, 0)
	event := fetch(t, dev)

	// Nothing is old enough yet.
	assert.Zero(dev.releaseTimedOut(time.Now(), nil))

	later := time.Now().Add(config.PendingTimeout + time.Second)
	assert.Equal(1, dev.releaseTimedOut(later, nil))
	assert.Zero(dev.releaseTimedOut(later, nil))
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)

	// The late answer finds nothing to complete.
	completed := dev.Stats().Completed
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  2,
		Buffer:       []byte("ok"),
	})
	assert.Equal(completed, dev.Stats().Completed)
	assert.Equal(uint64(1), dev.Stats().TimedOut)
}

func TestSupervisorTimesOut(t *testing.T) {
	assert := assert.New(t)
	config := testConfig()
	config.PendingTimeout = 20 * time.Millisecond
	config.CheckInterval = 5 * time.Millisecond
	dev := newTestDevice(t, config)

	// Nobody ever answers the create.
	result := startCreate(dev, CreateRequest{FileName: `\file`})
	select {
	case r := <-result:
		assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
		assert.Nil(r.fo)
	case <-time.After(10 * time.Second):
		t.Fatal("request never timed out")
	}
	assert.True(dev.Mounted())
	assert.Zero(dev.VCB().Len())
}

func TestKeepAliveExpiry(t *testing.T) {
	assert := assert.New(t)
	config := testConfig()
	config.KeepAliveTimeout = 20 * time.Millisecond
	config.CheckInterval = 5 * time.Millisecond
	global := NewGlobal(config, newTestLogger())
	dev := global.NewDevice()
	info := dev.Start(EventStart{
		Flags: StartKeepAlive, DriveLetter: 'K',
	})
	require.Equal(t, DriverInfoMounted, info.Status)
	t.Cleanup(dev.Release)

	result := startCreate(dev, CreateRequest{FileName: `\file`})
	assert.Eventually(func() bool {
		return !dev.Mounted()
	}, 10*time.Second, time.Millisecond)
	// Drained when registered before the unmount, rejected
	// when the unmount came first.
	r := <-result
	assert.Contains([]error{
		ntstatus.STATUS_INSUFFICIENT_RESOURCES,
		ntstatus.STATUS_NO_SUCH_DEVICE,
	}, r.err)

	buf := make([]byte, 256)
	n, err := global.WaitService(context.Background(), buf)
	require.NoError(t, err)
	event, err := DecodeEvent(buf[:n])
	require.NoError(t, err)
	assert.Equal(CategoryUnmount, event.Kind())
	assert.Equal(dev.Number(), event.Unmount.DeviceNumber)
	assert.Equal(uint16('K'), event.Unmount.Drive)
}

func TestKeepAliveHoldsMount(t *testing.T) {
	config := testConfig()
	config.KeepAliveTimeout = time.Minute
	dev := newTestDevice(t, config)
	dev.EnableKeepAlive()
	now := time.Now()
	assert.False(t, dev.keepAliveExpired(now))
	assert.True(t, dev.keepAliveExpired(now.Add(2*time.Minute)))
	dev.KeepAlive()
	assert.False(t, dev.keepAliveExpired(time.Now()))
}

func TestRejectedWhenNotMounted(t *testing.T) {
	assert := assert.New(t)
	global := NewGlobal(testConfig(), newTestLogger())
	dev := global.NewDevice()

	_, _, err := dev.Volume().Create(context.Background(),
		CreateRequest{FileName: `\file`})
	assert.ErrorIs(err, ntstatus.STATUS_NO_SUCH_DEVICE)

	_, err = dev.Volume().QueryVolumeInformation(
		context.Background(), nil, FileFsVolumeInformation,
		make([]byte, 64))
	assert.ErrorIs(err, ntstatus.STATUS_NO_SUCH_DEVICE)
	assert.Equal(uint64(1), dev.Stats().Rejected)
	registry, channel := dev.Pending()
	assert.Zero(registry)
	assert.Zero(channel)
}

func TestWaitEventBufferTooSmall(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	result, _ := startRead(context.Background(), dev, fo, 4, 0)
	require.Eventually(t, func() bool {
		_, channel := dev.Pending()
		return channel == 1
	}, 10*time.Second, time.Millisecond)
	_, err := dev.WaitEvent(context.Background(), make([]byte, 8))
	assert.ErrorIs(err, ErrBufferTooSmall)
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
	registry, _ := dev.Pending()
	assert.Zero(registry)
}

func TestWritePayload(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	result := make(chan ioResult, 1)
	go func() {
		n, err := dev.Volume().Write(
			context.Background(), fo, []byte("payload"), -1)
		result <- ioResult{n, err}
	}()
	event := fetch(t, dev)
	assert.Equal(CategoryWrite, event.Kind())
	assert.Equal(uint32(7), event.Write.BufferLength)
	assert.NotZero(event.FileFlags & FlagWriteToEndOfFile)

	_, err := dev.WritePayload(event.SerialNumber+100, make([]byte, 16))
	assert.ErrorIs(err, ntstatus.STATUS_INVALID_PARAMETER)

	buf := make([]byte, 16)
	n, err := dev.WritePayload(event.SerialNumber, buf)
	require.NoError(t, err)
	assert.Equal("payload", string(buf[:n]))

	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  7,
		ByteOffset:   107,
	})
	r := <-result
	require.NoError(t, r.err)
	assert.Equal(7, r.n)
	assert.Equal(int64(107), fo.CurrentByteOffset())
}

func TestWritePayloadTooSmall(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	result := make(chan ioResult, 1)
	go func() {
		n, err := dev.Volume().Write(
			context.Background(), fo, []byte("payload"), 0)
		result <- ioResult{n, err}
	}()
	event := fetch(t, dev)
	_, err := dev.WritePayload(event.SerialNumber, make([]byte, 2))
	assert.ErrorIs(err, ErrBufferTooSmall)
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_INSUFFICIENT_RESOURCES)
}

func TestWritePayloadAfterCancel(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan ioResult, 1)
	go func() {
		n, err := dev.Volume().Write(ctx, fo, []byte("payload"), 0)
		result <- ioResult{n, err}
	}()
	event := fetch(t, dev)
	cancel()
	r := <-result
	assert.ErrorIs(r.err, ntstatus.STATUS_CANCELLED)

	// The caller has returned, its buffer is no longer read.
	buf := make([]byte, 16)
	n, err := dev.WritePayload(event.SerialNumber, buf)
	assert.ErrorIs(err, ntstatus.STATUS_INVALID_PARAMETER)
	assert.Zero(n)
	assert.Equal(make([]byte, 16), buf)
}

func TestCreateNotifiesAndTracksFCB(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	notifier := &recordingNotifier{}
	dev.SetNotifier(notifier)

	result := startCreate(dev, CreateRequest{
		FileName:    `dir`,
		Disposition: FILE_CREATE,
		Options:     FILE_DIRECTORY_FILE,
	})
	event := fetch(t, dev)
	assert.Equal(`\dir`, event.FileName)
	assert.Equal(FILE_CREATE, event.Create.Disposition())
	assert.Equal(FILE_DIRECTORY_FILE, event.Create.Options())
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Flags:        InfoDirectory,
		Information:  FILE_CREATED,
	})
	r := <-result
	require.NoError(t, r.err)
	assert.True(r.fo.FCB.IsDirectory())
	assert.Equal([]string{
		fmt.Sprintf("%d:%s", FILE_ACTION_ADDED, `\dir`),
	}, notifier.list())

	// A relative open shares the FCB of the same path.
	child := startCreate(dev, CreateRequest{
		FileName: `child`, Related: r.fo,
	})
	event = fetch(t, dev)
	assert.Equal(`\dir\child`, event.FileName)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Status:       uint32(ntstatus.STATUS_OBJECT_NAME_NOT_FOUND),
	})
	c := <-child
	assert.ErrorIs(c.err, ntstatus.STATUS_OBJECT_NAME_NOT_FOUND)
	assert.Zero(dev.VCB().OpenCount(`\dir\child`))
	assert.Equal(1, dev.VCB().OpenCount(`\dir`))
}

func TestSetNotifierWhileCompleting(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	first, second := &recordingNotifier{}, &recordingNotifier{}
	dev.SetNotifier(first)

	stop := make(chan struct{})
	swapped := make(chan struct{})
	go func() {
		defer close(swapped)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				dev.SetNotifier(second)
			} else {
				dev.SetNotifier(first)
			}
		}
	}()
	const files = 50
	for i := 0; i < files; i++ {
		result := startCreate(dev, CreateRequest{
			FileName:    fmt.Sprintf(`\f%d`, i),
			Disposition: FILE_CREATE,
		})
		event := fetch(t, dev)
		dev.Complete(&EventInformation{
			SerialNumber: event.SerialNumber,
			Information:  FILE_CREATED,
		})
		r := <-result
		require.NoError(t, r.err)
	}
	close(stop)
	<-swapped
	assert.Len(append(first.list(), second.list()...), files)
}

func TestCreateStreamName(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	_, _, err := dev.Volume().Create(context.Background(),
		CreateRequest{FileName: `\file:stream`})
	assert.ErrorIs(err, ntstatus.STATUS_OBJECT_NAME_INVALID)
	_, channel := dev.Pending()
	assert.Zero(channel)

	dev.EnableAltStream()
	fo := openFile(t, dev, `\file:stream`)
	assert.Equal(`\file:stream`, fo.FileName)
}

func TestCreateVolumeObject(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo, information, err := dev.Volume().Create(
		context.Background(), CreateRequest{})
	require.NoError(t, err)
	assert.Equal(FILE_OPENED, information)
	assert.Nil(fo.CCB)
	_, channel := dev.Pending()
	assert.Zero(channel)

	// The volume object has nothing to clean up or close.
	assert.NoError(dev.Volume().Cleanup(context.Background(), fo))
	assert.NoError(dev.Volume().Close(fo))

	_, _, err = dev.Volume().Create(context.Background(),
		CreateRequest{Options: FILE_DIRECTORY_FILE})
	assert.ErrorIs(err, ntstatus.STATUS_NOT_A_DIRECTORY)
}

func TestDeleteOnCleanup(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	notifier := &recordingNotifier{}
	dev.SetNotifier(notifier)

	result := startCreate(dev, CreateRequest{
		FileName: `\temp`, Options: FILE_DELETE_ON_CLOSE,
	})
	event := fetch(t, dev)
	assert.NotZero(event.FileFlags & FlagDeleteOnClose)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  FILE_OPENED,
	})
	r := <-result
	require.NoError(t, r.err)
	fo := r.fo
	assert.True(fo.FCB.DeletePending())

	done := make(chan error, 1)
	go func() {
		done <- dev.Volume().Cleanup(context.Background(), fo)
	}()
	event = fetch(t, dev)
	assert.Equal(CategoryCleanup, event.Kind())
	assert.NotZero(event.FileFlags & FlagDeleteOnClose)
	dev.Complete(&EventInformation{SerialNumber: event.SerialNumber})
	assert.NoError(<-done)
	assert.True(fo.CCB.CleanedUp())
	assert.Equal([]string{
		fmt.Sprintf("%d:%s", FILE_ACTION_REMOVED, `\temp`),
	}, notifier.list())
}

func TestSetDisposition(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	done := make(chan error, 1)
	go func() {
		done <- dev.Volume().SetInformation(context.Background(), fo,
			SetInformationRequest{
				Class:      FileDispositionInformation,
				DeleteFile: true,
			})
	}()
	event := fetch(t, dev)
	assert.Equal(FileDispositionInformation,
		event.SetInfo.FileInformationClass)
	assert.True(event.SetInfo.DeleteFile)
	dev.Complete(&EventInformation{
		SerialNumber:  event.SerialNumber,
		DeleteOnClose: true,
	})
	assert.NoError(<-done)
	assert.True(fo.FCB.DeletePending())
}

func TestRenamePropagates(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	notifier := &recordingNotifier{}
	dev.SetNotifier(notifier)
	fo := openFile(t, dev, `\a`)

	done := make(chan error, 1)
	go func() {
		done <- dev.Volume().SetInformation(context.Background(), fo,
			SetInformationRequest{
				Class:           FileRenameInformation,
				NewName:         `\b`,
				ReplaceIfExists: true,
			})
	}()
	event := fetch(t, dev)
	assert.Equal(`\a`, event.FileName)
	assert.Equal(`\b`, string(event.Extra))
	assert.True(event.SetInfo.ReplaceIfExists)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Buffer:       []byte(`\b`),
	})
	require.NoError(t, <-done)
	assert.Equal(`\b`, fo.FileName)
	assert.Equal(`\b`, fo.FCB.Name())
	assert.Zero(dev.VCB().OpenCount(`\a`))
	assert.Equal(1, dev.VCB().OpenCount(`\b`))
	assert.Equal([]string{
		fmt.Sprintf("%d:%s", FILE_ACTION_RENAMED_OLD_NAME, `\a`),
		fmt.Sprintf("%d:%s", FILE_ACTION_RENAMED_NEW_NAME, `\b`),
	}, notifier.list())

	// Later requests carry the new name.
	result, _ := startRead(context.Background(), dev, fo, 4, 0)
	event = fetch(t, dev)
	assert.Equal(`\b`, event.FileName)
	dev.Complete(&EventInformation{SerialNumber: event.SerialNumber})
	<-result
}

func TestCloseIsFireAndForget(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)
	assert.Equal(1, dev.VCB().Len())

	require.NoError(t, dev.Volume().Close(fo))
	assert.Zero(dev.VCB().Len())
	registry, channel := dev.Pending()
	assert.Zero(registry)
	assert.Equal(1, channel)

	event := fetch(t, dev)
	assert.Equal(CategoryClose, event.Kind())
	assert.Equal(uint64(42), event.Context)
	assert.Equal(`\file`, event.FileName)

	// Closing twice queues nothing more.
	require.NoError(t, dev.Volume().Close(fo))
	_, channel = dev.Pending()
	assert.Zero(channel)
}

func TestQueryDirectory(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\`)

	type queryResult struct {
		n     int
		index uint32
		err   error
	}
	buf := make([]byte, 512)
	result := make(chan queryResult, 1)
	go func() {
		n, index, err := dev.Volume().QueryDirectory(
			context.Background(), fo, DirectoryQuery{
				FileInformationClass: FileDirectoryInformation,
				Pattern:              "*.txt",
				RestartScan:          true,
			}, buf)
		result <- queryResult{n, index, err}
	}()
	event := fetch(t, dev)
	assert.Equal(CategoryDirectoryQuery, event.Kind())
	assert.Equal("*.txt", string(event.Extra))
	assert.True(event.Directory.RestartScan)
	assert.Equal(uint32(512), event.Directory.BufferLength)

	entries, _, err := AppendDirectoryEntry(nil, -1, FileDirectoryEntry{
		FileName: []byte("a.txt"),
	})
	require.NoError(t, err)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Information:  uint64(len(entries)),
		Index:        1,
		Buffer:       entries,
	})
	r := <-result
	require.NoError(t, r.err)
	assert.Equal(uint32(1), r.index)
	decoded, err := UnpackDirectoryEntries(buf[:r.n])
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal("a.txt", string(decoded[0].FileName))
}

func TestLockAndSecurity(t *testing.T) {
	assert := assert.New(t)
	dev := newTestDevice(t, testConfig())
	fo := openFile(t, dev, `\file`)

	done := make(chan error, 1)
	go func() {
		done <- dev.Volume().Lock(context.Background(), fo, LockRequest{
			ByteOffset: 10, Length: 20, Exclusive: true,
		})
	}()
	event := fetch(t, dev)
	assert.Equal(CategoryLock, event.Kind())
	assert.Equal(LockParams{ByteOffset: 10, Length: 20, Exclusive: true},
		event.Lock)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Status:       uint32(ntstatus.STATUS_LOCK_NOT_GRANTED),
	})
	assert.ErrorIs(<-done, ntstatus.STATUS_LOCK_NOT_GRANTED)

	go func() {
		done <- dev.Volume().SetSecurity(
			context.Background(), fo, 4, []byte{1, 2, 3})
	}()
	event = fetch(t, dev)
	assert.Equal(CategorySetSecurity, event.Kind())
	assert.Equal([]byte{1, 2, 3}, event.Extra)
	dev.Complete(&EventInformation{
		SerialNumber: event.SerialNumber,
		Status:       uint32(ntstatus.STATUS_NOT_IMPLEMENTED),
	})
	assert.ErrorIs(<-done, ntstatus.STATUS_NOT_IMPLEMENTED)
}

func TestFileSystemControl(t *testing.T) {
	dev := newTestDevice(t, testConfig())
	volume := dev.Volume()
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		code uint32
		err  error
	}{
		{"lock", FSCTL_LOCK_VOLUME, nil},
		{"unlock", FSCTL_UNLOCK_VOLUME, nil},
		{"dirty", FSCTL_MARK_VOLUME_DIRTY, nil},
		{"mounted", FSCTL_IS_VOLUME_MOUNTED, nil},
		{"pathname", FSCTL_IS_PATHNAME_VALID, nil},
		{"retrieval", FSCTL_GET_RETRIEVAL_POINTERS,
			ntstatus.STATUS_INVALID_PARAMETER},
		{"unknown", 0x00090020, ntstatus.STATUS_INVALID_DEVICE_REQUEST},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := volume.FileSystemControl(ctx, tc.code)
			if tc.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}

	// None of them reached user mode.
	registry, channel := dev.Pending()
	assert.Zero(t, registry)
	assert.Zero(t, channel)

	dev.Release()
	assert.ErrorIs(t, volume.FileSystemControl(ctx, FSCTL_IS_VOLUME_MOUNTED),
		ntstatus.STATUS_NO_SUCH_DEVICE)
}
