package mountctl

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrRefused is returned when the service fails a request.
var ErrRefused = errors.New("refused by mount service")

// Client talks to the mount service over one connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the mount service at the address, in the
// form accepted by ParseAddress.
func Dial(ctx context.Context, address string) (*Client, error) {
	network, addr := ParseAddress(address)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial mount service %s", address)
	}
	return NewClient(conn), nil
}

// NewClient creates the client over an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, control *Control) error {
	data, err := control.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return errors.Wrap(err, "set deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()
	if _, err := c.conn.Write(data); err != nil {
		return errors.Wrap(err, "send control")
	}
	buf := make([]byte, controlSize)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "receive control")
	}
	answer, err := DecodeControl(buf)
	if err != nil {
		return err
	}
	*control = *answer
	return nil
}

// Mount assigns the drive letter to the device.
func (c *Client) Mount(ctx context.Context, device uint32, drive uint16) error {
	control := &Control{Type: ControlMount, Device: device}
	control.SetMountPoint(MountPointOf(drive))
	if err := c.roundTrip(ctx, control); err != nil {
		return err
	}
	if control.Status != StatusSuccess {
		return errors.Wrapf(ErrRefused, "mount %s", MountPointOf(drive))
	}
	return nil
}

// Unmount removes the drive letter, which unmounts the
// device holding it.
func (c *Client) Unmount(ctx context.Context, drive uint16) error {
	control := &Control{Type: ControlUnmount}
	control.SetMountPoint(MountPointOf(drive))
	if err := c.roundTrip(ctx, control); err != nil {
		return err
	}
	if control.Status != StatusSuccess {
		return errors.Wrapf(ErrRefused, "unmount %s", MountPointOf(drive))
	}
	return nil
}

// MountPoint is an entry of the mount table.
type MountPoint struct {
	Index      uint32
	Device     uint32
	MountPoint string
	DeviceName string
}

// Entry fetches the index-th entry of the mount table, or
// reports there is none.
func (c *Client) Entry(ctx context.Context, index uint32) (MountPoint, bool, error) {
	control := &Control{Type: ControlList, Index: index}
	if err := c.roundTrip(ctx, control); err != nil {
		return MountPoint{}, false, err
	}
	if control.Status != StatusSuccess {
		return MountPoint{}, false, nil
	}
	return MountPoint{
		Index:      control.Index,
		Device:     control.Device,
		MountPoint: control.MountPointString(),
		DeviceName: control.DeviceNameString(),
	}, true, nil
}

// List fetches the whole mount table one entry at a time.
func (c *Client) List(ctx context.Context) ([]MountPoint, error) {
	var result []MountPoint
	for index := uint32(0); ; index++ {
		entry, ok, err := c.Entry(ctx, index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return result, nil
		}
		result = append(result, entry)
	}
}

// SetDebugMode sets the debug level of the driver.
func (c *Client) SetDebugMode(ctx context.Context, mode uint32) error {
	control := &Control{Type: ControlDebug, Option: mode}
	if err := c.roundTrip(ctx, control); err != nil {
		return err
	}
	if control.Status != StatusSuccess {
		return errors.Wrapf(ErrRefused, "debug mode %d", mode)
	}
	return nil
}
