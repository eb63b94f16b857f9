package mountctl

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/NVIDIA/cstruct"
	"github.com/pkg/errors"
)

// Types of control record.
const (
	ControlMount   uint32 = 1
	ControlUnmount uint32 = 2
	ControlList    uint32 = 3
	ControlDebug   uint32 = 4
)

// Status of an answered control record.
const (
	StatusFail    uint32 = 0
	StatusSuccess uint32 = 1
)

// Control is the record exchanged over the channel, the
// answer is the request record with its status filled.
type Control struct {
	Type   uint32
	Option uint32
	Status uint32
	Index  uint32
	Device uint32

	MountPoint [260]uint16
	DeviceName [64]uint16
}

var controlSize = func() int {
	n, _, err := cstruct.Examine(Control{})
	if err != nil {
		panic(err)
	}
	return int(n)
}()

func putString(dst []uint16, s string) {
	for i := range dst {
		dst[i] = 0
	}
	encoded := utf16.Encode([]rune(s))
	if len(encoded) >= len(dst) {
		encoded = encoded[:len(dst)-1]
	}
	copy(dst, encoded)
}

func getString(src []uint16) string {
	for i, c := range src {
		if c == 0 {
			src = src[:i]
			break
		}
	}
	return string(utf16.Decode(src))
}

// SetMountPoint stores the mount point of the record.
func (c *Control) SetMountPoint(s string) {
	putString(c.MountPoint[:], s)
}

// MountPointString is the mount point of the record.
func (c *Control) MountPointString() string {
	return getString(c.MountPoint[:])
}

// SetDeviceName stores the device name of the record.
func (c *Control) SetDeviceName(s string) {
	putString(c.DeviceName[:], s)
}

// DeviceNameString is the device name of the record.
func (c *Control) DeviceNameString() string {
	return getString(c.DeviceName[:])
}

// Encode packs the record.
func (c *Control) Encode() ([]byte, error) {
	data, err := cstruct.Pack(c, cstruct.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "pack control")
	}
	return data, nil
}

// DecodeControl unpacks a record.
func DecodeControl(buf []byte) (*Control, error) {
	if len(buf) < controlSize {
		return nil, errors.Errorf(
			"control record of %d bytes, want %d", len(buf), controlSize)
	}
	c := &Control{}
	if _, err := cstruct.Unpack(
		buf[:controlSize], c, cstruct.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpack control")
	}
	return c, nil
}

// MountPointOf is the mount point of a drive letter.
func MountPointOf(drive uint16) string {
	return string(rune(drive)) + ":"
}

// DeviceNameOf is the name of the numbered device.
func DeviceNameOf(device uint32) string {
	return fmt.Sprintf(`\Device\Volume{dca0e0a5-d2ca-4f0f-8416-a6414657a77a}%d`, device)
}

// ParseDrive takes the drive letter out of a mount point
// such as `M`, `m:` or `M:\`.
func ParseDrive(mountPoint string) (uint16, error) {
	s := strings.TrimSuffix(strings.TrimSuffix(mountPoint, `\`), ":")
	if len(s) != 1 {
		return 0, errors.Errorf("invalid mount point %q", mountPoint)
	}
	letter := strings.ToUpper(s)[0]
	if letter < 'A' || letter > 'Z' {
		return 0, errors.Errorf("invalid mount point %q", mountPoint)
	}
	return uint16(letter), nil
}

// ParseAddress splits an address such as `unix:/run/dokan.sock`
// or `tcp:127.0.0.1:5010` into its network and address, a
// bare address is taken for tcp.
func ParseAddress(s string) (network, address string) {
	for _, network := range []string{"unix", "tcp", "tcp4", "tcp6"} {
		if rest, ok := strings.CutPrefix(s, network+":"); ok {
			return network, rest
		}
	}
	return "tcp", s
}

// DefaultAddress is where the mount service listens unless
// told otherwise.
const DefaultAddress = "tcp:127.0.0.1:5010"
