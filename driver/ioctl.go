package driver

import (
	"context"
	"encoding/binary"

	"github.com/NVIDIA/cstruct"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// DriverVersion is reported by IOCTL_TEST and event start.
const DriverVersion uint32 = 0x0000190

const fileDeviceUnknown = 0x00000022

func ctlCode(deviceType, function uint32) uint32 {
	return deviceType<<16 | function<<2
}

// Device control codes.
var (
	IOCTL_TEST           = ctlCode(fileDeviceUnknown, 0x800)
	IOCTL_SET_DEBUG_MODE = ctlCode(fileDeviceUnknown, 0x801)
	IOCTL_EVENT_WAIT     = ctlCode(fileDeviceUnknown, 0x802)
	IOCTL_EVENT_INFO     = ctlCode(fileDeviceUnknown, 0x803)
	IOCTL_EVENT_RELEASE  = ctlCode(fileDeviceUnknown, 0x804)
	IOCTL_EVENT_START    = ctlCode(fileDeviceUnknown, 0x805)
	IOCTL_EVENT_WRITE    = ctlCode(fileDeviceUnknown, 0x806)
	IOCTL_ALTSTREAM_ON   = ctlCode(fileDeviceUnknown, 0x807)
	IOCTL_KEEPALIVE_ON   = ctlCode(fileDeviceUnknown, 0x808)
	IOCTL_KEEPALIVE      = ctlCode(fileDeviceUnknown, 0x809)
	IOCTL_SERVICE_WAIT   = ctlCode(fileDeviceUnknown, 0x80A)

	IOCTL_DISK_GET_DRIVE_GEOMETRY uint32 = 0x00070000
	IOCTL_DISK_GET_LENGTH_INFO    uint32 = 0x0007405C
)

// Status of EventDriverInfo.
const (
	DriverInfoMounted uint32 = 1
	DriverInfoUsed    uint32 = 2
)

// Flags of EventStart.
const (
	StartKeepAlive uint32 = 1 << iota
	StartAltStream
)

// EventStart is the input of IOCTL_EVENT_START.
type EventStart struct {
	UserVersion uint32
	Flags       uint32
	DriveLetter uint16
}

// EventDriverInfo is the output of IOCTL_EVENT_START.
type EventDriverInfo struct {
	DriverVersion uint32
	Status        uint32
	DeviceNumber  uint32
	MountID       uint32
}

// DiskGeometry is the output of IOCTL_DISK_GET_DRIVE_GEOMETRY.
type DiskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

const (
	sectorSize     = 512
	fixedMedia     = 12
	diskLength     = 1024 * 1024 * 500
	geometryLength = 1024 * 1024 * 1024
)

// DeviceIoControl is the control surface through which user
// mode drives the device. It returns the number of bytes
// written into out.
func (d *Device) DeviceIoControl(
	ctx context.Context, code uint32, in, out []byte,
) (int, error) {
	switch code {
	case IOCTL_TEST, IOCTL_SET_DEBUG_MODE, IOCTL_SERVICE_WAIT:
		return d.global.DeviceIoControl(ctx, code, in, out)

	case IOCTL_EVENT_WAIT:
		return d.WaitEvent(ctx, out)

	case IOCTL_EVENT_INFO:
		return 0, d.CompleteEvent(in)

	case IOCTL_EVENT_RELEASE:
		d.Release()
		return 0, nil

	case IOCTL_EVENT_START:
		var req EventStart
		if _, err := cstruct.Unpack(
			in, &req, cstruct.LittleEndian); err != nil {
			return 0, ntstatus.STATUS_INVALID_PARAMETER
		}
		return packOut(out, d.Start(req))

	case IOCTL_EVENT_WRITE:
		if len(in) < 8 {
			return 0, ntstatus.STATUS_INVALID_PARAMETER
		}
		return d.WritePayload(binary.LittleEndian.Uint64(in), out)

	case IOCTL_ALTSTREAM_ON:
		d.EnableAltStream()
		return 0, nil

	case IOCTL_KEEPALIVE_ON:
		d.EnableKeepAlive()
		return 0, nil

	case IOCTL_KEEPALIVE:
		d.KeepAlive()
		return 0, nil

	case IOCTL_DISK_GET_DRIVE_GEOMETRY:
		return packOut(out, DiskGeometry{
			Cylinders:         geometryLength / sectorSize / 32 / 2,
			MediaType:         fixedMedia,
			TracksPerCylinder: 2,
			SectorsPerTrack:   32,
			BytesPerSector:    sectorSize,
		})

	case IOCTL_DISK_GET_LENGTH_INFO:
		if len(out) < 8 {
			return 0, ntstatus.STATUS_BUFFER_TOO_SMALL
		}
		binary.LittleEndian.PutUint64(out, diskLength)
		return 8, nil
	}
	d.logger.WithField("code", code).Debug("unknown device control")
	return 0, ntstatus.STATUS_INVALID_DEVICE_REQUEST
}

func packOut(out []byte, obj interface{}) (int, error) {
	data, err := cstruct.Pack(obj, cstruct.LittleEndian)
	if err != nil {
		return 0, errors.Wrap(err, "pack device control output")
	}
	if len(out) < len(data) {
		return 0, ntstatus.STATUS_BUFFER_TOO_SMALL
	}
	return copy(out, data), nil
}

// debugLevel maps the 0-9 debug mode onto log levels.
func debugLevel(mode uint32) logrus.Level {
	switch {
	case mode == 0:
		return logrus.InfoLevel
	case mode < 5:
		return logrus.DebugLevel
	}
	return logrus.TraceLevel
}
