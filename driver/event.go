package driver

import (
	"fmt"

	"github.com/NVIDIA/cstruct"
	"github.com/pkg/errors"
)

// Category is the kind of operation an event describes.
type Category uint32

const (
	CategoryCreate Category = iota + 1
	CategoryClose
	CategoryCleanup
	CategoryRead
	CategoryWrite
	CategoryDirectoryQuery
	CategoryQueryInformation
	CategorySetInformation
	CategoryQueryVolumeInformation
	CategoryFlush
	CategoryLock
	CategoryUnlock
	CategoryQuerySecurity
	CategorySetSecurity

	// CategoryUnmount is originated by the driver itself to
	// inform the mount service of a device going away.
	CategoryUnmount
)

var categoryNames = map[Category]string{
	CategoryCreate:                 "create",
	CategoryClose:                  "close",
	CategoryCleanup:                "cleanup",
	CategoryRead:                   "read",
	CategoryWrite:                  "write",
	CategoryDirectoryQuery:         "directory-query",
	CategoryQueryInformation:       "query-information",
	CategorySetInformation:         "set-information",
	CategoryQueryVolumeInformation: "query-volume-information",
	CategoryFlush:                  "flush",
	CategoryLock:                   "lock",
	CategoryUnlock:                 "unlock",
	CategoryQuerySecurity:          "query-security",
	CategorySetSecurity:            "set-security",
	CategoryUnmount:                "unmount",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint32(c))
}

// Flags carried by EventHeader.FileFlags.
const (
	FlagDeleteOnClose uint32 = 1 << iota
	FlagPagingIO
	FlagSynchronousIO
	FlagNoCache
	FlagWriteToEndOfFile
)

// EventHeader is the fixed part of every envelope.
//
// Length is the total encoded length including parameters
// and trailing data, FileNameLength is the leading part of
// the trailing data occupied by the file name.
type EventHeader struct {
	Length         uint32
	SerialNumber   uint64
	MountID        uint32
	ProcessID      uint32
	Category       uint32
	FileFlags      uint32
	Context        uint64
	FileNameLength uint32
}

// CreateParams follows the header of a create event. The
// create disposition lives in the high byte of CreateOptions.
type CreateParams struct {
	FileAttributes uint32
	CreateOptions  uint32
	DesiredAccess  uint32
	ShareAccess    uint32
}

// Disposition extracts the create disposition.
func (p CreateParams) Disposition() uint32 {
	return (p.CreateOptions >> 24) & 0xff
}

// Options extracts the create options without disposition.
func (p CreateParams) Options() uint32 {
	return p.CreateOptions & 0x00ffffff
}

type ReadParams struct {
	ByteOffset   int64
	BufferLength uint32
}

type WriteParams struct {
	ByteOffset   int64
	BufferLength uint32
}

// DirectoryParams carries the search pattern as trailing data.
type DirectoryParams struct {
	FileInformationClass uint32
	FileIndex            uint32
	BufferLength         uint32
	RestartScan          bool
	ReturnSingleEntry    bool
}

type QueryInformationParams struct {
	FileInformationClass uint32
	BufferLength         uint32
}

// SetInformationParams is the union of all settable classes,
// the rename target travels as trailing data.
type SetInformationParams struct {
	FileInformationClass uint32
	ReplaceIfExists      bool
	DeleteFile           bool
	FileAttributes       uint32
	CreationTime         uint64
	LastAccessTime       uint64
	LastWriteTime        uint64
	Size                 int64
}

type VolumeParams struct {
	FsInformationClass uint32
	BufferLength       uint32
}

type LockParams struct {
	ByteOffset      int64
	Length          int64
	Key             uint32
	Exclusive       bool
	FailImmediately bool
}

// SecurityParams carries the descriptor of a set-security
// event as trailing data.
type SecurityParams struct {
	SecurityInformation uint32
	BufferLength        uint32
}

type UnmountParams struct {
	DeviceNumber uint32
	Drive        uint16
}

// Event is the envelope describing one operation.
//
// Only the parameter block of the event's category travels
// on the wire. Extra is the trailing data following the file
// name: rename target, search pattern or security descriptor.
type Event struct {
	EventHeader

	Create    CreateParams
	Read      ReadParams
	Write     WriteParams
	Directory DirectoryParams
	Query     QueryInformationParams
	SetInfo   SetInformationParams
	Volume    VolumeParams
	Lock      LockParams
	Security  SecurityParams
	Unmount   UnmountParams
	FileName  string
	Extra     []byte
}

// Kind returns the category of the event.
func (e *Event) Kind() Category {
	return Category(e.Category)
}

func (e *Event) params() interface{} {
	switch e.Kind() {
	case CategoryCreate:
		return &e.Create
	case CategoryRead:
		return &e.Read
	case CategoryWrite:
		return &e.Write
	case CategoryDirectoryQuery:
		return &e.Directory
	case CategoryQueryInformation:
		return &e.Query
	case CategorySetInformation:
		return &e.SetInfo
	case CategoryQueryVolumeInformation:
		return &e.Volume
	case CategoryLock, CategoryUnlock:
		return &e.Lock
	case CategoryQuerySecurity, CategorySetSecurity:
		return &e.Security
	case CategoryUnmount:
		return &e.Unmount
	}
	return nil
}

func mustExamine(obj interface{}) int {
	n, _, err := cstruct.Examine(obj)
	if err != nil {
		panic(err)
	}
	return int(n)
}

var eventHeaderSize = mustExamine(EventHeader{})

// Size is the number of bytes Encode will produce.
func (e *Event) Size() int {
	size := eventHeaderSize + len(e.FileName) + len(e.Extra)
	if params := e.params(); params != nil {
		size += mustExamine(params)
	}
	return size
}

// Encode serializes the event, filling in the self declared
// lengths of the header.
func (e *Event) Encode() ([]byte, error) {
	e.Length = uint32(e.Size())
	e.FileNameLength = uint32(len(e.FileName))
	header, err := cstruct.Pack(&e.EventHeader, cstruct.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "pack event header")
	}
	result := make([]byte, 0, e.Length)
	result = append(result, header...)
	if params := e.params(); params != nil {
		data, err := cstruct.Pack(params, cstruct.LittleEndian)
		if err != nil {
			return nil, errors.Wrapf(err, "pack %s params", e.Kind())
		}
		result = append(result, data...)
	}
	result = append(result, e.FileName...)
	result = append(result, e.Extra...)
	return result, nil
}

// DecodeEvent parses an envelope, the buffer may be longer
// than the declared length of the event.
func DecodeEvent(buf []byte) (*Event, error) {
	if len(buf) < eventHeaderSize {
		return nil, errors.Errorf(
			"event of %d bytes shorter than header", len(buf))
	}
	e := &Event{}
	if _, err := cstruct.Unpack(
		buf[:eventHeaderSize], &e.EventHeader,
		cstruct.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpack event header")
	}
	if int(e.Length) < eventHeaderSize || int(e.Length) > len(buf) {
		return nil, errors.Errorf(
			"event declares %d bytes within %d", e.Length, len(buf))
	}
	rest := buf[eventHeaderSize:e.Length]
	if params := e.params(); params != nil {
		n, err := cstruct.Unpack(rest, params, cstruct.LittleEndian)
		if err != nil {
			return nil, errors.Wrapf(err, "unpack %s params", e.Kind())
		}
		rest = rest[n:]
	}
	if int(e.FileNameLength) > len(rest) {
		return nil, errors.Errorf(
			"file name of %d bytes overflows event", e.FileNameLength)
	}
	e.FileName = string(rest[:e.FileNameLength])
	if extra := rest[e.FileNameLength:]; len(extra) > 0 {
		e.Extra = append([]byte(nil), extra...)
	}
	return e, nil
}

// Flags carried by EventInformation.Flags.
const (
	// InfoDirectory reports the opened file is a directory.
	InfoDirectory uint32 = 1 << iota
)

// EventInformation is the answer of user mode to an event.
type EventInformation struct {
	SerialNumber  uint64
	Status        uint32
	Context       uint64
	Information   uint64
	Flags         uint32
	Index         uint32
	ByteOffset    int64
	DeleteOnClose bool
	Buffer        []byte
}

// Encode serializes the answer.
func (info *EventInformation) Encode() ([]byte, error) {
	data, err := cstruct.Pack(info, cstruct.LittleEndian)
	return data, errors.Wrap(err, "pack event information")
}

// DecodeEventInformation parses the answer of user mode.
func DecodeEventInformation(buf []byte) (*EventInformation, error) {
	info := &EventInformation{}
	if _, err := cstruct.Unpack(
		buf, info, cstruct.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "unpack event information")
	}
	if len(info.Buffer) > 0 {
		info.Buffer = append([]byte(nil), info.Buffer...)
	} else {
		info.Buffer = nil
	}
	return info, nil
}
