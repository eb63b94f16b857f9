package driver

import (
	"github.com/NVIDIA/cstruct"
	"github.com/pkg/errors"
)

// File system control codes answered by the volume itself.
const (
	FSCTL_LOCK_VOLUME            uint32 = 0x00090018
	FSCTL_UNLOCK_VOLUME          uint32 = 0x0009001C
	FSCTL_IS_VOLUME_MOUNTED      uint32 = 0x00090028
	FSCTL_IS_PATHNAME_VALID      uint32 = 0x0009002C
	FSCTL_MARK_VOLUME_DIRTY      uint32 = 0x00090030
	FSCTL_GET_RETRIEVAL_POINTERS uint32 = 0x00090073
)

// File information classes.
const (
	FileDirectoryInformation       uint32 = 1
	FileFullDirectoryInformation   uint32 = 2
	FileBothDirectoryInformation   uint32 = 3
	FileBasicInformation           uint32 = 4
	FileStandardInformation        uint32 = 5
	FileInternalInformation        uint32 = 6
	FileNameInformation            uint32 = 9
	FileRenameInformation          uint32 = 10
	FileNamesInformation           uint32 = 12
	FileDispositionInformation     uint32 = 13
	FilePositionInformation        uint32 = 14
	FileAllocationInformation      uint32 = 19
	FileEndOfFileInformation       uint32 = 20
	FileNetworkOpenInformation     uint32 = 34
	FileValidDataLengthInformation uint32 = 39
)

// Volume information classes.
const (
	FileFsVolumeInformation    uint32 = 1
	FileFsSizeInformation      uint32 = 3
	FileFsAttributeInformation uint32 = 5
	FileFsFullSizeInformation  uint32 = 7
)

// Create dispositions.
const (
	FILE_SUPERSEDE    uint32 = 0
	FILE_OPEN         uint32 = 1
	FILE_CREATE       uint32 = 2
	FILE_OPEN_IF      uint32 = 3
	FILE_OVERWRITE    uint32 = 4
	FILE_OVERWRITE_IF uint32 = 5
)

// Create options.
const (
	FILE_DIRECTORY_FILE     uint32 = 0x00000001
	FILE_WRITE_THROUGH      uint32 = 0x00000002
	FILE_SEQUENTIAL_ONLY    uint32 = 0x00000004
	FILE_NO_INTERMEDIATE    uint32 = 0x00000008
	FILE_SYNCHRONOUS_IO     uint32 = 0x00000020
	FILE_NON_DIRECTORY_FILE uint32 = 0x00000040
	FILE_DELETE_ON_CLOSE    uint32 = 0x00001000
)

// Access rights of a create.
const (
	FILE_READ_DATA   uint32 = 0x00000001
	FILE_WRITE_DATA  uint32 = 0x00000002
	FILE_APPEND_DATA uint32 = 0x00000004
	DELETE           uint32 = 0x00010000
	GENERIC_ALL      uint32 = 0x10000000
	GENERIC_WRITE    uint32 = 0x40000000
	GENERIC_READ     uint32 = 0x80000000
)

// Create results, reported as the information of a create.
const (
	FILE_SUPERSEDED  uint64 = 0
	FILE_OPENED      uint64 = 1
	FILE_CREATED     uint64 = 2
	FILE_OVERWRITTEN uint64 = 3
	FILE_EXISTS      uint64 = 4
)

// File attributes.
const (
	FILE_ATTRIBUTE_READONLY  uint32 = 0x00000001
	FILE_ATTRIBUTE_HIDDEN    uint32 = 0x00000002
	FILE_ATTRIBUTE_SYSTEM    uint32 = 0x00000004
	FILE_ATTRIBUTE_DIRECTORY uint32 = 0x00000010
	FILE_ATTRIBUTE_ARCHIVE   uint32 = 0x00000020
	FILE_ATTRIBUTE_NORMAL    uint32 = 0x00000080
)

// Change notification actions.
const (
	FILE_ACTION_ADDED            uint32 = 1
	FILE_ACTION_REMOVED          uint32 = 2
	FILE_ACTION_MODIFIED         uint32 = 3
	FILE_ACTION_RENAMED_OLD_NAME uint32 = 4
	FILE_ACTION_RENAMED_NEW_NAME uint32 = 5
)

type FileBasicInfo struct {
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	FileAttributes uint32
}

type FileStandardInfo struct {
	AllocationSize int64
	EndOfFile      int64
	NumberOfLinks  uint32
	DeletePending  bool
	Directory      bool
}

type FileInternalInfo struct {
	IndexNumber uint64
}

type FilePositionInfo struct {
	CurrentByteOffset int64
}

type FileNetworkOpenInfo struct {
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize int64
	EndOfFile      int64
	FileAttributes uint32
}

type FileNameInfo struct {
	FileNameLength uint32
	FileName       []byte
}

// FileDirectoryEntry is one record of a directory query
// answer, records are chained by NextEntryOffset and the
// last one has zero offset.
type FileDirectoryEntry struct {
	NextEntryOffset uint32
	FileIndex       uint32
	CreationTime    uint64
	LastAccessTime  uint64
	LastWriteTime   uint64
	ChangeTime      uint64
	EndOfFile       int64
	AllocationSize  int64
	FileAttributes  uint32
	FileNameLength  uint32
	FileName        []byte
}

type FileFsVolumeInfo struct {
	VolumeCreationTime uint64
	VolumeSerialNumber uint32
	SupportsObjects    bool
	VolumeLabelLength  uint32
	VolumeLabel        []byte
}

type FileFsSizeInfo struct {
	TotalAllocationUnits     int64
	AvailableAllocationUnits int64
	SectorsPerAllocationUnit uint32
	BytesPerSector           uint32
}

type FileFsFullSizeInfo struct {
	TotalAllocationUnits           int64
	CallerAvailableAllocationUnits int64
	ActualAvailableAllocationUnits int64
	SectorsPerAllocationUnit       uint32
	BytesPerSector                 uint32
}

type FileFsAttributeInfo struct {
	FileSystemAttributes       uint32
	MaximumComponentNameLength uint32
	FileSystemNameLength       uint32
	FileSystemName             []byte
}

// PackInfo serializes one of the information records above.
func PackInfo(info interface{}) ([]byte, error) {
	data, err := cstruct.Pack(info, cstruct.LittleEndian)
	return data, errors.Wrap(err, "pack information")
}

// UnpackInfo deserializes one of the information records,
// info must be a pointer.
func UnpackInfo(buf []byte, info interface{}) error {
	_, err := cstruct.Unpack(buf, info, cstruct.LittleEndian)
	return errors.Wrap(err, "unpack information")
}

var directoryEntrySize = mustExamine(FileDirectoryEntry{})

// DirectoryEntrySize is the encoded size of an entry.
func DirectoryEntrySize(name string) int {
	return directoryEntrySize + len(name)
}

// AppendDirectoryEntry appends the entry to a buffer holding
// previously packed entries, linking the last one to it.
func AppendDirectoryEntry(
	buf []byte, last int, entry FileDirectoryEntry,
) ([]byte, int, error) {
	entry.NextEntryOffset = 0
	entry.FileNameLength = uint32(len(entry.FileName))
	data, err := cstruct.Pack(&entry, cstruct.LittleEndian)
	if err != nil {
		return buf, last, errors.Wrap(err, "pack directory entry")
	}
	offset := len(buf)
	if last >= 0 {
		cstruct.LittleEndian.PutUint32(
			buf[last:], uint32(offset-last))
	}
	return append(buf, data...), offset, nil
}

// UnpackDirectoryEntries splits a directory query answer.
func UnpackDirectoryEntries(buf []byte) ([]FileDirectoryEntry, error) {
	var result []FileDirectoryEntry
	for len(buf) > 0 {
		if len(buf) < directoryEntrySize {
			return nil, errors.Errorf(
				"truncated directory entry of %d bytes", len(buf))
		}
		var entry FileDirectoryEntry
		if _, err := cstruct.Unpack(
			buf[:directoryEntrySize], &entry,
			cstruct.LittleEndian); err != nil {
			return nil, errors.Wrap(err, "unpack directory entry")
		}
		end := directoryEntrySize + int(entry.FileNameLength)
		if end > len(buf) {
			return nil, errors.Errorf(
				"directory entry name overflows by %d", end-len(buf))
		}
		entry.FileName = append([]byte(nil),
			buf[directoryEntrySize:end]...)
		result = append(result, entry)
		if entry.NextEntryOffset == 0 {
			break
		}
		if int(entry.NextEntryOffset) > len(buf) {
			return nil, errors.Errorf(
				"directory entry offset %d overflows",
				entry.NextEntryOffset)
		}
		buf = buf[entry.NextEntryOffset:]
	}
	return result, nil
}
