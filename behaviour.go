package dokan

import (
	"time"
)

// FileInfo is the per open state handed to every operation.
//
// Context is owned by the file system: whatever it stores
// at create is presented again with every later operation
// on the same open, including the one closing it.
type FileInfo struct {
	Context          uint64
	ProcessID        uint32
	IsDirectory      bool
	DeleteOnClose    bool
	PagingIO         bool
	SynchronousIO    bool
	NoCache          bool
	WriteToEndOfFile bool
}

// CreateData carries the parameters of a create or open.
type CreateData struct {
	DesiredAccess  uint32
	ShareAccess    uint32
	FileAttributes uint32
	Disposition    uint32
	Options        uint32
}

// FileInformation is the stat of an open file.
type FileInformation struct {
	Attributes         uint32
	CreationTime       time.Time
	LastAccessTime     time.Time
	LastWriteTime      time.Time
	Size               int64
	Index              uint64
	NumberOfLinks      uint32
	VolumeSerialNumber uint32
}

// FindData is one entry of a directory listing.
type FindData struct {
	Name           string
	Attributes     uint32
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	Size           int64
}

// VolumeInformation describes the mounted volume.
type VolumeInformation struct {
	Label              string
	SerialNumber       uint32
	MaxComponentLength uint32
	FileSystemFlags    uint32
	FileSystemName     string
}

// DiskFreeSpace reports the capacity of the volume in bytes.
type DiskFreeSpace struct {
	FreeBytesAvailable uint64
	TotalBytes         uint64
	TotalFreeBytes     uint64
}

// BehaviourBase defines the mandatory methods.
//
// Other methods might be implemented and will be checked
// upon mounting the file system.
type BehaviourBase interface {
	// CreateFile creates or opens the file, reporting
	// whether a file that did not exist has been created.
	// A file system finding a directory at the name sets
	// info.IsDirectory. Directory creates and opens come here
	// too, unless the file system implements the directory
	// behaviours.
	CreateFile(
		fs *FileSystem, name string,
		data CreateData, info *FileInfo,
	) (bool, error)

	// Cleanup is called when the last handle of the caller
	// is closed. A file marked with DeleteOnClose should be
	// removed here.
	Cleanup(fs *FileSystem, name string, info *FileInfo) error

	// CloseFile releases the open.
	CloseFile(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourOpenDirectory opens an existing directory.
type BehaviourOpenDirectory interface {
	OpenDirectory(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourCreateDirectory creates a new directory.
type BehaviourCreateDirectory interface {
	CreateDirectory(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourRead reads an open file.
type BehaviourRead interface {
	ReadFile(
		fs *FileSystem, name string,
		buf []byte, offset int64, info *FileInfo,
	) (int, error)
}

// BehaviourWrite writes an open file. The offset is to be
// ignored when info.WriteToEndOfFile is set.
type BehaviourWrite interface {
	WriteFile(
		fs *FileSystem, name string,
		data []byte, offset int64, info *FileInfo,
	) (int, error)
}

// BehaviourFlush flushes a file.
type BehaviourFlush interface {
	FlushFileBuffers(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourGetFileInfo retrieves stat of file or directory.
type BehaviourGetFileInfo interface {
	GetFileInformation(
		fs *FileSystem, name string, info *FileInfo,
	) (FileInformation, error)
}

// BehaviourFindFiles lists a directory, the library takes
// care of the search pattern.
type BehaviourFindFiles interface {
	FindFiles(
		fs *FileSystem, name string,
		fill func(FindData) error, info *FileInfo,
	) error
}

// BehaviourFindFilesWithPattern lists the entries of the
// directory matching the pattern.
type BehaviourFindFilesWithPattern interface {
	FindFilesWithPattern(
		fs *FileSystem, name, pattern string,
		fill func(FindData) error, info *FileInfo,
	) error
}

// BehaviourSetAttributes sets the attributes of a file.
type BehaviourSetAttributes interface {
	SetFileAttributes(
		fs *FileSystem, name string,
		attributes uint32, info *FileInfo,
	) error
}

// BehaviourSetTimes sets the timestamps of a file, a zero
// time leaves the timestamp unchanged.
type BehaviourSetTimes interface {
	SetFileTime(
		fs *FileSystem, name string,
		creation, lastAccess, lastWrite time.Time, info *FileInfo,
	) error
}

// BehaviourDeleteFile checks whether the file can be deleted.
// The deletion itself is carried out on cleanup.
type BehaviourDeleteFile interface {
	DeleteFile(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourDeleteDirectory checks whether the directory can
// be deleted.
type BehaviourDeleteDirectory interface {
	DeleteDirectory(fs *FileSystem, name string, info *FileInfo) error
}

// BehaviourMoveFile renames a file or directory.
type BehaviourMoveFile interface {
	MoveFile(
		fs *FileSystem, name, newName string,
		replaceIfExists bool, info *FileInfo,
	) error
}

// BehaviourSetEndOfFile sets the size of a file.
type BehaviourSetEndOfFile interface {
	SetEndOfFile(
		fs *FileSystem, name string, size int64, info *FileInfo,
	) error
}

// BehaviourSetAllocationSize sets the allocation of a file.
type BehaviourSetAllocationSize interface {
	SetAllocationSize(
		fs *FileSystem, name string, size int64, info *FileInfo,
	) error
}

// BehaviourLock locks a byte range of a file.
type BehaviourLock interface {
	LockFile(
		fs *FileSystem, name string,
		offset, length int64, info *FileInfo,
	) error
}

// BehaviourUnlock unlocks a byte range of a file.
type BehaviourUnlock interface {
	UnlockFile(
		fs *FileSystem, name string,
		offset, length int64, info *FileInfo,
	) error
}

// BehaviourGetDiskFreeSpace reports the capacity.
type BehaviourGetDiskFreeSpace interface {
	GetDiskFreeSpace(fs *FileSystem, info *FileInfo) (DiskFreeSpace, error)
}

// BehaviourGetVolumeInfo reports the volume information.
type BehaviourGetVolumeInfo interface {
	GetVolumeInformation(
		fs *FileSystem, info *FileInfo,
	) (VolumeInformation, error)
}

// BehaviourGetSecurity retrieves the security descriptor of
// a file in its self relative form.
type BehaviourGetSecurity interface {
	GetFileSecurity(
		fs *FileSystem, name string,
		information uint32, buf []byte, info *FileInfo,
	) (int, error)
}

// BehaviourSetSecurity replaces the security descriptor.
type BehaviourSetSecurity interface {
	SetFileSecurity(
		fs *FileSystem, name string,
		information uint32, descriptor []byte, info *FileInfo,
	) error
}

// BehaviourUnmount is called once the workers have stopped.
type BehaviourUnmount interface {
	Unmount(fs *FileSystem, info *FileInfo) error
}
