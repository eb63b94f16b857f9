package gofs

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegistudio/go-dokan"
	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/ntstatus"
	"github.com/aegistudio/go-dokan/pathlock"
)

type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Readdir(count int) ([]os.FileInfo, error)
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Mkdir(name string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Rename(source, target string) error
	Remove(name string) error
}

// FileSystemChmod is implemented by file systems that can
// update the permission of a file.
type FileSystemChmod interface {
	Chmod(name string, mode os.FileMode) error
}

// FileSystemChtimes is implemented by file systems that can
// update the timestamps of a file.
type FileSystemChtimes interface {
	Chtimes(name string, atime, mtime time.Time) error
}

// FileSystemUsage reports the free and total bytes of the
// storage under the file system.
type FileSystemUsage interface {
	Usage() (free, total uint64, err error)
}

type fileHandle struct {
	lock      *pathlock.Lock
	file      File
	flags     int
	directory bool
	mtx       sync.RWMutex

	evaluatedIndex uint64
}

type fileSystem struct {
	inner   FileSystem
	handles sync.Map
	next    atomic.Uint64
	locker  pathlock.PathLocker
}

// New wraps the file system as the backend of a mount.
func New(inner FileSystem) dokan.BehaviourBase {
	return &fileSystem{inner: inner}
}

func (handle *fileHandle) reopenFile(fs *fileSystem) (File, error) {
	return fs.inner.OpenFile(
		handle.lock.Name(), handle.flags, os.FileMode(0))
}

func attributesFromFileMode(mode os.FileMode) uint32 {
	var attributes uint32
	if mode.IsDir() {
		attributes |= driver.FILE_ATTRIBUTE_DIRECTORY
	}
	if (uint32(mode.Perm()) & 0200) == 0 {
		attributes |= driver.FILE_ATTRIBUTE_READONLY
	}
	if attributes == 0 {
		attributes = driver.FILE_ATTRIBUTE_NORMAL
	}
	return attributes
}

func evaluateIndexNumber(p string) uint64 {
	// XXX: the index number of a file is the hash of its
	// path, opening by file ID is not supported so it is
	// okay for a path to be its identity.
	data := sha256.Sum256([]byte(p))
	var result uint64
	for i := 0; i < len(data); i += 8 {
		result ^= binary.BigEndian.Uint64(data[i : i+8])
	}
	return result
}

func fileInformation(
	source os.FileInfo, evaluatedIndex uint64,
) dokan.FileInformation {
	creation, access, write := statTimes(source)
	return dokan.FileInformation{
		Attributes:     attributesFromFileMode(source.Mode()),
		CreationTime:   creation,
		LastAccessTime: access,
		LastWriteTime:  write,
		Size:           source.Size(),
		Index:          evaluatedIndex,
		NumberOfLinks:  1,
	}
}

// bothDirectoryFlags are the flags of directory or-ing the
// non directory flags, both set is an invalid request.
const bothDirectoryFlags = driver.FILE_DIRECTORY_FILE |
	driver.FILE_NON_DIRECTORY_FILE

func accessFlagsOf(desiredAccess uint32) (accessFlags, flags int) {
	if desiredAccess&(driver.GENERIC_READ|driver.GENERIC_ALL) != 0 {
		desiredAccess |= driver.FILE_READ_DATA
	}
	if desiredAccess&(driver.GENERIC_WRITE|driver.GENERIC_ALL) != 0 {
		desiredAccess |= driver.FILE_WRITE_DATA | driver.FILE_APPEND_DATA
	}
	readAccess := desiredAccess & driver.FILE_READ_DATA
	writeAccess := desiredAccess &
		(driver.FILE_WRITE_DATA | driver.FILE_APPEND_DATA)
	switch {
	case writeAccess == 0:
		accessFlags = os.O_RDONLY
	case readAccess == 0:
		accessFlags = os.O_WRONLY
	default:
		accessFlags = os.O_RDWR
	}
	if writeAccess == driver.FILE_APPEND_DATA {
		flags |= os.O_APPEND
	}
	return accessFlags, flags
}

func (fs *fileSystem) openFile(
	name string, data dokan.CreateData, mode os.FileMode,
) (*fileHandle, bool, error) {
	options := data.Options
	if options&bothDirectoryFlags == bothDirectoryFlags {
		return nil, false, ntstatus.STATUS_INVALID_PARAMETER
	}
	accessFlags, flags := accessFlagsOf(data.DesiredAccess)
	switch data.Disposition {
	case driver.FILE_SUPERSEDE:
		// XXX: superseding replaces the file on disk, which
		// is only done while nobody else has it open.
		flags |= os.O_CREATE | os.O_TRUNC
	case driver.FILE_CREATE:
		flags |= os.O_CREATE | os.O_EXCL
	case driver.FILE_OPEN:
	case driver.FILE_OPEN_IF:
		flags |= os.O_CREATE
	case driver.FILE_OVERWRITE:
		flags |= os.O_TRUNC
	case driver.FILE_OVERWRITE_IF:
		flags |= os.O_CREATE | os.O_TRUNC
	default:
		return nil, false, ntstatus.STATUS_INVALID_PARAMETER
	}

	// Lock the file with desired mode.
	lockFunc := fs.locker.RLock
	if (options&driver.FILE_DELETE_ON_CLOSE != 0) ||
		(data.DesiredAccess&driver.DELETE != 0) ||
		(data.Disposition == driver.FILE_SUPERSEDE) {
		lockFunc = fs.locker.Lock
	}
	lock := lockFunc(name)
	if lock == nil {
		if pathlock.Clean(name) == "/" {
			return nil, false, ntstatus.STATUS_ACCESS_DENIED
		}
		return nil, false, ntstatus.STATUS_SHARING_VIOLATION
	}
	opened := false
	defer func() {
		if !opened {
			lock.Unlock()
		}
	}()
	name = lock.Name()

	// Directories are opened with POSIX compatible flags,
	// whatever access the caller asked for.
	stat, statErr := fs.inner.Stat(name)
	existed := statErr == nil
	created := false
	switch {
	case existed && stat.IsDir():
		if options&driver.FILE_NON_DIRECTORY_FILE != 0 {
			return nil, false, ntstatus.STATUS_FILE_IS_A_DIRECTORY
		}
		if flags&os.O_EXCL != 0 {
			return nil, false, ntstatus.STATUS_OBJECT_NAME_COLLISION
		}
		if flags&os.O_TRUNC != 0 {
			return nil, false, ntstatus.STATUS_INVALID_PARAMETER
		}
		accessFlags, flags = os.O_RDONLY, 0

	case options&driver.FILE_DIRECTORY_FILE != 0 && existed:
		if flags&os.O_EXCL != 0 {
			return nil, false, ntstatus.STATUS_OBJECT_NAME_COLLISION
		}
		return nil, false, ntstatus.STATUS_NOT_A_DIRECTORY

	case options&driver.FILE_DIRECTORY_FILE != 0 && flags&os.O_CREATE != 0:
		if flags&os.O_TRUNC != 0 {
			return nil, false, ntstatus.STATUS_INVALID_PARAMETER
		}
		if err := fs.inner.Mkdir(name, mode|os.FileMode(0111)); err != nil {
			if os.IsExist(err) {
				return nil, false, ntstatus.STATUS_OBJECT_NAME_COLLISION
			}
			return nil, false, err
		}
		created = true
		accessFlags, flags = os.O_RDONLY, 0
	}

	file, err := fs.inner.OpenFile(name, accessFlags|flags, mode)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if !opened {
			_ = file.Close()
		}
	}()

	// Judge whether this is the stuff we would like to open,
	// it might have been swapped since we stated it.
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, false, err
	}
	switch options & bothDirectoryFlags {
	case driver.FILE_DIRECTORY_FILE:
		if !fileInfo.IsDir() {
			return nil, false, ntstatus.STATUS_NOT_A_DIRECTORY
		}
	case driver.FILE_NON_DIRECTORY_FILE:
		if fileInfo.IsDir() {
			return nil, false, ntstatus.STATUS_FILE_IS_A_DIRECTORY
		}
	}
	if !created {
		created = !existed && flags&os.O_CREATE != 0
	}

	// Others may access the superseded file from now on.
	if data.Disposition == driver.FILE_SUPERSEDE {
		lock.Downgrade()
	}
	opened = true
	return &fileHandle{
		lock:           lock,
		file:           file,
		flags:          accessFlags | (flags & os.O_APPEND),
		directory:      fileInfo.IsDir(),
		evaluatedIndex: evaluateIndexNumber(lock.Path()),
	}, created, nil
}

func (fs *fileSystem) CreateFile(
	_ *dokan.FileSystem, name string,
	data dokan.CreateData, info *dokan.FileInfo,
) (bool, error) {
	fileMode := os.FileMode(0444)
	if data.FileAttributes&driver.FILE_ATTRIBUTE_READONLY == 0 {
		fileMode |= os.FileMode(0222)
	}
	if data.FileAttributes&driver.FILE_ATTRIBUTE_DIRECTORY != 0 {
		fileMode |= os.FileMode(0111)
	}
	handle, created, err := fs.openFile(name, data, fileMode)
	if err != nil {
		return false, err
	}
	id := fs.next.Add(1)
	fs.handles.Store(id, handle)
	info.Context = id
	info.IsDirectory = handle.directory
	return created, nil
}

func (fs *fileSystem) load(info *dokan.FileInfo) (*fileHandle, error) {
	obj, ok := fs.handles.Load(info.Context)
	if !ok {
		return nil, ntstatus.STATUS_INVALID_HANDLE
	}
	return obj.(*fileHandle), nil
}

// loadChecked loads the handle with its file in read lock,
// which must be released by unlockChecked.
func (fs *fileSystem) loadChecked(info *dokan.FileInfo) (*fileHandle, error) {
	handle, err := fs.load(info)
	if err != nil {
		return nil, err
	}
	handle.mtx.RLock()
	if handle.file == nil {
		handle.mtx.RUnlock()
		return nil, ntstatus.STATUS_INVALID_HANDLE
	}
	return handle, nil
}

func (handle *fileHandle) unlockChecked() {
	handle.mtx.RUnlock()
}

func (fs *fileSystem) Cleanup(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) error {
	handle, err := fs.load(info)
	if err != nil {
		return err
	}
	if !info.DeleteOnClose || !handle.lock.IsWrite() {
		return nil
	}
	handle.mtx.Lock()
	defer handle.mtx.Unlock()
	if handle.file == nil {
		return nil
	}
	_ = handle.file.Close()
	handle.file = nil
	return fs.inner.Remove(handle.lock.Name())
}

func (fs *fileSystem) CloseFile(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) error {
	object, ok := fs.handles.LoadAndDelete(info.Context)
	if !ok {
		return nil
	}
	handle := object.(*fileHandle)
	handle.mtx.Lock()
	defer handle.mtx.Unlock()
	defer handle.lock.Unlock()
	if handle.file == nil {
		return nil
	}
	err := handle.file.Close()
	handle.file = nil
	return err
}

func (fs *fileSystem) ReadFile(
	_ *dokan.FileSystem, name string,
	buf []byte, offset int64, info *dokan.FileInfo,
) (int, error) {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return 0, err
	}
	defer handle.unlockChecked()
	// No matter random access or append only file handle
	// should support random read.
	return handle.file.ReadAt(buf, offset)
}

func (fs *fileSystem) WriteFile(
	_ *dokan.FileSystem, name string,
	data []byte, offset int64, info *dokan.FileInfo,
) (int, error) {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return 0, err
	}
	defer handle.unlockChecked()
	if (handle.flags&os.O_APPEND != 0) && !info.WriteToEndOfFile {
		// You may not write to an append-only file.
		return 0, ntstatus.STATUS_ACCESS_DENIED
	}
	switch {
	case info.WriteToEndOfFile:
		return handle.appender().Append(data)
	case info.PagingIO:
		// Paging never extends the file.
		return handle.appender().WriteWithinAt(data, offset)
	default:
		return handle.file.WriteAt(data, offset)
	}
}

func (fs *fileSystem) FlushFileBuffers(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	if handle.directory {
		return nil
	}
	return handle.file.Sync()
}

func (fs *fileSystem) GetFileInformation(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) (dokan.FileInformation, error) {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return dokan.FileInformation{}, err
	}
	defer handle.unlockChecked()
	fileInfo, err := handle.file.Stat()
	if err != nil {
		return dokan.FileInformation{}, err
	}
	return fileInformation(fileInfo, handle.evaluatedIndex), nil
}

func (fs *fileSystem) FindFiles(
	_ *dokan.FileSystem, name string,
	fill func(dokan.FindData) error, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	if !handle.directory {
		return ntstatus.STATUS_NOT_A_DIRECTORY
	}
	f, err := handle.reopenFile(fs)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fileInfos, err := f.Readdir(-1)
	if err != nil {
		return err
	}
	for _, fileInfo := range fileInfos {
		creation, access, write := statTimes(fileInfo)
		if err := fill(dokan.FindData{
			Name:           fileInfo.Name(),
			Attributes:     attributesFromFileMode(fileInfo.Mode()),
			CreationTime:   creation,
			LastAccessTime: access,
			LastWriteTime:  write,
			Size:           fileInfo.Size(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (fs *fileSystem) SetFileAttributes(
	_ *dokan.FileSystem, name string,
	attributes uint32, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	chmod, ok := fs.inner.(FileSystemChmod)
	if !ok {
		return ntstatus.STATUS_ACCESS_DENIED
	}
	fileInfo, err := handle.file.Stat()
	if err != nil {
		return err
	}
	mode := fileInfo.Mode().Perm()
	if attributes&driver.FILE_ATTRIBUTE_READONLY != 0 {
		mode &^= 0222
	} else {
		mode |= 0200
	}
	if mode == fileInfo.Mode().Perm() {
		return nil
	}
	return chmod.Chmod(handle.lock.Name(), mode)
}

func (fs *fileSystem) SetFileTime(
	_ *dokan.FileSystem, name string,
	creation, lastAccess, lastWrite time.Time,
	info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	if lastAccess.IsZero() && lastWrite.IsZero() {
		return nil
	}
	chtimes, ok := fs.inner.(FileSystemChtimes)
	if !ok {
		return ntstatus.STATUS_ACCESS_DENIED
	}
	fileInfo, err := handle.file.Stat()
	if err != nil {
		return err
	}
	_, access, write := statTimes(fileInfo)
	if lastAccess.IsZero() {
		lastAccess = access
	}
	if lastWrite.IsZero() {
		lastWrite = write
	}
	return chtimes.Chtimes(handle.lock.Name(), lastAccess, lastWrite)
}

// canDelete tells whether the handle may remove its file
// when it is cleaned up.
func (fs *fileSystem) canDelete(handle *fileHandle) error {
	if !handle.lock.IsWrite() {
		return ntstatus.STATUS_ACCESS_DENIED
	}
	if !handle.directory {
		return nil
	}
	f, err := handle.reopenFile(fs)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	fileInfos, err := f.Readdir(-1)
	if err != nil {
		return err
	}
	if len(fileInfos) > 0 {
		return ntstatus.STATUS_DIRECTORY_NOT_EMPTY
	}
	return nil
}

func (fs *fileSystem) DeleteFile(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	if handle.directory {
		return ntstatus.STATUS_FILE_IS_A_DIRECTORY
	}
	return fs.canDelete(handle)
}

func (fs *fileSystem) DeleteDirectory(
	_ *dokan.FileSystem, name string, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	if !handle.directory {
		return ntstatus.STATUS_NOT_A_DIRECTORY
	}
	return fs.canDelete(handle)
}

func (fs *fileSystem) MoveFile(
	_ *dokan.FileSystem, name, newName string,
	replaceIfExists bool, info *dokan.FileInfo,
) error {
	handle, err := fs.load(info)
	if err != nil {
		return err
	}
	if !handle.lock.IsWrite() {
		return ntstatus.STATUS_ACCESS_DENIED
	}
	if pathlock.Clean(newName) == handle.lock.Path() {
		return nil
	}
	target := fs.locker.Lock(newName)
	if target == nil {
		return ntstatus.STATUS_ACCESS_DENIED
	}
	moved := false
	defer func() {
		if !moved {
			target.Unlock()
		}
	}()
	if existing, err := fs.inner.Stat(target.Name()); err == nil {
		if !replaceIfExists {
			return ntstatus.STATUS_OBJECT_NAME_COLLISION
		}
		if existing.IsDir() {
			return ntstatus.STATUS_ACCESS_DENIED
		}
	}

	// The file is closed while renaming, since some file
	// systems refuse to rename an open file.
	handle.mtx.Lock()
	defer handle.mtx.Unlock()
	if handle.file == nil {
		return ntstatus.STATUS_INVALID_HANDLE
	}
	source := handle.lock
	if err := handle.file.Close(); err != nil {
		return err
	}
	handle.file = nil
	if err := fs.inner.Rename(source.Name(), target.Name()); err != nil {
		if file, reopenErr := handle.reopenFile(fs); reopenErr == nil {
			handle.file = file
		}
		return err
	}
	moved = true
	handle.lock = target
	handle.evaluatedIndex = evaluateIndexNumber(target.Path())
	source.Unlock()
	file, err := handle.reopenFile(fs)
	if err != nil {
		return err
	}
	handle.file = file
	return nil
}

func (fs *fileSystem) SetEndOfFile(
	_ *dokan.FileSystem, name string, size int64, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	return handle.file.Truncate(size)
}

func (fs *fileSystem) SetAllocationSize(
	_ *dokan.FileSystem, name string, size int64, info *dokan.FileInfo,
) error {
	handle, err := fs.loadChecked(info)
	if err != nil {
		return err
	}
	defer handle.unlockChecked()
	return handle.shrinker().Shrink(size)
}

func (fs *fileSystem) GetDiskFreeSpace(
	_ *dokan.FileSystem, info *dokan.FileInfo,
) (dokan.DiskFreeSpace, error) {
	if usage, ok := fs.inner.(FileSystemUsage); ok {
		free, total, err := usage.Usage()
		if err != nil {
			return dokan.DiskFreeSpace{}, err
		}
		return dokan.DiskFreeSpace{
			FreeBytesAvailable: free,
			TotalBytes:         total,
			TotalFreeBytes:     free,
		}, nil
	}
	const total = 8 * 1024 * 1024 * 1024 * 1024 // 8TB
	return dokan.DiskFreeSpace{
		FreeBytesAvailable: total,
		TotalBytes:         total,
		TotalFreeBytes:     total,
	}, nil
}

var (
	_ dokan.BehaviourBase              = (*fileSystem)(nil)
	_ dokan.BehaviourRead              = (*fileSystem)(nil)
	_ dokan.BehaviourWrite             = (*fileSystem)(nil)
	_ dokan.BehaviourFlush             = (*fileSystem)(nil)
	_ dokan.BehaviourGetFileInfo       = (*fileSystem)(nil)
	_ dokan.BehaviourFindFiles         = (*fileSystem)(nil)
	_ dokan.BehaviourSetAttributes     = (*fileSystem)(nil)
	_ dokan.BehaviourSetTimes          = (*fileSystem)(nil)
	_ dokan.BehaviourDeleteFile        = (*fileSystem)(nil)
	_ dokan.BehaviourDeleteDirectory   = (*fileSystem)(nil)
	_ dokan.BehaviourMoveFile          = (*fileSystem)(nil)
	_ dokan.BehaviourSetEndOfFile      = (*fileSystem)(nil)
	_ dokan.BehaviourSetAllocationSize = (*fileSystem)(nil)
	_ dokan.BehaviourGetDiskFreeSpace  = (*fileSystem)(nil)
)
