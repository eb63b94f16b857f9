package dokan

import (
	"strings"

	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/filetime"
	"github.com/aegistudio/go-dokan/ntstatus"
)

// File system flags of the volume attribute information.
const (
	FILE_CASE_SENSITIVE_SEARCH uint32 = 0x00000001
	FILE_CASE_PRESERVED_NAMES  uint32 = 0x00000002
	FILE_UNICODE_ON_DISK       uint32 = 0x00000004
	FILE_PERSISTENT_ACLS       uint32 = 0x00000008
	FILE_NAMED_STREAMS         uint32 = 0x00040000
)

const (
	defaultSerialNumber       = 0x19831116
	defaultMaxComponentLength = 256
	defaultTotalBytes         = 1024 * 1024 * 1024
	defaultFreeBytes          = 512 * 1024 * 1024
	bytesPerSector            = 512
)

// answerRecord packs the record into the answer, or reports
// overflow when the caller cannot take it.
func answerRecord(
	record interface{}, bufferLength uint32,
	answer *driver.EventInformation,
) error {
	data, err := driver.PackInfo(record)
	if err != nil {
		return err
	}
	if len(data) > int(bufferLength) {
		return ntstatus.STATUS_BUFFER_OVERFLOW
	}
	answer.Buffer = data
	answer.Information = uint64(len(data))
	return nil
}

func (fs *FileSystem) handleQueryInformation(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	if fs.getFileInfo == nil {
		return ntstatus.STATUS_NOT_IMPLEMENTED
	}
	stat, err := fs.getFileInfo.GetFileInformation(
		fs, event.FileName, info)
	if err != nil {
		return err
	}
	attributes := stat.Attributes
	if attributes == 0 {
		attributes = driver.FILE_ATTRIBUTE_NORMAL
		if info.IsDirectory {
			attributes = driver.FILE_ATTRIBUTE_DIRECTORY
		}
	}
	directory := attributes&driver.FILE_ATTRIBUTE_DIRECTORY != 0
	creation := filetime.Timestamp(stat.CreationTime)
	access := filetime.Timestamp(stat.LastAccessTime)
	write := filetime.Timestamp(stat.LastWriteTime)
	length := event.Query.BufferLength

	var record interface{}
	switch event.Query.FileInformationClass {
	case driver.FileBasicInformation:
		record = &driver.FileBasicInfo{
			CreationTime:   creation,
			LastAccessTime: access,
			LastWriteTime:  write,
			ChangeTime:     write,
			FileAttributes: attributes,
		}
	case driver.FileStandardInformation:
		links := stat.NumberOfLinks
		if links == 0 {
			links = 1
		}
		record = &driver.FileStandardInfo{
			AllocationSize: allocationSize(stat.Size),
			EndOfFile:      stat.Size,
			NumberOfLinks:  links,
			DeletePending:  info.DeleteOnClose,
			Directory:      directory,
		}
	case driver.FileInternalInformation:
		record = &driver.FileInternalInfo{IndexNumber: stat.Index}
	case driver.FileNameInformation:
		record = &driver.FileNameInfo{
			FileNameLength: uint32(len(event.FileName)),
			FileName:       []byte(event.FileName),
		}
	case driver.FileNetworkOpenInformation:
		record = &driver.FileNetworkOpenInfo{
			CreationTime:   creation,
			LastAccessTime: access,
			LastWriteTime:  write,
			ChangeTime:     write,
			AllocationSize: allocationSize(stat.Size),
			EndOfFile:      stat.Size,
			FileAttributes: attributes,
		}
	default:
		return ntstatus.STATUS_NOT_IMPLEMENTED
	}
	return answerRecord(record, length, answer)
}

// resolveName resolves the target of a rename, which is
// relative to the parent directory unless rooted.
func resolveName(name, target string) string {
	if strings.HasPrefix(target, `\`) {
		return target
	}
	parent := name[:strings.LastIndex(name, `\`)+1]
	if parent == "" {
		parent = `\`
	}
	return parent + target
}

func (fs *FileSystem) handleSetInformation(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	params := event.SetInfo
	name := event.FileName
	switch params.FileInformationClass {
	case driver.FileAllocationInformation:
		if params.Size == 0 {
			if fs.setEndOfFile == nil {
				return ntstatus.STATUS_NOT_IMPLEMENTED
			}
			return fs.setEndOfFile.SetEndOfFile(fs, name, 0, info)
		}
		if fs.setAllocationSize == nil {
			return nil
		}
		return fs.setAllocationSize.SetAllocationSize(
			fs, name, params.Size, info)

	case driver.FileBasicInformation:
		if fs.setAttributes == nil || fs.setTimes == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		if params.FileAttributes != 0 {
			if err := fs.setAttributes.SetFileAttributes(
				fs, name, params.FileAttributes, info); err != nil {
				return err
			}
		}
		return fs.setTimes.SetFileTime(fs, name,
			filetime.Time(params.CreationTime),
			filetime.Time(params.LastAccessTime),
			filetime.Time(params.LastWriteTime), info)

	case driver.FileDispositionInformation:
		if !params.DeleteFile {
			info.DeleteOnClose = false
			return nil
		}
		var err error
		if info.IsDirectory {
			if fs.deleteDirectory == nil {
				return ntstatus.STATUS_NOT_IMPLEMENTED
			}
			err = fs.deleteDirectory.DeleteDirectory(fs, name, info)
		} else {
			if fs.deleteFile == nil {
				return ntstatus.STATUS_NOT_IMPLEMENTED
			}
			err = fs.deleteFile.DeleteFile(fs, name, info)
		}
		if err != nil {
			return err
		}
		info.DeleteOnClose = true
		answer.DeleteOnClose = true
		return nil

	case driver.FileEndOfFileInformation,
		driver.FileValidDataLengthInformation:
		if fs.setEndOfFile == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		return fs.setEndOfFile.SetEndOfFile(fs, name, params.Size, info)

	case driver.FileRenameInformation:
		if fs.moveFile == nil {
			return ntstatus.STATUS_NOT_IMPLEMENTED
		}
		target := string(event.Extra)
		if target == "" {
			return ntstatus.STATUS_OBJECT_NAME_INVALID
		}
		newName := resolveName(name, target)
		if err := fs.moveFile.MoveFile(
			fs, name, newName, params.ReplaceIfExists, info); err != nil {
			return err
		}
		answer.Buffer = []byte(newName)
		return nil
	}
	return ntstatus.STATUS_NOT_IMPLEMENTED
}

func (fs *FileSystem) volumeInformation(info *FileInfo) (VolumeInformation, error) {
	if fs.getVolumeInfo != nil {
		return fs.getVolumeInfo.GetVolumeInformation(fs, info)
	}
	flags := FILE_CASE_SENSITIVE_SEARCH | FILE_CASE_PRESERVED_NAMES |
		FILE_UNICODE_ON_DISK
	if fs.option.useAltStream {
		flags |= FILE_NAMED_STREAMS
	}
	return VolumeInformation{
		Label:              fs.option.volumeLabel,
		SerialNumber:       defaultSerialNumber,
		MaxComponentLength: defaultMaxComponentLength,
		FileSystemFlags:    flags,
		FileSystemName:     fs.option.fileSystemName,
	}, nil
}

func (fs *FileSystem) diskFreeSpace(info *FileInfo) (DiskFreeSpace, error) {
	if fs.getDiskFreeSpace != nil {
		return fs.getDiskFreeSpace.GetDiskFreeSpace(fs, info)
	}
	return DiskFreeSpace{
		FreeBytesAvailable: defaultFreeBytes,
		TotalBytes:         defaultTotalBytes,
		TotalFreeBytes:     defaultFreeBytes,
	}, nil
}

func (fs *FileSystem) handleQueryVolume(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	length := event.Volume.BufferLength
	switch event.Volume.FsInformationClass {
	case driver.FileFsVolumeInformation:
		volume, err := fs.volumeInformation(info)
		if err != nil {
			return err
		}
		return answerRecord(&driver.FileFsVolumeInfo{
			VolumeSerialNumber: volume.SerialNumber,
			VolumeLabelLength:  uint32(len(volume.Label)),
			VolumeLabel:        []byte(volume.Label),
		}, length, answer)

	case driver.FileFsAttributeInformation:
		volume, err := fs.volumeInformation(info)
		if err != nil {
			return err
		}
		return answerRecord(&driver.FileFsAttributeInfo{
			FileSystemAttributes:       volume.FileSystemFlags,
			MaximumComponentNameLength: volume.MaxComponentLength,
			FileSystemNameLength:       uint32(len(volume.FileSystemName)),
			FileSystemName:             []byte(volume.FileSystemName),
		}, length, answer)

	case driver.FileFsSizeInformation:
		space, err := fs.diskFreeSpace(info)
		if err != nil {
			return err
		}
		return answerRecord(&driver.FileFsSizeInfo{
			TotalAllocationUnits:     int64(space.TotalBytes / bytesPerSector),
			AvailableAllocationUnits: int64(space.FreeBytesAvailable / bytesPerSector),
			SectorsPerAllocationUnit: 1,
			BytesPerSector:           bytesPerSector,
		}, length, answer)

	case driver.FileFsFullSizeInformation:
		space, err := fs.diskFreeSpace(info)
		if err != nil {
			return err
		}
		return answerRecord(&driver.FileFsFullSizeInfo{
			TotalAllocationUnits:           int64(space.TotalBytes / bytesPerSector),
			CallerAvailableAllocationUnits: int64(space.FreeBytesAvailable / bytesPerSector),
			ActualAvailableAllocationUnits: int64(space.TotalFreeBytes / bytesPerSector),
			SectorsPerAllocationUnit:       1,
			BytesPerSector:                 bytesPerSector,
		}, length, answer)
	}
	return ntstatus.STATUS_NOT_IMPLEMENTED
}
