package dokan

import (
	"path"
	"sort"
	"strings"

	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/filetime"
	"github.com/aegistudio/go-dokan/ntstatus"
)

// matchPattern tells whether the name is selected by the
// search pattern of a directory query, case insensitively.
func matchPattern(pattern, name string) bool {
	switch pattern {
	case "", "*", "*.*":
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	if err != nil {
		return strings.EqualFold(pattern, name)
	}
	return ok
}

func allocationSize(size int64) int64 {
	const unit = 512
	return (size + unit - 1) / unit * unit
}

func (fs *FileSystem) listDirectory(
	name, pattern string, info *FileInfo,
) ([]FindData, error) {
	var entries []FindData
	var err error
	switch {
	case fs.findFilesPattern != nil:
		err = fs.findFilesPattern.FindFilesWithPattern(fs, name, pattern,
			func(data FindData) error {
				entries = append(entries, data)
				return nil
			}, info)
	case fs.findFiles != nil:
		err = fs.findFiles.FindFiles(fs, name,
			func(data FindData) error {
				if matchPattern(pattern, data.Name) {
					entries = append(entries, data)
				}
				return nil
			}, info)
	default:
		return nil, ntstatus.STATUS_NOT_IMPLEMENTED
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// handleDirectory packs the listing from the continuation
// index until the buffer of the caller is full.
func (fs *FileSystem) handleDirectory(
	event *driver.Event, info *FileInfo, answer *driver.EventInformation,
) error {
	params := event.Directory
	entries, err := fs.listDirectory(
		event.FileName, string(event.Extra), info)
	if err != nil {
		return err
	}
	index := int(params.FileIndex)
	if params.RestartScan {
		index = 0
	}
	if index >= len(entries) {
		return ntstatus.STATUS_NO_MORE_FILES
	}
	var buf []byte
	last := -1
	next := index
	for ; next < len(entries); next++ {
		entry := entries[next]
		size := len(buf) + driver.DirectoryEntrySize(entry.Name)
		if size > int(params.BufferLength) {
			if last < 0 {
				return ntstatus.STATUS_BUFFER_OVERFLOW
			}
			break
		}
		attributes := entry.Attributes
		if attributes == 0 {
			attributes = driver.FILE_ATTRIBUTE_NORMAL
		}
		buf, last, err = driver.AppendDirectoryEntry(buf, last,
			driver.FileDirectoryEntry{
				FileIndex:      uint32(next),
				CreationTime:   filetime.Timestamp(entry.CreationTime),
				LastAccessTime: filetime.Timestamp(entry.LastAccessTime),
				LastWriteTime:  filetime.Timestamp(entry.LastWriteTime),
				ChangeTime:     filetime.Timestamp(entry.LastWriteTime),
				EndOfFile:      entry.Size,
				AllocationSize: allocationSize(entry.Size),
				FileAttributes: attributes,
				FileName:       []byte(entry.Name),
			})
		if err != nil {
			return err
		}
		if params.ReturnSingleEntry {
			next++
			break
		}
	}
	answer.Buffer = buf
	answer.Information = uint64(len(buf))
	answer.Index = uint32(next)
	return nil
}
