package gofs

import (
	"os"
	"syscall"
	"time"

	"github.com/aegistudio/go-dokan/filetime"
)

func statTimes(source os.FileInfo) (creation, access, write time.Time) {
	write = source.ModTime()
	findData, ok := source.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return write, write, write
	}
	return filetime.Time(filetime.Filetime(findData.CreationTime)),
		filetime.Time(filetime.Filetime(findData.LastAccessTime)),
		filetime.Time(filetime.Filetime(findData.LastWriteTime))
}
