package gofs

import (
	"os"
	"syscall"
	"time"
)

// statTimes reports the change time as the creation time,
// which linux does not keep in a stat.
func statTimes(source os.FileInfo) (creation, access, write time.Time) {
	write = source.ModTime()
	stat, ok := source.Sys().(*syscall.Stat_t)
	if !ok {
		return write, write, write
	}
	creation = time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec))
	access = time.Unix(int64(stat.Atim.Sec), int64(stat.Atim.Nsec))
	return creation, access, write
}
