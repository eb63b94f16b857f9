//go:build !windows && !linux

package gofs

import (
	"os"
	"time"
)

func statTimes(source os.FileInfo) (creation, access, write time.Time) {
	write = source.ModTime()
	return write, write, write
}
