package gofs

import (
	"golang.org/x/sys/windows"
)

func (d *dirFS) Usage() (free, total uint64, err error) {
	root, err := windows.UTF16PtrFromString(d.root)
	if err != nil {
		return 0, 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(root, &free, &total, nil); err != nil {
		return 0, 0, err
	}
	return free, total, nil
}

var _ FileSystemUsage = (*dirFS)(nil)
