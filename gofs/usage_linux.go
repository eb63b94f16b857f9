package gofs

import (
	"golang.org/x/sys/unix"
)

func (d *dirFS) Usage() (free, total uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(d.root, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return stat.Bavail * bsize, stat.Blocks * bsize, nil
}

var _ FileSystemUsage = (*dirFS)(nil)
