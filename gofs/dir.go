package gofs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/aegistudio/go-dokan/pathlock"
)

// dirFS serves the tree under a native directory.
type dirFS struct {
	root string
}

// Dir returns the file system of the tree under root.
func Dir(root string) FileSystem {
	return &dirFS{root: root}
}

func (d *dirFS) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(pathlock.Clean(name)))
}

func (d *dirFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(d.path(name), flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *dirFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(d.path(name), perm)
}

func (d *dirFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(d.path(name))
}

func (d *dirFS) Rename(source, target string) error {
	return os.Rename(d.path(source), d.path(target))
}

func (d *dirFS) Remove(name string) error {
	return os.Remove(d.path(name))
}

func (d *dirFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(d.path(name), mode)
}

func (d *dirFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(d.path(name), atime, mtime)
}

var (
	_ FileSystemChmod   = (*dirFS)(nil)
	_ FileSystemChtimes = (*dirFS)(nil)
)
