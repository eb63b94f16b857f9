package dokan

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/ntstatus"
)

type memNode struct {
	dir   bool
	data  []byte
	mtime time.Time
}

// memFS is an in-memory file system, implementing most of
// the optional behaviours but locking and attributes.
type memFS struct {
	mu        sync.Mutex
	nodes     map[string]*memNode
	nextCtx   uint64
	contexts  map[uint64]string
	closed    []string
	unmounted chan struct{}
}

func newMemFS() *memFS {
	return &memFS{
		nodes: map[string]*memNode{
			`\`: {dir: true, mtime: time.Unix(1700000000, 0)},
		},
		contexts:  make(map[uint64]string),
		unmounted: make(chan struct{}),
	}
}

func parentOf(name string) string {
	index := strings.LastIndex(name, `\`)
	if index <= 0 {
		return `\`
	}
	return name[:index]
}

func (m *memFS) open(name string, info *FileInfo) {
	m.nextCtx++
	m.contexts[m.nextCtx] = name
	info.Context = m.nextCtx
}

func (m *memFS) checkParent(name string) error {
	parent, ok := m.nodes[parentOf(name)]
	if !ok || !parent.dir {
		return NewError("create", ntstatus.ERROR_PATH_NOT_FOUND)
	}
	return nil
}

func (m *memFS) CreateFile(
	fs *FileSystem, name string, data CreateData, info *FileInfo,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if ok {
		if data.Disposition == driver.FILE_CREATE {
			return false, NewError("create", ntstatus.ERROR_FILE_EXISTS)
		}
		if node.dir {
			info.IsDirectory = true
		}
		switch data.Disposition {
		case driver.FILE_SUPERSEDE, driver.FILE_OVERWRITE,
			driver.FILE_OVERWRITE_IF:
			node.data = nil
		}
		m.open(name, info)
		return false, nil
	}
	switch data.Disposition {
	case driver.FILE_OPEN, driver.FILE_OVERWRITE:
		return false, NewError("create", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	if err := m.checkParent(name); err != nil {
		return false, err
	}
	m.nodes[name] = &memNode{mtime: time.Now()}
	m.open(name, info)
	return true, nil
}

func (m *memFS) OpenDirectory(fs *FileSystem, name string, info *FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return NewError("opendir", ntstatus.ERROR_PATH_NOT_FOUND)
	}
	if !node.dir {
		return ntstatus.STATUS_NOT_A_DIRECTORY
	}
	m.open(name, info)
	return nil
}

func (m *memFS) CreateDirectory(fs *FileSystem, name string, info *FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[name]; ok {
		return NewError("mkdir", ntstatus.ERROR_ALREADY_EXISTS)
	}
	if err := m.checkParent(name); err != nil {
		return err
	}
	m.nodes[name] = &memNode{dir: true, mtime: time.Now()}
	m.open(name, info)
	return nil
}

func (m *memFS) Cleanup(fs *FileSystem, name string, info *FileInfo) error {
	if !info.DeleteOnClose {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, name)
	return nil
}

func (m *memFS) CloseFile(fs *FileSystem, name string, info *FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, m.contexts[info.Context])
	delete(m.contexts, info.Context)
	return nil
}

func (m *memFS) ReadFile(
	fs *FileSystem, name string, buf []byte, offset int64, info *FileInfo,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return 0, NewError("read", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	if offset >= int64(len(node.data)) {
		return 0, io.EOF
	}
	n := copy(buf, node.data[offset:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFS) WriteFile(
	fs *FileSystem, name string, data []byte, offset int64, info *FileInfo,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return 0, NewError("write", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	if info.WriteToEndOfFile {
		offset = int64(len(node.data))
	}
	if end := offset + int64(len(data)); end > int64(len(node.data)) {
		grown := make([]byte, end)
		copy(grown, node.data)
		node.data = grown
	}
	copy(node.data[offset:], data)
	node.mtime = time.Now()
	return len(data), nil
}

func (m *memFS) GetFileInformation(
	fs *FileSystem, name string, info *FileInfo,
) (FileInformation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return FileInformation{}, NewError(
			"stat", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	result := FileInformation{
		CreationTime:  node.mtime,
		LastWriteTime: node.mtime,
		Size:          int64(len(node.data)),
		Index:         info.Context,
	}
	if node.dir {
		result.Attributes = driver.FILE_ATTRIBUTE_DIRECTORY
	}
	return result, nil
}

func (m *memFS) FindFiles(
	fs *FileSystem, name string, fill func(FindData) error, info *FileInfo,
) error {
	m.mu.Lock()
	var entries []FindData
	for path, node := range m.nodes {
		if path == `\` || parentOf(path) != name {
			continue
		}
		data := FindData{
			Name:          path[strings.LastIndex(path, `\`)+1:],
			LastWriteTime: node.mtime,
			Size:          int64(len(node.data)),
		}
		if node.dir {
			data.Attributes = driver.FILE_ATTRIBUTE_DIRECTORY
		}
		entries = append(entries, data)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		if err := fill(entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *memFS) DeleteFile(fs *FileSystem, name string, info *FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[name]; !ok {
		return NewError("delete", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	return nil
}

func (m *memFS) DeleteDirectory(fs *FileSystem, name string, info *FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.nodes {
		if path != `\` && parentOf(path) == name {
			return NewError("rmdir", ntstatus.ERROR_DIR_NOT_EMPTY)
		}
	}
	return nil
}

func (m *memFS) MoveFile(
	fs *FileSystem, name, newName string, replace bool, info *FileInfo,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return NewError("rename", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	if _, ok := m.nodes[newName]; ok && !replace {
		return NewError("rename", ntstatus.ERROR_ALREADY_EXISTS)
	}
	delete(m.nodes, name)
	m.nodes[newName] = node
	m.contexts[info.Context] = newName
	return nil
}

func (m *memFS) SetEndOfFile(
	fs *FileSystem, name string, size int64, info *FileInfo,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return NewError("truncate", ntstatus.ERROR_FILE_NOT_FOUND)
	}
	resized := make([]byte, size)
	copy(resized, node.data)
	node.data = resized
	return nil
}

func (m *memFS) Unmount(fs *FileSystem, info *FileInfo) error {
	close(m.unmounted)
	return nil
}

func (m *memFS) content(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[name]
	if !ok {
		return "", false
	}
	return string(node.data), true
}

func (m *memFS) closedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}
