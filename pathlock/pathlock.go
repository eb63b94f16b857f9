// Package pathlock arbitrates between the opens of a path
// namespace that only share a path and those that remove or
// rename it.
//
// Reading, writing and stating a file take a shared lock on
// the file and every directory above it. Removing or renaming
// takes an exclusive lock on the file, which is refused while
// anything below or at it is open. Locking never blocks, a
// conflicting attempt fails at once.
package pathlock

import (
	"path"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// Each locked path maps to a counter. Zero means the path is
// held exclusively, one means the last shared holder is on its
// way out, and n > 1 means n-1 shared holders.
var pool = &sync.Pool{
	New: func() interface{} {
		return new(uintptr)
	},
}

// PathLocker is the locker of a path namespace. The zero
// value is ready for use.
type PathLocker struct {
	m sync.Map
}

func (l *PathLocker) readUnlock(p string) {
	obj, _ := l.m.Load(p)
	if atomic.AddUintptr(obj.(*uintptr), ^uintptr(0)) == 1 {
		old, _ := l.m.LoadAndDelete(p)
		pool.Put(old.(*uintptr))
	}
}

func (l *PathLocker) readLock(p string) bool {
	for {
		newer := pool.Get().(*uintptr)
		atomic.StoreUintptr(newer, 2)
		obj, loaded := l.m.LoadOrStore(p, newer)
		if !loaded {
			return true
		}
		pool.Put(newer)
		ptr := obj.(*uintptr)
		before := atomic.LoadUintptr(ptr)
		if before == 0 {
			return false
		}
		if before == 1 {
			// Wait for the last holder to delete the counter.
			runtime.Gosched()
			continue
		}
		after := before + 1
		if after == 0 {
			return false
		}
		if atomic.CompareAndSwapUintptr(ptr, before, after) {
			return true
		}
		runtime.Gosched()
	}
}

func (l *PathLocker) writeUnlock(p string) {
	obj, _ := l.m.LoadAndDelete(p)
	pool.Put(obj.(*uintptr))
}

func (l *PathLocker) writeLock(p string) bool {
	for {
		newer := pool.Get().(*uintptr)
		atomic.StoreUintptr(newer, 0)
		obj, loaded := l.m.LoadOrStore(p, newer)
		if !loaded {
			return true
		}
		pool.Put(newer)
		before := atomic.LoadUintptr(obj.(*uintptr))
		if before != 1 {
			return false
		}
		runtime.Gosched()
	}
}

func isRoot(p string) bool {
	return p == "" || p == "." || p == "/"
}

// readUnlockRecursive drops the shared locks of the path and
// every directory above it.
func (l *PathLocker) readUnlockRecursive(p string) {
	for ; !isRoot(p); p = path.Dir(p) {
		l.readUnlock(p)
	}
}

// readLockRecursive takes the shared locks from the top down,
// undoing what it took when one of them is refused.
func (l *PathLocker) readLockRecursive(p string) bool {
	if isRoot(p) {
		return true
	}
	parent := path.Dir(p)
	if !l.readLockRecursive(parent) {
		return false
	}
	if !l.readLock(p) {
		l.readUnlockRecursive(parent)
		return false
	}
	return true
}

// Lock is held by an open until it unlocks.
type Lock struct {
	locker *PathLocker
	path   string
	write  bool
	free   sync.Once
}

func (l *PathLocker) newLock(p string, write bool) *Lock {
	result := &Lock{locker: l, path: p, write: write}
	runtime.SetFinalizer(result, func(lock *Lock) {
		lock.Unlock()
	})
	return result
}

// Path is the clean slash separated path of the lock.
func (l *Lock) Path() string {
	return l.path
}

// Name is the path of the lock in the backslash form of
// file names.
func (l *Lock) Name() string {
	return strings.ReplaceAll(l.path, "/", `\`)
}

// IsWrite tells whether the lock is exclusive.
func (l *Lock) IsWrite() bool {
	return l.write
}

// Downgrade turns an exclusive lock into a shared one.
func (l *Lock) Downgrade() {
	if !l.write {
		return
	}
	// Only the exclusive holder writes the counter.
	ptr, _ := l.locker.m.Load(l.path)
	atomic.StoreUintptr(ptr.(*uintptr), 2)
	l.write = false
}

// Unlock releases the lock, only the first call counts.
func (l *Lock) Unlock() {
	runtime.SetFinalizer(l, nil)
	l.free.Do(func() {
		if l.write {
			l.locker.writeUnlock(l.path)
			l.locker.readUnlockRecursive(path.Dir(l.path))
		} else {
			l.locker.readUnlockRecursive(l.path)
		}
	})
}

// Clean turns a slash or backslash separated name into the
// clean slash separated path the locker works with.
func Clean(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return path.Clean(path.Join("/", name))
}

// RLock takes the shared lock of the path, or returns nil
// when it is held exclusively.
func (l *PathLocker) RLock(name string) *Lock {
	p := Clean(name)
	if !l.readLockRecursive(p) {
		return nil
	}
	return l.newLock(p, false)
}

// Lock takes the exclusive lock of the path, or returns nil
// when it is held by anyone. The root is never locked.
func (l *PathLocker) Lock(name string) *Lock {
	p := Clean(name)
	if isRoot(p) {
		return nil
	}
	parent := path.Dir(p)
	if !l.readLockRecursive(parent) {
		return nil
	}
	if !l.writeLock(p) {
		l.readUnlockRecursive(parent)
		return nil
	}
	return l.newLock(p, true)
}
