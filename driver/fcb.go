package driver

import (
	"sync"
	"sync/atomic"
)

// VCB is the volume's table of open files.
//
// The open count of each FCB is a property of the table: it
// is only changed under the table's lock by acquire and
// release, and the FCB leaves the table when it drops to
// zero, the way a path counter leaves a path locker.
type VCB struct {
	mu    sync.Mutex
	fcbs  map[string]*FCB
	opens map[*FCB]int
	ccbs  map[*CCB]struct{}
}

func newVCB() *VCB {
	return &VCB{
		fcbs:  make(map[string]*FCB),
		opens: make(map[*FCB]int),
		ccbs:  make(map[*CCB]struct{}),
	}
}

// FCB is the record of one distinct open path.
type FCB struct {
	mu        sync.Mutex
	name      string
	directory bool
	deleting  bool
}

// Name is the canonical name of the file.
func (f *FCB) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// IsDirectory reports whether user mode has reported the
// file to be a directory.
func (f *FCB) IsDirectory() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.directory
}

// DeletePending reports whether the file will be removed on
// its last cleanup.
func (f *FCB) DeletePending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleting
}

func (f *FCB) setDirectory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directory = true
}

func (f *FCB) setDeletePending(value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleting = value
}

const (
	ccbOpened uint32 = 1 << iota
	ccbCleanedUp
	ccbClosed
	ccbStale
)

// CCB is the record of one open handle.
type CCB struct {
	fcb     *FCB
	mountID uint32
	context atomic.Uint64
	flags   atomic.Uint32
}

// FCB returns the file the handle is opened on.
func (c *CCB) FCB() *FCB {
	return c.fcb
}

// Context is the user mode context associated at create.
func (c *CCB) Context() uint64 {
	return c.context.Load()
}

// setFlag sets the flag, reporting whether it was clear.
func (c *CCB) setFlag(flag uint32) bool {
	for {
		old := c.flags.Load()
		if old&flag != 0 {
			return false
		}
		if c.flags.CompareAndSwap(old, old|flag) {
			return true
		}
	}
}

// Opened reports whether user mode has accepted the open.
func (c *CCB) Opened() bool {
	return c.hasFlag(ccbOpened)
}

// CleanedUp reports whether the handle has been cleaned up.
func (c *CCB) CleanedUp() bool {
	return c.hasFlag(ccbCleanedUp)
}

func (c *CCB) hasFlag(flag uint32) bool {
	return c.flags.Load()&flag != 0
}

// acquire returns the FCB of the name, creating it when the
// name has no open files yet.
func (v *VCB) acquire(name string) *FCB {
	v.mu.Lock()
	defer v.mu.Unlock()
	fcb, ok := v.fcbs[name]
	if !ok {
		fcb = &FCB{name: name}
		v.fcbs[name] = fcb
	}
	v.opens[fcb]++
	return fcb
}

// release drops an open reference of the FCB.
func (v *VCB) release(fcb *FCB) {
	v.mu.Lock()
	defer v.mu.Unlock()
	count, ok := v.opens[fcb]
	if !ok {
		return
	}
	if count > 1 {
		v.opens[fcb] = count - 1
		return
	}
	delete(v.opens, fcb)
	name := fcb.Name()
	if v.fcbs[name] == fcb {
		delete(v.fcbs, name)
	}
}

// rename moves the FCB to the new name in the table. When
// the new name has open files of its own, they keep their
// FCB and the renamed one is only reachable through its
// handles until they are closed.
func (v *VCB) rename(fcb *FCB, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fcb.mu.Lock()
	old := fcb.name
	fcb.name = name
	fcb.mu.Unlock()
	if v.fcbs[old] == fcb {
		delete(v.fcbs, old)
	}
	if _, ok := v.fcbs[name]; !ok {
		v.fcbs[name] = fcb
	}
}

func (v *VCB) newCCB(fcb *FCB, mountID uint32) *CCB {
	ccb := &CCB{fcb: fcb, mountID: mountID}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ccbs[ccb] = struct{}{}
	return ccb
}

func (v *VCB) deleteCCB(ccb *CCB) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.ccbs, ccb)
}

// cleanup marks every handle of the volume stale, so that
// no further request on them reaches user mode.
func (v *VCB) cleanup() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	for ccb := range v.ccbs {
		ccb.setFlag(ccbStale)
	}
	return len(v.ccbs)
}

// OpenCount returns the number of open references to the
// named file.
func (v *VCB) OpenCount(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	fcb, ok := v.fcbs[name]
	if !ok {
		return 0
	}
	return v.opens[fcb]
}

// Len returns the number of distinct open files.
func (v *VCB) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.opens)
}
