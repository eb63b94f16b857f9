package driver

import (
	"sync/atomic"

	"github.com/aegistudio/go-dokan/ntstatus"
)

const (
	irpPending int32 = iota
	irpClaimed
)

// FileObject is the caller's view of an opened file.
type FileObject struct {
	FileName  string
	Related   *FileObject
	ProcessID uint32
	FCB       *FCB
	CCB       *CCB

	// offset is the current byte offset for synchronous I/O.
	offset atomic.Int64
}

// CurrentByteOffset returns the position after the last
// read or write on the file object.
func (fo *FileObject) CurrentByteOffset() int64 {
	return fo.offset.Load()
}

// Irp is a suspended caller side operation.
//
// Whoever completes the Irp must claim it first, and only
// the claimer may touch the result fields and close done.
// Completion, cancellation, timeout and drain are all
// claimers, and the claim is what makes them exclusive.
type Irp struct {
	category Category
	file     *FileObject
	serial   uint64

	// buffer receives the answer of read, directory query
	// and query operations, its length is the requested one.
	buffer []byte

	// writeData is the payload of a write, which is fetched
	// by the worker out of band.
	writeData []byte

	// setClass remembers the information class of a set
	// information request for its finisher.
	setClass uint32

	state atomic.Int32
	done  chan struct{}

	status      ntstatus.Status
	information uint64
	index       uint32
}

func newIrp(category Category, file *FileObject) *Irp {
	return &Irp{
		category: category,
		file:     file,
		done:     make(chan struct{}),
	}
}

// claim attempts to become the only path completing the Irp.
func (irp *Irp) claim() bool {
	return irp.state.CompareAndSwap(irpPending, irpClaimed)
}

// claimed reports whether some path has owned the Irp.
func (irp *Irp) claimed() bool {
	return irp.state.Load() != irpPending
}

// finish publishes the result, the caller must own the claim.
func (irp *Irp) finish(status ntstatus.Status, information uint64) {
	irp.status = status
	irp.information = information
	close(irp.done)
}

// result must only be called after done has been closed.
func (irp *Irp) result() (ntstatus.Status, uint64) {
	return irp.status, irp.information
}
