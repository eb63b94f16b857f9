package driver

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// Volume is the entry of file system operations on a device.
//
// Every operation but close suspends its caller until user
// mode answers, the context is cancelled or the request is
// failed by timeout or unmount. The returned error is the
// ntstatus.Status of a failed operation.
type Volume struct {
	dev *Device
}

// Volume returns the file system entry of the device.
func (d *Device) Volume() *Volume {
	return &Volume{dev: d}
}

// submit registers the request, queues its event and waits
// for whichever path ends up completing it.
//
// The registry and the channel are locked one after another,
// never nested, and no lock is held while waiting.
func (d *Device) submit(
	ctx context.Context, irp *Irp, event *Event,
) (ntstatus.Status, uint64) {
	serial := d.serial.Add(1)
	event.SerialNumber = serial
	event.MountID = d.mountID.Load()
	irp.serial = serial
	data, err := event.Encode()
	if err != nil {
		d.logger.WithError(err).Error("encode event")
		return ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0
	}
	entry := &pendingEntry{
		serial: serial,
		irp:    irp,
		event:  event,
		at:     time.Now(),
	}
	if err := d.registry.Register(entry); err != nil {
		d.stats.rejected.Add(1)
		return ntstatus.STATUS_NO_SUCH_DEVICE, 0
	}
	d.logger.WithFields(logrus.Fields{
		"serial":   serial,
		"category": irp.category,
	}).Trace("request registered")
	if err := d.channel.Push(&notifyEntry{
		serial: serial,
		data:   data,
		irp:    irp,
	}); err != nil {
		// Released between registration and push, and the
		// drain of the registry might have beaten us.
		if irp.claim() {
			d.registry.Remove(entry)
			irp.finish(ntstatus.STATUS_NO_SUCH_DEVICE, 0)
			d.stats.rejected.Add(1)
		}
	}
	select {
	case <-irp.done:
	case <-ctx.Done():
		d.cancel(entry)
		<-irp.done
	}
	return irp.result()
}

// cancel fails the request on behalf of its caller, unless
// another path has claimed it already.
func (d *Device) cancel(entry *pendingEntry) bool {
	if !entry.irp.claim() {
		return false
	}
	d.registry.Remove(entry)
	entry.irp.finish(ntstatus.STATUS_CANCELLED, 0)
	d.stats.cancelled.Add(1)
	return true
}

// checkFile verifies the handle belongs to the current mount.
func (d *Device) checkFile(fo *FileObject) error {
	if fo == nil || fo.CCB == nil {
		return ntstatus.STATUS_INVALID_PARAMETER
	}
	if fo.CCB.hasFlag(ccbStale) || fo.CCB.mountID != d.mountID.Load() {
		return ntstatus.STATUS_INSUFFICIENT_RESOURCES
	}
	return nil
}

func (d *Device) newEvent(category Category, fo *FileObject) *Event {
	event := &Event{}
	event.Category = uint32(category)
	if fo != nil {
		event.ProcessID = fo.ProcessID
		event.FileName = fo.FileName
		if fo.FCB != nil {
			event.FileName = fo.FCB.Name()
			if fo.FCB.DeletePending() {
				event.FileFlags |= FlagDeleteOnClose
			}
		}
		if fo.CCB != nil {
			event.Context = fo.CCB.Context()
		}
	}
	return event
}

func statusErr(status ntstatus.Status) error {
	if status.IsSuccess() {
		return nil
	}
	return status
}

func joinName(parent, name string) string {
	if parent == "" || parent == `\` {
		return `\` + strings.TrimPrefix(name, `\`)
	}
	return strings.TrimSuffix(parent, `\`) + `\` +
		strings.TrimPrefix(name, `\`)
}

// CreateRequest describes a create or open.
type CreateRequest struct {
	FileName       string
	Related        *FileObject
	ProcessID      uint32
	DesiredAccess  uint32
	ShareAccess    uint32
	FileAttributes uint32
	Disposition    uint32
	Options        uint32
}

// Create opens or creates a file, returning the file object
// and the create result such as FILE_OPENED or FILE_CREATED.
func (v *Volume) Create(
	ctx context.Context, req CreateRequest,
) (*FileObject, uint64, error) {
	d := v.dev
	if !d.Mounted() {
		return nil, 0, ntstatus.STATUS_NO_SUCH_DEVICE
	}
	if req.FileName == "" && req.Related == nil {
		// Opening the volume itself is answered here.
		if req.Options&FILE_DIRECTORY_FILE != 0 {
			return nil, 0, ntstatus.STATUS_NOT_A_DIRECTORY
		}
		return &FileObject{ProcessID: req.ProcessID}, FILE_OPENED, nil
	}
	name := req.FileName
	if req.Related != nil {
		name = joinName(req.Related.FileName, name)
	} else if !strings.HasPrefix(name, `\`) {
		name = `\` + name
	}
	if !d.useAltStream.Load() && strings.Contains(name, ":") {
		return nil, 0, ntstatus.STATUS_OBJECT_NAME_INVALID
	}

	fcb := d.vcb.acquire(name)
	ccb := d.vcb.newCCB(fcb, d.mountID.Load())
	fo := &FileObject{
		FileName:  name,
		Related:   req.Related,
		ProcessID: req.ProcessID,
		FCB:       fcb,
		CCB:       ccb,
	}
	event := d.newEvent(CategoryCreate, fo)
	event.Create = CreateParams{
		FileAttributes: req.FileAttributes,
		CreateOptions:  req.Disposition<<24 | req.Options&0x00ffffff,
		DesiredAccess:  req.DesiredAccess,
		ShareAccess:    req.ShareAccess,
	}
	if req.Options&FILE_DELETE_ON_CLOSE != 0 {
		event.FileFlags |= FlagDeleteOnClose
	}
	status, information := d.submit(ctx, newIrp(CategoryCreate, fo), event)
	if !status.IsSuccess() {
		d.vcb.deleteCCB(ccb)
		d.vcb.release(fcb)
		return nil, information, status
	}
	return fo, information, nil
}

// Cleanup reports the last handle of the caller is closed.
func (v *Volume) Cleanup(ctx context.Context, fo *FileObject) error {
	d := v.dev
	if fo != nil && fo.CCB == nil {
		return nil
	}
	if err := d.checkFile(fo); err != nil {
		return err
	}
	event := d.newEvent(CategoryCleanup, fo)
	status, _ := d.submit(ctx, newIrp(CategoryCleanup, fo), event)
	return statusErr(status)
}

// Close releases the file object. Nothing waits for user
// mode to process the close, the event is only queued.
func (v *Volume) Close(fo *FileObject) error {
	d := v.dev
	if fo == nil || fo.CCB == nil || !fo.CCB.setFlag(ccbClosed) {
		return nil
	}
	defer d.vcb.release(fo.FCB)
	defer d.vcb.deleteCCB(fo.CCB)
	if d.checkFile(fo) != nil {
		return nil
	}
	event := d.newEvent(CategoryClose, fo)
	event.SerialNumber = d.serial.Add(1)
	event.MountID = d.mountID.Load()
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := d.channel.Push(&notifyEntry{
		serial: event.SerialNumber,
		data:   data,
	}); err != nil {
		d.logger.WithField("name", event.FileName).
			Debug("close dropped on released device")
	}
	return nil
}

// Read reads into buf at offset, or at the current byte
// offset of the file object when offset is negative.
func (v *Volume) Read(
	ctx context.Context, fo *FileObject, buf []byte, offset int64,
) (int, error) {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return 0, err
	}
	event := d.newEvent(CategoryRead, fo)
	if offset < 0 {
		offset = fo.CurrentByteOffset()
		event.FileFlags |= FlagSynchronousIO
	}
	event.Read = ReadParams{
		ByteOffset:   offset,
		BufferLength: uint32(len(buf)),
	}
	irp := newIrp(CategoryRead, fo)
	irp.buffer = buf
	status, information := d.submit(ctx, irp, event)
	return int(information), statusErr(status)
}

// Write writes data at offset, or to the end of the file
// when offset is negative.
func (v *Volume) Write(
	ctx context.Context, fo *FileObject, data []byte, offset int64,
) (int, error) {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return 0, err
	}
	event := d.newEvent(CategoryWrite, fo)
	if offset < 0 {
		event.FileFlags |= FlagWriteToEndOfFile
	}
	event.Write = WriteParams{
		ByteOffset:   offset,
		BufferLength: uint32(len(data)),
	}
	irp := newIrp(CategoryWrite, fo)
	irp.writeData = data
	status, information := d.submit(ctx, irp, event)
	return int(information), statusErr(status)
}

// DirectoryQuery describes a directory enumeration.
type DirectoryQuery struct {
	FileInformationClass uint32
	Pattern              string
	Index                uint32
	RestartScan          bool
	ReturnSingleEntry    bool
}

// QueryDirectory fills buf with directory entries and returns
// the index to continue the enumeration from.
func (v *Volume) QueryDirectory(
	ctx context.Context, fo *FileObject,
	query DirectoryQuery, buf []byte,
) (int, uint32, error) {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return 0, 0, err
	}
	event := d.newEvent(CategoryDirectoryQuery, fo)
	event.Directory = DirectoryParams{
		FileInformationClass: query.FileInformationClass,
		FileIndex:            query.Index,
		BufferLength:         uint32(len(buf)),
		RestartScan:          query.RestartScan,
		ReturnSingleEntry:    query.ReturnSingleEntry,
	}
	event.Extra = []byte(query.Pattern)
	irp := newIrp(CategoryDirectoryQuery, fo)
	irp.buffer = buf
	status, information := d.submit(ctx, irp, event)
	return int(information), irp.index, statusErr(status)
}

// QueryInformation fills buf with the information class.
func (v *Volume) QueryInformation(
	ctx context.Context, fo *FileObject, class uint32, buf []byte,
) (int, error) {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return 0, err
	}
	if class == FilePositionInformation {
		// The byte offset is tracked here, not in user mode.
		return packOut(buf, FilePositionInfo{
			CurrentByteOffset: fo.CurrentByteOffset(),
		})
	}
	event := d.newEvent(CategoryQueryInformation, fo)
	event.Query = QueryInformationParams{
		FileInformationClass: class,
		BufferLength:         uint32(len(buf)),
	}
	irp := newIrp(CategoryQueryInformation, fo)
	irp.buffer = buf
	status, information := d.submit(ctx, irp, event)
	return int(information), statusErr(status)
}

// SetInformationRequest carries the settable fields of every
// class, only those of Class are meaningful.
type SetInformationRequest struct {
	Class           uint32
	FileAttributes  uint32
	CreationTime    uint64
	LastAccessTime  uint64
	LastWriteTime   uint64
	DeleteFile      bool
	Size            int64
	NewName         string
	ReplaceIfExists bool
}

// SetInformation updates the information class of the file.
func (v *Volume) SetInformation(
	ctx context.Context, fo *FileObject, req SetInformationRequest,
) error {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return err
	}
	event := d.newEvent(CategorySetInformation, fo)
	event.SetInfo = SetInformationParams{
		FileInformationClass: req.Class,
		ReplaceIfExists:      req.ReplaceIfExists,
		DeleteFile:           req.DeleteFile,
		FileAttributes:       req.FileAttributes,
		CreationTime:         req.CreationTime,
		LastAccessTime:       req.LastAccessTime,
		LastWriteTime:        req.LastWriteTime,
		Size:                 req.Size,
	}
	if req.Class == FileRenameInformation {
		event.Extra = []byte(req.NewName)
	}
	irp := newIrp(CategorySetInformation, fo)
	irp.setClass = req.Class
	status, _ := d.submit(ctx, irp, event)
	return statusErr(status)
}

// QueryVolumeInformation fills buf with the volume class, fo
// may be the file object of the volume itself.
func (v *Volume) QueryVolumeInformation(
	ctx context.Context, fo *FileObject, class uint32, buf []byte,
) (int, error) {
	d := v.dev
	if fo != nil && fo.CCB != nil {
		if err := d.checkFile(fo); err != nil {
			return 0, err
		}
	}
	event := d.newEvent(CategoryQueryVolumeInformation, fo)
	event.Volume = VolumeParams{
		FsInformationClass: class,
		BufferLength:       uint32(len(buf)),
	}
	irp := newIrp(CategoryQueryVolumeInformation, fo)
	irp.buffer = buf
	status, information := d.submit(ctx, irp, event)
	return int(information), statusErr(status)
}

// Flush writes the cached data of the file to the backend.
func (v *Volume) Flush(ctx context.Context, fo *FileObject) error {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return err
	}
	event := d.newEvent(CategoryFlush, fo)
	status, _ := d.submit(ctx, newIrp(CategoryFlush, fo), event)
	return statusErr(status)
}

// LockRequest describes a byte range lock.
type LockRequest struct {
	ByteOffset      int64
	Length          int64
	Key             uint32
	Exclusive       bool
	FailImmediately bool
}

// Lock locks the byte range of the file.
func (v *Volume) Lock(
	ctx context.Context, fo *FileObject, req LockRequest,
) error {
	return v.lock(ctx, CategoryLock, fo, req)
}

// Unlock unlocks the byte range of the file.
func (v *Volume) Unlock(
	ctx context.Context, fo *FileObject, req LockRequest,
) error {
	return v.lock(ctx, CategoryUnlock, fo, req)
}

func (v *Volume) lock(
	ctx context.Context, category Category,
	fo *FileObject, req LockRequest,
) error {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return err
	}
	event := d.newEvent(category, fo)
	event.Lock = LockParams(req)
	status, _ := d.submit(ctx, newIrp(category, fo), event)
	return statusErr(status)
}

// QuerySecurity fills buf with the security descriptor.
func (v *Volume) QuerySecurity(
	ctx context.Context, fo *FileObject, info uint32, buf []byte,
) (int, error) {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return 0, err
	}
	event := d.newEvent(CategoryQuerySecurity, fo)
	event.Security = SecurityParams{
		SecurityInformation: info,
		BufferLength:        uint32(len(buf)),
	}
	irp := newIrp(CategoryQuerySecurity, fo)
	irp.buffer = buf
	status, information := d.submit(ctx, irp, event)
	return int(information), statusErr(status)
}

// SetSecurity replaces the security descriptor of the file.
func (v *Volume) SetSecurity(
	ctx context.Context, fo *FileObject, info uint32, descriptor []byte,
) error {
	d := v.dev
	if err := d.checkFile(fo); err != nil {
		return err
	}
	event := d.newEvent(CategorySetSecurity, fo)
	event.Security = SecurityParams{
		SecurityInformation: info,
		BufferLength:        uint32(len(descriptor)),
	}
	event.Extra = descriptor
	status, _ := d.submit(ctx, newIrp(CategorySetSecurity, fo), event)
	return statusErr(status)
}

// FileSystemControl answers the control code without asking
// user mode. Locking, dirty marks and validity checks always
// succeed on a mounted volume, there is no on-disk layout to
// hand out retrieval pointers for.
func (v *Volume) FileSystemControl(ctx context.Context, code uint32) error {
	d := v.dev
	if !d.Mounted() {
		return ntstatus.STATUS_NO_SUCH_DEVICE
	}
	switch code {
	case FSCTL_LOCK_VOLUME, FSCTL_UNLOCK_VOLUME,
		FSCTL_MARK_VOLUME_DIRTY, FSCTL_IS_VOLUME_MOUNTED,
		FSCTL_IS_PATHNAME_VALID:
		return nil

	case FSCTL_GET_RETRIEVAL_POINTERS:
		return ntstatus.STATUS_INVALID_PARAMETER
	}
	d.logger.WithField("code", code).Debug("unknown file system control")
	return ntstatus.STATUS_INVALID_DEVICE_REQUEST
}
