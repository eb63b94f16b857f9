package driver

import (
	"github.com/sirupsen/logrus"

	"github.com/aegistudio/go-dokan/ntstatus"
)

// Complete matches the answer of user mode to its request
// and completes the suspended caller.
//
// An answer whose request is gone, because it was cancelled,
// timed out or drained, is silently accepted. The finishers
// run after the entry has been detached and the registry
// unlocked.
func (d *Device) Complete(info *EventInformation) {
	entry := d.registry.FindAndRemove(info.SerialNumber)
	if entry == nil {
		d.logger.WithField("serial", info.SerialNumber).
			Debug("answer of finished request ignored")
		return
	}
	irp := entry.irp
	if !irp.claim() {
		return
	}
	status, information := d.finishIrp(entry, info)
	irp.finish(status, information)
	d.stats.completed.Add(1)
	d.logger.WithFields(logrus.Fields{
		"serial":   info.SerialNumber,
		"category": irp.category,
		"status":   status,
	}).Trace("request completed")
}

func (d *Device) finishIrp(
	entry *pendingEntry, info *EventInformation,
) (ntstatus.Status, uint64) {
	irp := entry.irp
	status := ntstatus.Status(info.Status)
	switch irp.category {
	case CategoryCreate:
		return d.completeCreate(entry, info, status)

	case CategoryRead:
		status, n := copyAnswer(irp, info, status)
		if status.IsSuccess() {
			irp.file.offset.Store(info.ByteOffset)
		}
		return status, n

	case CategoryWrite:
		if status.IsSuccess() {
			irp.file.offset.Store(info.ByteOffset)
		}
		return status, info.Information

	case CategoryDirectoryQuery:
		status, n := copyAnswer(irp, info, status)
		irp.index = info.Index
		return status, n

	case CategoryQueryInformation,
		CategoryQueryVolumeInformation,
		CategoryQuerySecurity:
		return copyAnswer(irp, info, status)

	case CategorySetInformation:
		return d.completeSetInformation(irp, info, status)

	case CategoryCleanup:
		if status.IsSuccess() {
			irp.file.CCB.setFlag(ccbCleanedUp)
			if irp.file.FCB.DeletePending() {
				d.notifyChange(irp.file.FCB.Name(), FILE_ACTION_REMOVED)
			}
		}
		return status, 0
	}
	return status, info.Information
}

// copyAnswer hands the answer buffer over to the caller. A
// buffer larger than the caller asked for is never truncated,
// the request fails instead. So does a caller without buffer.
func copyAnswer(
	irp *Irp, info *EventInformation, status ntstatus.Status,
) (ntstatus.Status, uint64) {
	if len(irp.buffer) == 0 || len(info.Buffer) > len(irp.buffer) {
		return ntstatus.STATUS_INSUFFICIENT_RESOURCES, 0
	}
	return status, uint64(copy(irp.buffer, info.Buffer))
}

func (d *Device) completeCreate(
	entry *pendingEntry, info *EventInformation, status ntstatus.Status,
) (ntstatus.Status, uint64) {
	fo := entry.irp.file
	if !status.IsSuccess() {
		return status, info.Information
	}
	if info.Flags&InfoDirectory != 0 {
		fo.FCB.setDirectory()
	}
	if entry.event.FileFlags&FlagDeleteOnClose != 0 {
		fo.FCB.setDeletePending(true)
	}
	fo.CCB.context.Store(info.Context)
	fo.CCB.setFlag(ccbOpened)
	if info.Information == FILE_CREATED {
		d.notifyChange(fo.FileName, FILE_ACTION_ADDED)
	}
	return status, info.Information
}

func (d *Device) completeSetInformation(
	irp *Irp, info *EventInformation, status ntstatus.Status,
) (ntstatus.Status, uint64) {
	if !status.IsSuccess() {
		return status, 0
	}
	fo := irp.file
	switch irp.setClass {
	case FileDispositionInformation:
		fo.FCB.setDeletePending(info.DeleteOnClose)
	case FileRenameInformation:
		name := string(info.Buffer)
		if name == "" {
			break
		}
		old := fo.FCB.Name()
		d.vcb.rename(fo.FCB, name)
		fo.FileName = name
		d.notifyChange(old, FILE_ACTION_RENAMED_OLD_NAME)
		d.notifyChange(name, FILE_ACTION_RENAMED_NEW_NAME)
	}
	return status, 0
}
