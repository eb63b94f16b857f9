// Package driver is the driver side of the user mode file
// system protocol.
//
// Callers issue file system operations on a Volume. Each
// operation is suspended as an Irp, described by an Event
// envelope, recorded in the pending registry of its Device
// and queued on the device's notification channel. User mode
// workers fetch the envelopes through the device control
// surface, answer them with an EventInformation keyed by the
// envelope's serial number, and the completion matcher wakes
// the suspended caller with the translated result.
//
// Completion, cancellation, timeout and unmount all race for
// the same Irp, and exactly one of them wins by claiming it.
package driver
