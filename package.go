// Package dokan is the user mode side of the file system
// relay.
//
// A file system is described by the operations it offers,
// which are the Behaviour interfaces of this package. Mount
// attaches such a file system to a device, and a pool of
// workers keeps fetching the events of the device, running
// the operations and answering the device, until the file
// system is unmounted or the device goes away.
//
// The device is reached through its control surface only,
// so the in-process device of the driver package and a real
// device handle are interchangeable.
package dokan

// Version is the version of the library, which speaks the
// protocol of the driver of the same version.
const Version = 0x190
