// Package mountctl is the control channel of the mount
// service, which keeps the table of drive letters assigned
// to devices.
//
// File systems ask the service for a drive letter when they
// mount and give it back when they unmount, while the control
// tool lists the table, unmounts a drive and adjusts the
// debug level of the driver. Every message in both directions
// is a Control record of fixed size.
package mountctl
