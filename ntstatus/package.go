// Package ntstatus is the status domain shared by the driver
// side and the user mode library.
//
// Every operation relayed through the driver is completed
// with a Status, and backend errors, whatever their origin,
// are translated into one before they cross the boundary.
// The values are the NTSTATUS and Win32 codes of Windows,
// but defined here so that the protocol builds and runs on
// every platform.
package ntstatus
