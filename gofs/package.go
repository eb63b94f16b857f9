// Package gofs aims at providing a simple but working
// Golang file system implementation for Dokan.
//
// The file system supports only file and directory, both
// of them can be opened by OpenFile operation, returning
// a file interface. The File interface should supports
// only read, write (append or random), close, seek, sync,
// readdir, truncate and stat operations.
//
// On the filesystem level, it supports Stat, OpenFile,
// Mkdir, Remove and Rename operations, plus Chmod and
// Chtimes when the file system has them. Names are
// backslash separated and rooted at `\`. Both Remove and
// Rename operations will never be called when there's
// open file under it, which is guarded by path locks.
//
// This makes it works even if the underlying file system
// is backed by a native directory through the language
// interfaces by Golang, see Dir.
package gofs
