// Package filetime converts between golang's timestamps and
// file timestamps, which count 100ns ticks since 1601.
//
// A file timestamp of zero means "not specified" in most of
// the structures carrying it, and it is mapped from and to
// the zero time.Time here.
package filetime
