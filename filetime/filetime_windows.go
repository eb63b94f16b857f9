package filetime

import (
	"syscall"
)

// Filetime converts the platform structure into ticks.
func Filetime(t syscall.Filetime) uint64 {
	return uint64(t.HighDateTime)<<32 | uint64(t.LowDateTime)
}

// ToFiletime converts ticks into the platform structure.
func ToFiletime(ticks uint64) syscall.Filetime {
	return syscall.Filetime{
		LowDateTime:  uint32(ticks),
		HighDateTime: uint32(ticks >> 32),
	}
}
