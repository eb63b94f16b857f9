package procsd

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const infoMask = windows.OWNER_SECURITY_INFORMATION |
	windows.GROUP_SECURITY_INFORMATION |
	windows.DACL_SECURITY_INFORMATION

var (
	once sync.Once
	sd   *windows.SECURITY_DESCRIPTOR
	raw  []byte
	err  error
)

func load() {
	sd, err = windows.GetSecurityInfo(
		windows.CurrentProcess(),
		windows.SE_KERNEL_OBJECT, infoMask,
	)
	if err != nil {
		return
	}
	// The descriptor is self relative, so its bytes are
	// what a query of security answers with.
	length := int(sd.Length())
	raw = make([]byte, length)
	copy(raw, unsafe.Slice((*byte)(unsafe.Pointer(sd)), length))
}

// Load returns the security descriptor of the process.
func Load() (*windows.SECURITY_DESCRIPTOR, error) {
	once.Do(load)
	return sd, err
}

// Bytes returns the self relative form of the descriptor,
// which the caller must not modify.
func Bytes() ([]byte, error) {
	once.Do(load)
	return raw, err
}
