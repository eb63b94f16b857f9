//go:build !windows

package service

// Connect reaches the service control manager.
func Connect() (Manager, error) {
	return nil, ErrUnsupported
}
