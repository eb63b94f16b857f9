//go:build !windows

package ntstatus

func fromPlatformError(err error) (Status, bool) {
	return 0, false
}
