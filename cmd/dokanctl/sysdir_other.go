//go:build !windows

package main

func systemDirectory() string {
	return `C:\Windows\System32`
}
