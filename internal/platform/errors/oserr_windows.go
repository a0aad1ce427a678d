//go:build windows

package errors

import (
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// isPlatformRetryable handles Windows-specific contention errors seen on
// rename/publish under antivirus or indexer locks: ERROR_SHARING_VIOLATION
// (32) and ERROR_ACCESS_DENIED surfaced transiently on an otherwise-writable path
func isPlatformRetryable(err error) bool {
	var errno syscall.Errno
	switch e := err.(type) {
	case syscall.Errno:
		errno = e
	default:
		return false
	}
	switch errno {
	case windows.ERROR_SHARING_VIOLATION, windows.ERROR_ACCESS_DENIED,
		windows.ERROR_LOCK_VIOLATION:
		return true
	default:
		return false
	}
}

func isPlatformRetryableText(s string) bool {
	return strings.Contains(s, "sharing violation") || strings.Contains(s, "access is denied")
}
