//go:build !windows

package errors

// isPlatformRetryable is a no-op on non-Windows platforms; the POSIX errno
// table in oserr.go covers the retryable cases
func isPlatformRetryable(err error) bool { return false }

func isPlatformRetryableText(s string) bool { return false }
