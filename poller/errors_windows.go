//go:build windows

package poller

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

func classify(err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return ErrTransport
	}

	switch errno {
	case windows.ERROR_INVALID_HANDLE, windows.ERROR_INVALID_PARAMETER,
		windows.WSAENOTSOCK, windows.WSAEINVAL:
		return ErrInvalidSource
	case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_NO_SYSTEM_RESOURCES,
		windows.ERROR_TOO_MANY_OPEN_FILES, windows.WSAENOBUFS, windows.WSAEMFILE:
		return ErrResourceExhausted
	}
	return ErrTransport
}
