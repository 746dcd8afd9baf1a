//go:build windows

package poller

import "golang.org/x/sys/windows"

// Socket wraps a socket handle. It must have been created for overlapped
// I/O and must not be associated with another completion port.
func Socket(h windows.Handle) Source {
	return Source(h)
}

func (s Source) handle() windows.Handle {
	return windows.Handle(s)
}
