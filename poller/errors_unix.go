//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

func classify(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ErrTransport
	}

	switch errno {
	case unix.EBADF, unix.EPERM, unix.ENOTSOCK, unix.EINVAL:
		return ErrInvalidSource
	case unix.EEXIST:
		return ErrAlreadyRegistered
	case unix.ENOENT:
		return ErrNotRegistered
	case unix.ENOMEM, unix.ENOSPC, unix.EMFILE, unix.ENFILE:
		return ErrResourceExhausted
	}
	return ErrTransport
}

// checkFd rejects descriptors that are not open.
func checkFd(fd int) error {
	if fd < 0 {
		return opError("check", ErrInvalidSource, unix.EBADF)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return wrapErr("check", err)
	}
	return nil
}
