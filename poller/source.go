package poller

import (
	"syscall"
)

// Source is a borrowed raw I/O object: a file descriptor on unix, a socket
// handle on windows. The poller never closes it.
type Source uintptr

// SourceOf returns the raw handle behind c. The caller keeps ownership of c
// and must keep it open while the source is registered.
func SourceOf(c syscall.Conn) (Source, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return 0, opError("source", ErrInvalidSource, err)
	}

	var s Source
	if err = rc.Control(func(fd uintptr) {
		s = Source(fd)
	}); err != nil {
		return 0, opError("source", ErrInvalidSource, err)
	}
	return s, nil
}
