//go:build netbsd || openbsd || solaris

package poller

import "golang.org/x/sys/unix"

// selfPipe is a non-blocking pipe used as a notifier where the native
// facility has no user event of its own.
type selfPipe struct {
	r, w int
}

func newSelfPipe() (*selfPipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, wrapErr("pipe", err)
	}

	sp := &selfPipe{r: fds[0], w: fds[1]}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			sp.close()
			return nil, wrapErr("pipe", err)
		}
	}
	return sp, nil
}

var pipeByte = []byte{1}

// signal writes one byte. A full pipe already holds a pending wake.
func (sp *selfPipe) signal() error {
	for {
		_, err := unix.Write(sp.w, pipeByte)
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return wrapErr("pipe write", err)
		}
	}
}

func (sp *selfPipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(sp.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (sp *selfPipe) close() {
	_ = unix.Close(sp.r)
	_ = unix.Close(sp.w)
}
