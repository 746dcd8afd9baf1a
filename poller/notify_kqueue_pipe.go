//go:build netbsd || openbsd

package poller

import "golang.org/x/sys/unix"

// kqueueNotifier is a self pipe watched with EVFILT_READ.
type kqueueNotifier struct {
	pipe *selfPipe
}

func newKqueueNotifier(kq int) (*kqueueNotifier, error) {
	sp, err := newSelfPipe()
	if err != nil {
		return nil, err
	}

	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], sp.r, unix.EVFILT_READ, unix.EV_ADD)
	if err = kevent(kq, ev[:]); err != nil {
		sp.close()
		return nil, wrapErr("kevent", err)
	}
	return &kqueueNotifier{pipe: sp}, nil
}

func (n *kqueueNotifier) signal(kq int) error {
	return n.pipe.signal()
}

func (n *kqueueNotifier) owns(ev *unix.Kevent_t) bool {
	return ev.Filter == unix.EVFILT_READ && int(ev.Ident) == n.pipe.r
}

func (n *kqueueNotifier) internal(fd int) bool {
	return fd == n.pipe.r || fd == n.pipe.w
}

func (n *kqueueNotifier) drain() {
	n.pipe.drain()
}

func (n *kqueueNotifier) close() {
	n.pipe.close()
}
