//go:build darwin || freebsd || dragonfly

package poller

import "golang.org/x/sys/unix"

// kqueueNotifier is an EVFILT_USER filter. EV_CLEAR resets it on delivery.
type kqueueNotifier struct{}

func newKqueueNotifier(kq int) (*kqueueNotifier, error) {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if err := kevent(kq, ev[:]); err != nil {
		return nil, wrapErr("kevent", err)
	}
	return &kqueueNotifier{}, nil
}

func (n *kqueueNotifier) signal(kq int) error {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], 0, unix.EVFILT_USER, 0)
	ev[0].Fflags = unix.NOTE_TRIGGER
	return wrapErr("kevent", kevent(kq, ev[:]))
}

func (n *kqueueNotifier) owns(ev *unix.Kevent_t) bool {
	return ev.Filter == unix.EVFILT_USER && ev.Ident == 0
}

func (n *kqueueNotifier) internal(fd int) bool { return false }

func (n *kqueueNotifier) drain() {}

func (n *kqueueNotifier) close() {}
