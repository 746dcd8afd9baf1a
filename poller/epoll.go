//go:build linux

package poller

import (
	"sync"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
)

type registration struct {
	key      Key
	interest Interest
	armed    bool
}

// Poller is an epoll instance with an eventfd notifier and, when the kernel
// allows it, a timerfd for timeouts finer than a millisecond.
type Poller struct {
	fd      int
	eventFd int
	timerFd int

	closed atomic.Bool
	wake   wakeup

	mu  sync.Mutex
	fds map[int]*registration

	// only touched by the single waiter
	events     []unix.EpollEvent
	timerArmed bool
}

// Create allocates the epoll instance and its notifier.
func Create(batch int) (*Poller, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}

	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapErr("epoll_create1", err)
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, wrapErr("eventfd", err)
	}

	err = unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, eventFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(eventFd),
	})
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(eventFd)
		return nil, wrapErr("epoll_ctl", err)
	}

	p := &Poller{
		fd:      fd,
		eventFd: eventFd,
		timerFd: -1,
		fds:     make(map[int]*registration),
		events:  make([]unix.EpollEvent, batch),
	}
	p.timerFd = p.createTimer()
	return p, nil
}

// createTimer returns -1 when timerfd is unavailable; waits then fall back
// to the millisecond timeout of epoll_wait.
func (p *Poller) createTimer() int {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1
	}

	err = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, tfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(tfd),
	})
	if err != nil {
		_ = unix.Close(tfd)
		return -1
	}
	return tfd
}

var wakeBytes = []byte{1, 0, 0, 0, 0, 0, 0, 0}

// Notify wakes up the current or the next Wait.
func (p *Poller) Notify() error {
	if !p.wake.enter(&p.closed) {
		return ErrClosed
	}
	defer p.wake.leave()

	if !p.wake.begin() {
		return nil
	}

	_, err := unix.Write(p.eventFd, wakeBytes)
	if err != nil && err != unix.EAGAIN {
		p.wake.abort()
		return wrapErr("eventfd write", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.eventFd, buf[:])
	p.wake.done()
}

// Close releases the epoll instance, the notifier and the timer. Registered
// sources are left untouched.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.wake.quiesce()

	if p.timerFd >= 0 {
		_ = unix.Close(p.timerFd)
	}
	_ = unix.Close(p.eventFd)
	return wrapErr("close", unix.Close(p.fd))
}

func toEpoll(in Interest) uint32 {
	var events uint32
	if in.IsReadable() {
		events |= readEvents
	}
	if in.IsWritable() {
		events |= writeEvents
	}
	// error and hangup are always reported, keep a silent registration from
	// firing more than once
	if in.IsOneshot() || in.Filters() == None {
		events |= unix.EPOLLONESHOT
	}
	return events
}

func (p *Poller) internal(fd int) bool {
	return fd == p.eventFd || (p.timerFd >= 0 && fd == p.timerFd)
}

// Add registers src under key.
func (p *Poller) Add(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()
	if fd < 0 {
		return opError("epoll_ctl", ErrInvalidSource, unix.EBADF)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fds[fd]; ok || p.internal(fd) {
		return opError("epoll_ctl", ErrAlreadyRegistered, unix.EEXIST)
	}

	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpoll(in),
		Fd:     int32(fd),
	})
	if err != nil {
		return wrapErr("epoll_ctl", err)
	}

	p.fds[fd] = &registration{key: key, interest: in, armed: true}
	return nil
}

// Modify changes the interest of src and re-arms it.
func (p *Poller) Modify(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.fds[fd]
	if !ok {
		return opError("epoll_ctl", ErrNotRegistered, unix.ENOENT)
	}

	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpoll(in),
		Fd:     int32(fd),
	})
	if err != nil {
		return wrapErr("epoll_ctl", err)
	}

	reg.key = key
	reg.interest = in
	reg.armed = true
	return nil
}

// Delete removes src. The descriptor is not closed.
func (p *Poller) Delete(src Source, key Key) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fds[fd]; !ok {
		return opError("epoll_ctl", ErrNotRegistered, unix.ENOENT)
	}

	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return wrapErr("epoll_ctl", err)
	}

	delete(p.fds, fd)
	return nil
}

// Wait blocks until a registered source is ready, Notify is called or the
// timeout elapses. A negative timeout blocks forever, zero never blocks.
// Events are appended to events and their number is returned.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	if p.closed.Get() {
		return 0, ErrClosed
	}

	dl := newDeadline(timeout)
	c := events.begin()
	for {
		msec, err := p.armTimer(dl)
		if err != nil {
			return 0, err
		}

		n, err := unix.EpollWait(p.fd, p.events, msec)
		if err != nil {
			if err == unix.EINTR {
				if dl.expired() {
					return c.count(), nil
				}
				continue
			}
			return 0, wrapErr("epoll_wait", err)
		}

		woken := p.collect(c, n)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, n*2)
		}

		if woken || c.count() > 0 || msec == 0 || dl.expired() {
			return c.count(), nil
		}
	}
}

// armTimer prepares the timeout of the next epoll_wait.
func (p *Poller) armTimer(dl deadline) (int, error) {
	rem := dl.remaining()
	if p.timerFd < 0 {
		return millis(rem), nil
	}

	if rem <= 0 {
		if p.timerArmed {
			if err := unix.TimerfdSettime(p.timerFd, 0, &unix.ItimerSpec{}, nil); err != nil {
				return 0, wrapErr("timerfd_settime", err)
			}
			p.timerArmed = false
		}
		if rem == 0 {
			return 0, nil
		}
		return -1, nil
	}

	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(rem))}
	if err := unix.TimerfdSettime(p.timerFd, 0, &spec, nil); err != nil {
		return 0, wrapErr("timerfd_settime", err)
	}
	p.timerArmed = true
	return -1, nil
}

func (p *Poller) collect(c collector, n int) (woken bool) {
	p.mu.Lock()
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.eventFd {
			woken = true
			continue
		}
		if fd == p.timerFd {
			continue
		}

		reg, ok := p.fds[fd]
		if !ok || !reg.armed {
			continue
		}
		if reg.interest.IsOneshot() {
			reg.armed = false
		}
		c.add(epollToEvent(reg, p.events[i].Events))
	}
	p.mu.Unlock()

	if woken {
		p.drainWake()
	}
	return
}

func epollToEvent(reg *registration, flags uint32) Event {
	failed := flags&unix.EPOLLERR != 0
	hup := flags&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0

	return Event{
		Key:      reg.key,
		Readable: flags&(unix.EPOLLIN|unix.EPOLLPRI) != 0 || hup || failed,
		Writable: flags&unix.EPOLLOUT != 0 || flags&unix.EPOLLHUP != 0 || failed,
		Error:    failed,
		Hangup:   hup,
	}.mask(reg.interest)
}
