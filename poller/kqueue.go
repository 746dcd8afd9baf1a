//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"sync"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"golang.org/x/sys/unix"
)

type registration struct {
	key      Key
	interest Interest
	// filters currently installed in the kqueue
	armed Interest
}

// Poller is a kqueue instance. Read and write readiness are two independent
// filters under one key.
type Poller struct {
	fd       int
	notifier *kqueueNotifier

	closed atomic.Bool
	wake   wakeup

	mu  sync.Mutex
	fds map[int]*registration

	// only touched by the single waiter
	events []unix.Kevent_t
	disarm []int
}

// Create allocates the kqueue instance and its notifier.
func Create(batch int) (*Poller, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}

	fd, err := unix.Kqueue()
	if err != nil {
		return nil, wrapErr("kqueue", err)
	}
	unix.CloseOnExec(fd)

	n, err := newKqueueNotifier(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &Poller{
		fd:       fd,
		notifier: n,
		fds:      make(map[int]*registration),
		events:   make([]unix.Kevent_t, batch),
	}, nil
}

// Notify wakes up the current or the next Wait.
func (p *Poller) Notify() error {
	if !p.wake.enter(&p.closed) {
		return ErrClosed
	}
	defer p.wake.leave()

	if !p.wake.begin() {
		return nil
	}

	if err := p.notifier.signal(p.fd); err != nil {
		p.wake.abort()
		return err
	}
	return nil
}

// Close releases the kqueue instance and the notifier.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.wake.quiesce()

	p.notifier.close()
	return wrapErr("close", unix.Close(p.fd))
}

func kevent(kq int, changes []unix.Kevent_t) error {
	for {
		_, err := unix.Kevent(kq, changes, nil, nil)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (p *Poller) change(fd int, filter int, flags int) error {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], fd, filter, flags)
	return kevent(p.fd, ev[:])
}

func addFlags(in Interest) int {
	flags := unix.EV_ADD | unix.EV_ENABLE
	if in.IsOneshot() {
		flags |= unix.EV_ONESHOT
	}
	return flags
}

// removeFilters deletes the given filters, ignoring the ones the kernel
// already dropped.
func (p *Poller) removeFilters(fd int, filters Interest) error {
	if filters.IsReadable() {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil && err != unix.ENOENT && err != unix.EBADF {
			return err
		}
	}
	if filters.IsWritable() {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil && err != unix.ENOENT && err != unix.EBADF {
			return err
		}
	}
	return nil
}

// Add registers src under key.
func (p *Poller) Add(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()
	if err := checkFd(fd); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fds[fd]; ok || p.notifier.internal(fd) {
		return opError("kevent", ErrAlreadyRegistered, unix.EEXIST)
	}

	var installed Interest
	if in.IsReadable() {
		if err := p.change(fd, unix.EVFILT_READ, addFlags(in)); err != nil {
			return wrapErr("kevent", err)
		}
		installed |= Readable
	}
	if in.IsWritable() {
		if err := p.change(fd, unix.EVFILT_WRITE, addFlags(in)); err != nil {
			_ = p.removeFilters(fd, installed)
			return wrapErr("kevent", err)
		}
		installed |= Writable
	}

	p.fds[fd] = &registration{key: key, interest: in, armed: installed}
	return nil
}

// Modify installs the filters in the new interest and deletes the others,
// re-arming oneshot registrations. On failure the filters changed so far
// are put back the way they were.
func (p *Poller) Modify(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.fds[fd]
	if !ok {
		return opError("kevent", ErrNotRegistered, unix.ENOENT)
	}

	var changed Interest
	for _, f := range [...]Interest{Readable, Writable} {
		var err error
		switch {
		case in&f != 0:
			err = p.change(fd, kfilter(f), addFlags(in))
		case reg.armed&f != 0:
			err = p.removeFilters(fd, f)
		default:
			continue
		}
		if err != nil {
			p.restore(fd, reg, changed)
			return wrapErr("kevent", err)
		}
		changed |= f
	}

	reg.key = key
	reg.interest = in
	reg.armed = in.Filters()
	return nil
}

func kfilter(f Interest) int {
	if f == Readable {
		return unix.EVFILT_READ
	}
	return unix.EVFILT_WRITE
}

// restore puts the filters in changed back to the state recorded in reg.
func (p *Poller) restore(fd int, reg *registration, changed Interest) {
	for _, f := range [...]Interest{Readable, Writable} {
		if changed&f == 0 {
			continue
		}
		if reg.armed&f != 0 {
			_ = p.change(fd, kfilter(f), addFlags(reg.interest))
		} else {
			_ = p.removeFilters(fd, f)
		}
	}
}

// Delete removes every filter of src. The descriptor is not closed.
func (p *Poller) Delete(src Source, key Key) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.fds[fd]
	if !ok {
		return opError("kevent", ErrNotRegistered, unix.ENOENT)
	}
	if err := p.removeFilters(fd, reg.armed); err != nil {
		return wrapErr("kevent", err)
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
		rem := dl.remaining()
		var ts *unix.Timespec
		if rem >= 0 {
			t := unix.NsecToTimespec(int64(rem))
			ts = &t
		}

		n, err := unix.Kevent(p.fd, nil, p.events, ts)
		if err != nil {
			if err == unix.EINTR {
				if dl.expired() {
					return c.count(), nil
				}
				continue
			}
			return 0, wrapErr("kevent", err)
		}

		woken := p.collect(c, n)
		if n == len(p.events) {
			p.events = make([]unix.Kevent_t, n*2)
		}

		if woken || c.count() > 0 || rem == 0 || dl.expired() {
			return c.count(), nil
		}
	}
}

func (p *Poller) collect(c collector, n int) (woken bool) {
	p.mu.Lock()
	p.disarm = p.disarm[:0]
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		if p.notifier.owns(ev) {
			woken = true
			continue
		}

		fd := int(ev.Ident)
		reg, ok := p.fds[fd]
		if !ok {
			continue
		}

		var e Event
		switch ev.Filter {
		case unix.EVFILT_READ:
			if !reg.armed.IsReadable() {
				continue
			}
			e.Readable = true
			if reg.interest.IsOneshot() {
				reg.armed &^= Readable
			}
		case unix.EVFILT_WRITE:
			if !reg.armed.IsWritable() {
				continue
			}
			e.Writable = true
			if reg.interest.IsOneshot() {
				reg.armed &^= Writable
			}
		default:
			continue
		}

		if ev.Flags&unix.EV_EOF != 0 {
			e.Hangup = true
			if ev.Fflags != 0 {
				e.Error = true
			}
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e.Error = true
		}
		e.Key = reg.key

		if reg.interest.IsOneshot() {
			p.disarm = append(p.disarm, fd)
		}
		c.add(e.mask(reg.interest))
	}

	// a oneshot registration is disarmed as a whole, not per filter
	for _, fd := range p.disarm {
		if reg, ok := p.fds[fd]; ok && reg.armed != None {
			_ = p.removeFilters(fd, reg.armed)
			reg.armed = None
		}
	}
	p.mu.Unlock()

	if woken {
		p.notifier.drain()
		p.wake.done()
	}
	return
}
