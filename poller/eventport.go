//go:build solaris

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
	armed    bool
}

// Poller is an event port. Associations are dropped by the kernel on every
// delivery, persistent registrations are associated again right away.
type Poller struct {
	port *unix.EventPort
	pipe *selfPipe

	closed atomic.Bool
	wake   wakeup

	mu  sync.Mutex
	fds map[int]*registration

	// only touched by the single waiter
	events []unix.PortEvent
}

// Create allocates the event port and its notifier.
func Create(batch int) (*Poller, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}

	port, err := unix.NewEventPort()
	if err != nil {
		return nil, wrapErr("port_create", err)
	}

	sp, err := newSelfPipe()
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	if err = port.AssociateFd(uintptr(sp.r), unix.POLLIN, nil); err != nil {
		sp.close()
		_ = port.Close()
		return nil, wrapErr("port_associate", err)
	}

	return &Poller{
		port:   port,
		pipe:   sp,
		fds:    make(map[int]*registration),
		events: make([]unix.PortEvent, batch),
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

	if err := p.pipe.signal(); err != nil {
		p.wake.abort()
		return err
	}
	return nil
}

// Close releases the event port and the notifier.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.wake.quiesce()

	err := p.port.Close()
	p.pipe.close()
	return wrapErr("close", err)
}

func toPoll(in Interest) int {
	var events int
	if in.IsReadable() {
		events |= unix.POLLIN
	}
	if in.IsWritable() {
		events |= unix.POLLOUT
	}
	return events
}

func (p *Poller) associate(fd int, reg *registration) error {
	if reg.interest.Filters() == None {
		reg.armed = false
		return nil
	}
	if err := p.port.AssociateFd(uintptr(fd), toPoll(reg.interest), reg); err != nil {
		return wrapErr("port_associate", err)
	}
	reg.armed = true
	return nil
}

func (p *Poller) dissociate(fd int) error {
	if !p.port.FdIsWatched(uintptr(fd)) {
		return nil
	}
	err := p.port.DissociateFd(uintptr(fd))
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return wrapErr("port_dissociate", err)
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

	if _, ok := p.fds[fd]; ok || fd == p.pipe.r || fd == p.pipe.w {
		return opError("port_associate", ErrAlreadyRegistered, unix.EEXIST)
	}

	reg := &registration{key: key, interest: in}
	if err := p.associate(fd, reg); err != nil {
		return err
	}
	p.fds[fd] = reg
	return nil
}

// Modify is a dissociate followed by an associate with the new interest.
func (p *Poller) Modify(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	old, ok := p.fds[fd]
	if !ok {
		return opError("port_associate", ErrNotRegistered, unix.ENOENT)
	}
	wasArmed := old.armed
	if err := p.dissociate(fd); err != nil {
		return err
	}

	// a fresh cookie makes events queued for the old association stale
	reg := &registration{key: key, interest: in}
	if err := p.associate(fd, reg); err != nil {
		p.reassociate(fd, old, wasArmed)
		return err
	}
	p.fds[fd] = reg
	return nil
}

// reassociate brings back the association old had before a failed Modify.
// When the port refuses, old stays in the table disarmed, which is what the
// port holds for it.
func (p *Poller) reassociate(fd int, old *registration, armed bool) {
	old.armed = false
	if !armed {
		return
	}
	_ = p.associate(fd, old)
}

// Delete dissociates src. The descriptor is not closed.
func (p *Poller) Delete(src Source, key Key) error {
	if p.closed.Get() {
		return ErrClosed
	}
	fd := src.fd()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fds[fd]; !ok {
		return opError("port_dissociate", ErrNotRegistered, unix.ENOENT)
	}
	if err := p.dissociate(fd); err != nil {
		return err
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

		n, err := p.port.Get(p.events, 1, ts)
		if err != nil && err != unix.ETIME {
			if err == unix.EINTR {
				if dl.expired() {
					return c.count(), nil
				}
				continue
			}
			return 0, wrapErr("port_getn", err)
		}

		woken := p.collect(c, n)
		if n == len(p.events) {
			p.events = make([]unix.PortEvent, n*2)
		}

		if woken || c.count() > 0 || rem == 0 || dl.expired() {
			return c.count(), nil
		}
	}
}

func (p *Poller) collect(c collector, n int) (woken bool) {
	p.mu.Lock()
	for i := 0; i < n; i++ {
		pe := &p.events[i]
		fd := int(pe.Fd)
		if fd == p.pipe.r {
			woken = true
			continue
		}

		reg, ok := p.fds[fd]
		if !ok || !reg.armed {
			continue
		}
		if cookie, _ := pe.Cookie.(*registration); cookie != reg {
			continue
		}

		e := pollToEvent(reg, pe.Events)
		reg.armed = false
		if !reg.interest.IsOneshot() {
			if err := p.associate(fd, reg); err != nil {
				e.Error = true
			}
		}
		c.add(e.mask(reg.interest))
	}
	p.mu.Unlock()

	if woken {
		p.pipe.drain()
		_ = p.port.AssociateFd(uintptr(p.pipe.r), unix.POLLIN, nil)
		p.wake.done()
	}
	return
}

func pollToEvent(reg *registration, revents int32) Event {
	failed := revents&(unix.POLLERR|unix.POLLNVAL) != 0
	hup := revents&unix.POLLHUP != 0

	return Event{
		Key:      reg.key,
		Readable: revents&(unix.POLLIN|unix.POLLPRI) != 0 || hup || failed,
		Writable: revents&unix.POLLOUT != 0 || hup || failed,
		Error:    failed,
		Hangup:   hup,
	}
}
