//go:build windows

package poller

import (
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"golang.org/x/sys/windows"
)

// notifyCompletionKey marks packets posted by Notify.
const notifyCompletionKey = ^uintptr(0)

const fionread = 0x4004667f

// ioOp is a zero-byte overlapped operation whose completion stands for
// readiness. The Overlapped must stay first: completions are mapped back to
// the operation through its address.
type ioOp struct {
	o       windows.Overlapped
	reg     *registration
	filter  Interest
	buf     windows.WSABuf
	flags   uint32
	qty     uint32
	pending bool
}

type registration struct {
	key      Key
	handle   windows.Handle
	interest Interest
	armed    bool
	read     *ioOp
	write    *ioOp
}

// Poller is an I/O completion port. Readiness is emulated with zero-byte
// WSARecv and WSASend calls which complete once the socket could read or
// write without blocking.
type Poller struct {
	port  windows.Handle
	batch int

	closed atomic.Bool
	wake   wakeup

	mu  sync.Mutex
	fds map[windows.Handle]*registration
	// sockets stay associated with the port until they are closed
	associated map[windows.Handle]struct{}
	// cancelled operations whose completion has not been dequeued yet
	retired map[*ioOp]struct{}
}

// Create allocates the completion port.
func Create(batch int) (*Poller, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}

	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, wrapErr("CreateIoCompletionPort", err)
	}

	return &Poller{
		port:       port,
		batch:      batch,
		fds:        make(map[windows.Handle]*registration),
		associated: make(map[windows.Handle]struct{}),
		retired:    make(map[*ioOp]struct{}),
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

	if err := windows.PostQueuedCompletionStatus(p.port, 0, notifyCompletionKey, nil); err != nil {
		p.wake.abort()
		return wrapErr("PostQueuedCompletionStatus", err)
	}
	return nil
}

// Close cancels the outstanding operations and releases the port.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.wake.quiesce()

	p.mu.Lock()
	for h, reg := range p.fds {
		p.retire(reg)
		delete(p.fds, h)
	}
	p.mu.Unlock()

	// the kernel writes into the Overlapped of a cancelled operation, wait
	// for those completions before the memory can go away
	for i := 0; i < 10; i++ {
		p.mu.Lock()
		left := len(p.retired)
		p.mu.Unlock()
		if left == 0 {
			break
		}
		if _, err := p.dequeue(collector{}, 10); err != nil {
			break
		}
	}

	return wrapErr("CloseHandle", windows.CloseHandle(p.port))
}

// issue starts the zero-byte operation of op unless it is in flight.
func (p *Poller) issue(op *ioOp) error {
	if op.pending {
		return nil
	}

	op.o = windows.Overlapped{}
	op.qty = 0
	op.flags = 0

	name := "WSARecv"
	var err error
	if op.filter == Readable {
		err = windows.WSARecv(op.reg.handle, &op.buf, 1, &op.qty, &op.flags, &op.o, nil)
	} else {
		name = "WSASend"
		err = windows.WSASend(op.reg.handle, &op.buf, 1, &op.qty, 0, &op.o, nil)
	}
	if err != nil && err != windows.ERROR_IO_PENDING {
		return wrapErr(name, err)
	}

	op.pending = true
	return nil
}

// cancel stops op and keeps it alive until its completion shows up.
func (p *Poller) cancel(op *ioOp) {
	if op == nil || !op.pending {
		return
	}
	_ = windows.CancelIoEx(op.reg.handle, &op.o)
	p.retired[op] = struct{}{}
}

func (p *Poller) retire(reg *registration) {
	p.cancel(reg.read)
	p.cancel(reg.write)
	reg.read, reg.write = nil, nil
	reg.armed = false
}

// arm issues one operation per requested filter and cancels the others.
func (p *Poller) arm(reg *registration) error {
	if reg.interest.IsReadable() {
		if reg.read == nil {
			reg.read = &ioOp{reg: reg, filter: Readable}
		}
		if err := p.issue(reg.read); err != nil {
			return err
		}
	} else {
		p.cancel(reg.read)
		reg.read = nil
	}

	if reg.interest.IsWritable() {
		if reg.write == nil {
			reg.write = &ioOp{reg: reg, filter: Writable}
		}
		if err := p.issue(reg.write); err != nil {
			return err
		}
	} else {
		p.cancel(reg.write)
		reg.write = nil
	}

	reg.armed = true
	return nil
}

// Add associates src with the port and starts its operations.
func (p *Poller) Add(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	h := src.handle()
	if h == 0 || h == windows.InvalidHandle {
		return opError("CreateIoCompletionPort", ErrInvalidSource, windows.ERROR_INVALID_HANDLE)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fds[h]; ok {
		return opError("CreateIoCompletionPort", ErrAlreadyRegistered, nil)
	}

	if _, ok := p.associated[h]; !ok {
		if _, err := windows.CreateIoCompletionPort(h, p.port, uintptr(h), 0); err != nil {
			return wrapErr("CreateIoCompletionPort", err)
		}
		p.associated[h] = struct{}{}
	}

	reg := &registration{key: key, handle: h, interest: in}
	if err := p.arm(reg); err != nil {
		p.retire(reg)
		return err
	}
	p.fds[h] = reg
	return nil
}

// Modify updates the interest, cancelling operations no longer wanted and
// re-arming oneshot registrations.
func (p *Poller) Modify(src Source, key Key, in Interest) error {
	if p.closed.Get() {
		return ErrClosed
	}
	h := src.handle()

	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.fds[h]
	if !ok {
		return opError("WSARecv", ErrNotRegistered, nil)
	}

	prevKey, prevIn, prevArmed := reg.key, reg.interest, reg.armed
	reg.key = key
	reg.interest = in
	if err := p.arm(reg); err != nil {
		reg.key = prevKey
		reg.interest = prevIn
		if prevArmed {
			_ = p.arm(reg)
		} else {
			p.retire(reg)
		}
		return err
	}
	return nil
}

// Delete cancels the operations of src. The association with the port
// outlives the registration; the socket is not closed.
func (p *Poller) Delete(src Source, key Key) error {
	if p.closed.Get() {
		return ErrClosed
	}
	h := src.handle()

	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.fds[h]
	if !ok {
		return opError("CancelIoEx", ErrNotRegistered, nil)
	}

	p.retire(reg)
	delete(p.fds, h)
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
		ms := uint32(windows.INFINITE)
		if rem >= 0 {
			ms = uint32(millis(rem))
		}

		woken, err := p.dequeue(c, ms)
		if err != nil {
			return 0, err
		}

		if woken || c.count() > 0 || rem == 0 || dl.expired() {
			return c.count(), nil
		}
	}
}

// dequeue blocks for the first packet at most ms milliseconds, then takes
// whatever else is already queued, up to the batch size.
func (p *Poller) dequeue(c collector, ms uint32) (woken bool, err error) {
	for i := 0; i < p.batch; i++ {
		var qty uint32
		var key uintptr
		var ov *windows.Overlapped

		qerr := windows.GetQueuedCompletionStatus(p.port, &qty, &key, &ov, ms)
		ms = 0
		if ov == nil {
			if qerr != nil {
				if errno, ok := qerr.(syscall.Errno); ok {
					switch errno {
					case windows.WAIT_TIMEOUT:
						return woken, nil
					case windows.ERROR_ABANDONED_WAIT_0, windows.ERROR_INVALID_HANDLE:
						return woken, ErrClosed
					}
				}
				return woken, wrapErr("GetQueuedCompletionStatus", qerr)
			}
			if key == notifyCompletionKey {
				if !woken {
					p.wake.done()
				}
				woken = true
			}
			continue
		}

		p.complete(c, (*ioOp)(unsafe.Pointer(ov)), qerr)
	}
	return
}

func (p *Poller) complete(c collector, op *ioOp, ioErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op.pending = false
	if _, ok := p.retired[op]; ok {
		delete(p.retired, op)
		return
	}

	reg := op.reg
	if p.fds[reg.handle] != reg || !reg.armed || c.events == nil {
		return
	}

	e := Event{Key: reg.key}
	if op.filter == Readable {
		e.Readable = true
	} else {
		e.Writable = true
	}

	if ioErr != nil {
		if ioErr == windows.ERROR_OPERATION_ABORTED {
			return
		}
		e.Error = true
		switch ioErr {
		case windows.WSAECONNRESET, windows.WSAECONNABORTED, windows.ERROR_NETNAME_DELETED:
			e.Hangup = true
		}
	} else if op.filter == Readable && available(reg.handle) == 0 {
		// a zero-byte receive that completes with nothing buffered is EOF
		e.Hangup = true
	}

	if reg.interest.IsOneshot() {
		reg.armed = false
		p.cancel(reg.read)
		p.cancel(reg.write)
		reg.read, reg.write = nil, nil
	} else if err := p.issue(op); err != nil {
		e.Error = true
	}

	c.add(e.mask(reg.interest))
}

func available(h windows.Handle) int {
	var n uint32
	var ret uint32
	err := windows.WSAIoctl(h, fionread, nil, 0, (*byte)(unsafe.Pointer(&n)), uint32(unsafe.Sizeof(n)), &ret, nil, 0)
	if err != nil {
		return -1
	}
	return int(n)
}
