//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"time"

	"github.com/Allenxuxu/polling"
	"github.com/Allenxuxu/polling/eventloop"
	"github.com/Allenxuxu/polling/log"
	"github.com/Allenxuxu/ringbuffer"
	"github.com/Allenxuxu/toolkit/convert"
	"github.com/gobwas/pool/pbytes"
	"golang.org/x/sys/unix"
)

const readSize = 4096

// connection echoes what it reads. It is registered oneshot and re-armed
// after every event, with write interest only while output is pending.
type connection struct {
	fd        int
	key       polling.Key
	outBuffer *ringbuffer.RingBuffer // write buffer
	loop      *eventloop.EventLoop

	idleTime   time.Duration
	activeTime time.Time
	closed     bool
}

func newConnection(fd int, key polling.Key, loop *eventloop.EventLoop, idle time.Duration) *connection {
	return &connection{
		fd:         fd,
		key:        key,
		outBuffer:  ringbuffer.New(1024),
		loop:       loop,
		idleTime:   idle,
		activeTime: time.Now(),
	}
}

// HandleEvent 内部使用，eventloop 回调
func (c *connection) HandleEvent(ev polling.Event) {
	if c.closed {
		return
	}
	if ev.Error {
		c.handleClose()
		return
	}

	if ev.Writable {
		if !c.handleWrite() {
			return
		}
	}
	if ev.Readable || ev.Hangup {
		if !c.handleRead() {
			return
		}
	}
	c.rearm()
}

func (c *connection) handleRead() bool {
	buf := pbytes.GetLen(readSize)
	defer pbytes.Put(buf)

	n, err := unix.Read(c.fd, buf)
	if n == 0 || err != nil {
		if err == unix.EAGAIN {
			return true
		}
		c.handleClose()
		return false
	}
	c.activeTime = time.Now()

	if log.Enabled(log.LevelDebug) {
		log.Debugf("[echo] key %d read %q", c.key, convert.BytesToString(buf[:n]))
	}
	return c.send(buf[:n])
}

func (c *connection) handleWrite() bool {
	first, end := c.outBuffer.PeekAll()
	n, err := unix.Write(c.fd, first)
	if err != nil {
		if err == unix.EAGAIN {
			return true
		}
		c.handleClose()
		return false
	}
	c.outBuffer.Retrieve(n)

	if n == len(first) && len(end) > 0 {
		n, err = unix.Write(c.fd, end)
		if err != nil {
			if err == unix.EAGAIN {
				return true
			}
			c.handleClose()
			return false
		}
		c.outBuffer.Retrieve(n)
	}
	return true
}

func (c *connection) send(data []byte) bool {
	if c.outBuffer.Length() > 0 {
		_, _ = c.outBuffer.Write(data)
		return true
	}

	n, err := unix.Write(c.fd, data)
	if err != nil {
		if err == unix.EAGAIN {
			_, _ = c.outBuffer.Write(data)
			return true
		}
		c.handleClose()
		return false
	}
	if n < len(data) {
		_, _ = c.outBuffer.Write(data[n:])
	}
	return true
}

func (c *connection) rearm() {
	in := polling.Readable | polling.Oneshot
	if c.outBuffer.Length() > 0 {
		in |= polling.Writable
	}
	if err := c.loop.Modify(polling.Fd(c.fd), c.key, in); err != nil {
		log.Error("[rearm] ", err)
		c.handleClose()
	}
}

// startIdleCheck closes the connection once it stayed quiet for idleTime.
func (c *connection) startIdleCheck() {
	if c.idleTime <= 0 {
		return
	}
	c.loop.RunAfter(c.idleTime, c.checkIdle)
}

func (c *connection) checkIdle() {
	if c.closed {
		return
	}
	intervals := time.Since(c.activeTime)
	if intervals >= c.idleTime {
		log.Debugf("[echo] key %d idle for %s", c.key, intervals)
		c.handleClose()
		return
	}
	c.loop.RunAfter(c.idleTime-intervals, c.checkIdle)
}

func (c *connection) handleClose() {
	if c.closed {
		return
	}
	c.loop.DeleteSocket(polling.Fd(c.fd), c.key)
	_ = c.Close()
}

// Close the socket.
func (c *connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}
