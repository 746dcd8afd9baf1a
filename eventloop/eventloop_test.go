//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package eventloop

import (
	"errors"
	"testing"
	"time"

	"github.com/Allenxuxu/polling"
	"github.com/Allenxuxu/toolkit/sync"
	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type pipeSocket struct {
	fd     int
	loop   *EventLoop
	got    chan []byte
	closed atomic.Bool
}

func (s *pipeSocket) HandleEvent(ev polling.Event) {
	if !ev.Readable {
		return
	}
	buf := s.loop.PacketBuf()
	n, err := unix.Read(s.fd, buf)
	if err != nil || n == 0 {
		return
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	s.got <- out
}

func (s *pipeSocket) Close() error {
	s.closed.Set(true)
	return nil
}

func TestEventLoop_RunLoop(t *testing.T) {
	el, err := New(polling.Name("eventloop-test"))
	require.NoError(t, err)

	var count atomic.Int64
	wg := &sync.WaitGroupWrapper{}
	for i := 0; i < 10; i++ {
		wg.AddAndRun(func() {
			el.QueueInLoop(func() {
				count.Add(1)
			})
		})
	}

	done := make(chan error, 1)
	go func() { done <- el.RunLoop() }()

	wg.Wait()
	assert.Eventually(t, func() bool { return count.Get() == 10 }, time.Second, 10*time.Millisecond)

	require.NoError(t, el.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestEventLoop_Socket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	el, err := New()
	require.NoError(t, err)

	s := &pipeSocket{fd: fds[0], loop: el, got: make(chan []byte, 4)}
	require.NoError(t, el.AddSocket(polling.Fd(fds[0]), 1, polling.Readable, s))
	assert.Equal(t, int64(1), el.ConnectionCount())

	done := make(chan error, 1)
	go func() { done <- el.RunLoop() }()

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)
	select {
	case b := <-s.got:
		assert.Equal(t, "ping", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("no data")
	}

	require.NoError(t, el.Stop())
	<-done
	assert.True(t, s.closed.Get())
	assert.Equal(t, int64(0), el.ConnectionCount())
}

func TestEventLoop_RunAfter(t *testing.T) {
	el, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- el.RunLoop() }()

	fired := make(chan time.Time, 1)
	start := time.Now()
	el.RunAfter(50*time.Millisecond, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		assert.True(t, at.Sub(start) >= 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	require.NoError(t, el.Stop())
	<-done
}

func TestEventLoop_StopIdle(t *testing.T) {
	el, err := New()
	require.NoError(t, err)
	assert.NoError(t, el.Stop())
	assert.Equal(t, polling.ErrClosed, el.Stop())
}

func TestEventLoop_AddSocketKeyTaken(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	other, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(other[0])
	defer unix.Close(other[1])

	el, err := New()
	require.NoError(t, err)

	a := &pipeSocket{fd: fds[0], loop: el, got: make(chan []byte, 4)}
	b := &pipeSocket{fd: other[0], loop: el, got: make(chan []byte, 4)}
	require.NoError(t, el.AddSocket(polling.Fd(fds[0]), 1, polling.Readable, a))

	err = el.AddSocket(polling.Fd(other[0]), 1, polling.Readable, b)
	assert.True(t, errors.Is(err, polling.ErrAlreadyRegistered))
	assert.Equal(t, int64(1), el.ConnectionCount())

	done := make(chan error, 1)
	go func() { done <- el.RunLoop() }()

	_, err = unix.Write(fds[1], []byte("still a"))
	require.NoError(t, err)
	select {
	case got := <-a.got:
		assert.Equal(t, "still a", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("first socket lost its events")
	}

	require.NoError(t, el.Stop())
	<-done
	assert.True(t, a.closed.Get())
	assert.False(t, b.closed.Get())
}
