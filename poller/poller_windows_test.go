//go:build windows

package poller

import (
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

// tcpPair returns a connected pair of overlapped sockets that no completion
// port owns yet.
func tcpPair(t *testing.T) (windows.Handle, windows.Handle) {
	newSocket := func() windows.Handle {
		s, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
		require.NoError(t, err)
		t.Cleanup(func() { _ = windows.Closesocket(s) })
		return s
	}

	ls := newSocket()
	require.NoError(t, windows.Bind(ls, &windows.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, windows.Listen(ls, 1))
	sa, err := windows.Getsockname(ls)
	require.NoError(t, err)

	as := newSocket()
	c := newSocket()

	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	require.NoError(t, err)
	defer windows.CloseHandle(ev)

	var (
		o     = windows.Overlapped{HEvent: ev}
		buf   [64]byte
		recvd uint32
	)
	err = windows.AcceptEx(ls, as, &buf[0], 0, 32, 32, &recvd, &o)
	if err != nil && err != windows.ERROR_IO_PENDING {
		require.NoError(t, err)
	}
	require.NoError(t, windows.Connect(c, sa))
	require.NoError(t, windows.GetOverlappedResult(ls, &o, &recvd, true))
	require.NoError(t, windows.Setsockopt(as, windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&ls)), int32(unsafe.Sizeof(ls))))

	return as, c
}

func send(t *testing.T, s windows.Handle, data []byte) {
	var sent uint32
	b := windows.WSABuf{Len: uint32(len(data)), Buf: &data[0]}
	require.NoError(t, windows.WSASend(s, &b, 1, &sent, 0, nil, nil))
	require.Equal(t, uint32(len(data)), sent)
}

func newPoller(t *testing.T) *Poller {
	p, err := Create(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoller_Notify(t *testing.T) {
	p := newPoller(t)
	require.NoError(t, p.Notify())
	require.NoError(t, p.Notify())

	n, err := p.Wait(NewEvents(8), -1)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	start := time.Now()
	n, err = p.Wait(NewEvents(8), 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestPoller_Readable(t *testing.T) {
	p := newPoller(t)
	a, b := tcpPair(t)
	require.NoError(t, p.Add(Socket(a), 1, Readable))

	send(t, b, []byte("x"))

	events := NewEvents(8)
	for i := 0; i < 2; i++ {
		events.Clear()
		n, err := p.Wait(events, time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.Equal(t, Event{Key: 1, Readable: true}, events.At(0))
	}
}

func TestPoller_Oneshot(t *testing.T) {
	p := newPoller(t)
	a, _ := tcpPair(t)
	require.NoError(t, p.Add(Socket(a), 2, Writable|Oneshot))

	events := NewEvents(8)
	n, err := p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events.At(0).Writable)

	events.Clear()
	n, err = p.Wait(events, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, p.Modify(Socket(a), 3, Writable|Oneshot))
	n, err = p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Key(3), events.At(0).Key)
}

func TestPoller_Registration(t *testing.T) {
	p := newPoller(t)
	a, _ := tcpPair(t)

	require.NoError(t, p.Add(Socket(a), 1, Readable))
	assert.True(t, errors.Is(p.Add(Socket(a), 1, Readable), ErrAlreadyRegistered))
	require.NoError(t, p.Delete(Socket(a), 1))
	assert.True(t, errors.Is(p.Delete(Socket(a), 1), ErrNotRegistered))

	// the association with the port survives, adding again must work
	require.NoError(t, p.Add(Socket(a), 1, Readable))

	assert.True(t, errors.Is(p.Add(Socket(windows.InvalidHandle), 5, Readable), ErrInvalidSource))
}

func TestPoller_Close(t *testing.T) {
	p, err := Create(16)
	require.NoError(t, err)
	a, _ := tcpPair(t)
	require.NoError(t, p.Add(Socket(a), 1, Readable))

	assert.NoError(t, p.Close())
	assert.Equal(t, ErrClosed, p.Close())
	_, err = p.Wait(NewEvents(1), 0)
	assert.Equal(t, ErrClosed, err)
}

func TestPoller_ModifyFailureKeepsRegistration(t *testing.T) {
	p := newPoller(t)
	a, b := tcpPair(t)
	require.NoError(t, p.Add(Socket(a), 3, Readable))

	// sends on a shut down socket fail right away
	require.NoError(t, windows.Shutdown(a, windows.SHUT_WR))
	assert.Error(t, p.Modify(Socket(a), 9, Both))

	p.mu.Lock()
	reg := p.fds[a]
	p.mu.Unlock()
	require.NotNil(t, reg)
	assert.Equal(t, Key(3), reg.key)
	assert.Equal(t, Readable, reg.interest)

	send(t, b, []byte("x"))
	events := NewEvents(8)
	n, err := p.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Event{Key: 3, Readable: true}, events.At(0))
}
