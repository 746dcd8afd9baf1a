package poller

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Signals aimed at the waiting thread itself make epoll_wait fail with
// EINTR every time.
func TestPoller_WaitInterruptedThread(t *testing.T) {
	p := newPoller(t)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pid, tid := unix.Getpid(), unix.Gettid()

	stop := interrupt(t, func() error {
		return unix.Tgkill(pid, tid, unix.SIGURG)
	})

	for _, timeout := range []time.Duration{time.Millisecond / 2, 100 * time.Millisecond} {
		start := time.Now()
		n, err := p.Wait(NewEvents(8), timeout)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.True(t, elapsed >= timeout, "%s wait returned after %s", timeout, elapsed)
	}
	assert.True(t, stop() > 0)
}
