package poller

import (
	"runtime"

	"github.com/Allenxuxu/toolkit/sync/atomic"
)

// wakeup coalesces notifications so at most one wake is outstanding.
// The waiter drains the native primitive before calling done, so a notify
// racing with the delivery folds into that delivery.
//
// Signals in flight are counted: Close sets its closed flag, then waits for
// the count to drop to zero before releasing the native primitive.
type wakeup struct {
	pending  atomic.Bool
	inflight atomic.Int64
}

// enter reports whether a signal may touch the native primitive. A true
// result must be paired with leave.
func (w *wakeup) enter(closed *atomic.Bool) bool {
	w.inflight.Add(1)
	if closed.Get() {
		w.inflight.Add(-1)
		return false
	}
	return true
}

func (w *wakeup) leave() {
	w.inflight.Add(-1)
}

// quiesce returns once no signal is in flight. closed must already be set.
func (w *wakeup) quiesce() {
	for w.inflight.Get() != 0 {
		runtime.Gosched()
	}
}

// begin reports whether the caller has to signal the native primitive.
func (w *wakeup) begin() bool {
	return w.pending.CompareAndSwap(false, true)
}

// abort gives the credit back after a failed signal.
func (w *wakeup) abort() {
	w.pending.Set(false)
}

func (w *wakeup) done() {
	w.pending.Set(false)
}
