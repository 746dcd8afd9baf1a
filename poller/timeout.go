package poller

import (
	"math"
	"time"
)

// deadline tracks what is left of a wait budget across native retries.
type deadline struct {
	forever bool
	at      time.Time
}

func newDeadline(timeout time.Duration) deadline {
	if timeout < 0 {
		return deadline{forever: true}
	}
	return deadline{at: time.Now().Add(timeout)}
}

// remaining returns a negative duration for an unbounded wait, otherwise
// the time left, never below zero.
func (d deadline) remaining() time.Duration {
	if d.forever {
		return -1
	}
	r := time.Until(d.at)
	if r < 0 {
		return 0
	}
	return r
}

func (d deadline) expired() bool {
	return !d.forever && !time.Now().Before(d.at)
}

// millis converts a timeout for millisecond based facilities. Partial
// milliseconds round up so a wait never returns before the budget is spent.
func millis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
