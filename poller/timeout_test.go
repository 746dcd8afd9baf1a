package poller

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMillis(t *testing.T) {
	assert.Equal(t, -1, millis(-1))
	assert.Equal(t, 0, millis(0))
	assert.Equal(t, 1, millis(time.Nanosecond))
	assert.Equal(t, 1, millis(time.Millisecond))
	assert.Equal(t, 2, millis(time.Millisecond+time.Microsecond))
	assert.Equal(t, math.MaxInt32, millis(time.Duration(math.MaxInt64)))
}

func TestDeadline(t *testing.T) {
	forever := newDeadline(-1)
	assert.False(t, forever.expired())
	assert.True(t, forever.remaining() < 0)

	zero := newDeadline(0)
	assert.True(t, zero.expired())
	assert.Equal(t, time.Duration(0), zero.remaining())

	d := newDeadline(time.Hour)
	assert.False(t, d.expired())
	assert.True(t, d.remaining() > 59*time.Minute)
}
