package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterest_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "readable", Readable.String())
	assert.Equal(t, "readable|writable|oneshot", (Both | Oneshot).String())
	assert.Equal(t, "none|oneshot", Oneshot.String())
}

func TestInterest_Filters(t *testing.T) {
	in := Writable | Oneshot
	assert.True(t, in.IsWritable())
	assert.False(t, in.IsReadable())
	assert.True(t, in.IsOneshot())
	assert.Equal(t, Writable, in.Filters())
}

func TestEvent_Mask(t *testing.T) {
	e := Event{Key: 7, Readable: true, Writable: true, Error: true, Hangup: true}

	m := e.mask(Readable)
	assert.Equal(t, Event{Key: 7, Readable: true, Error: true, Hangup: true}, m)

	m = e.mask(None | Oneshot)
	assert.True(t, m.Empty())
}

func TestEvents_MergeSameKey(t *testing.T) {
	events := NewEvents(4)
	events.list = append(events.list, Event{Key: 1, Readable: true})

	c := events.begin()
	c.add(Event{Key: 2, Readable: true})
	c.add(Event{Key: 3})
	c.add(Event{Key: 2, Writable: true})
	c.add(Event{Key: 1, Writable: true})

	assert.Equal(t, 2, c.count())
	assert.Equal(t, 3, events.Len())
	assert.Equal(t, Event{Key: 1, Readable: true}, events.At(0))
	assert.Equal(t, Event{Key: 2, Readable: true, Writable: true}, events.At(1))
	assert.Equal(t, Event{Key: 1, Writable: true}, events.At(2))

	events.Clear()
	assert.Equal(t, 0, events.Len())
	assert.Empty(t, events.All())
}
