package poller

import "strings"

// Key identifies a registration. It is chosen by the caller and must be
// unique among the sources currently registered with one poller.
type Key uint64

// Interest represents the readiness conditions a registration reports.
type Interest uint8

// Interest values
const (
	Readable Interest = 0x1
	Writable Interest = 0x2
	// Oneshot disarms the registration after its first delivery; it must be
	// re-armed with Modify. Without it the registration is persistent.
	Oneshot Interest = 0x80

	None Interest = 0
	Both          = Readable | Writable
)

// IsReadable reports whether readable events are requested.
func (i Interest) IsReadable() bool { return i&Readable != 0 }

// IsWritable reports whether writable events are requested.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

// IsOneshot reports whether the registration disarms after delivery.
func (i Interest) IsOneshot() bool { return i&Oneshot != 0 }

// Filters strips the mode flag.
func (i Interest) Filters() Interest { return i & Both }

func (i Interest) String() string {
	var s []string
	if i.IsReadable() {
		s = append(s, "readable")
	}
	if i.IsWritable() {
		s = append(s, "writable")
	}
	if len(s) == 0 {
		s = append(s, "none")
	}
	if i.IsOneshot() {
		s = append(s, "oneshot")
	}
	return strings.Join(s, "|")
}

// Event is a readiness notification for one registration.
type Event struct {
	Key      Key
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// Empty reports whether no condition is set.
func (e Event) Empty() bool {
	return !e.Readable && !e.Writable && !e.Error && !e.Hangup
}

func (e *Event) merge(o Event) {
	e.Readable = e.Readable || o.Readable
	e.Writable = e.Writable || o.Writable
	e.Error = e.Error || o.Error
	e.Hangup = e.Hangup || o.Hangup
}

// mask drops the conditions the interest did not ask for. Error and hangup
// survive as long as something was asked for.
func (e Event) mask(in Interest) Event {
	if !in.IsReadable() {
		e.Readable = false
	}
	if !in.IsWritable() {
		e.Writable = false
	}
	if in.Filters() == None {
		e.Error = false
		e.Hangup = false
	}
	return e
}

// Events is a caller owned list of events filled by Wait. It can be
// cleared and reused across calls.
type Events struct {
	list []Event
	// index of a key inside list for the wait call in progress
	index map[Key]int
}

// NewEvents creates an empty list with the given capacity.
func NewEvents(capacity int) *Events {
	if capacity < 0 {
		capacity = 0
	}
	return &Events{list: make([]Event, 0, capacity)}
}

// Len returns the number of events in the list.
func (e *Events) Len() int { return len(e.list) }

// At returns the i-th event.
func (e *Events) At(i int) Event { return e.list[i] }

// All returns the events. The slice is only valid until the next Wait or Clear.
func (e *Events) All() []Event { return e.list }

// Clear empties the list, keeping its memory.
func (e *Events) Clear() { e.list = e.list[:0] }

// collector appends the events of a single wait call, merging events that
// share a key.
type collector struct {
	events *Events
	start  int
}

func (e *Events) begin() collector {
	if e.index == nil {
		e.index = make(map[Key]int)
	} else {
		clear(e.index)
	}
	return collector{events: e, start: len(e.list)}
}

func (c collector) add(ev Event) {
	if ev.Empty() {
		return
	}
	e := c.events
	if i, ok := e.index[ev.Key]; ok {
		e.list[i].merge(ev)
		return
	}
	e.index[ev.Key] = len(e.list)
	e.list = append(e.list, ev)
}

func (c collector) count() int {
	return len(c.events.list) - c.start
}
