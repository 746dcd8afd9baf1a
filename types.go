package polling

import (
	"syscall"

	"github.com/Allenxuxu/polling/poller"
	"github.com/pkg/errors"
)

type (
	Key      = poller.Key
	Source   = poller.Source
	Interest = poller.Interest
	Event    = poller.Event
	Events   = poller.Events
	OpError  = poller.OpError
)

// Interest values
const (
	Readable = poller.Readable
	Writable = poller.Writable
	Oneshot  = poller.Oneshot
	None     = poller.None
	Both     = poller.Both
)

// Error kinds, match them with errors.Is.
var (
	ErrInvalidSource     = poller.ErrInvalidSource
	ErrAlreadyRegistered = poller.ErrAlreadyRegistered
	ErrNotRegistered     = poller.ErrNotRegistered
	ErrResourceExhausted = poller.ErrResourceExhausted
	ErrTransport         = poller.ErrTransport
	ErrClosed            = poller.ErrClosed
)

// ErrNilEvents is returned by Wait when it has no event list to fill.
var ErrNilEvents = errors.New("polling: nil event list")

// NewEvents creates an empty event list with the given capacity.
func NewEvents(capacity int) *Events {
	return poller.NewEvents(capacity)
}

// SourceOf returns the raw handle behind c, see poller.SourceOf.
func SourceOf(c syscall.Conn) (Source, error) {
	return poller.SourceOf(c)
}
