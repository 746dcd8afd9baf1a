package poller

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpError_Is(t *testing.T) {
	err := opError("epoll_ctl", ErrInvalidSource, io.ErrUnexpectedEOF)

	assert.True(t, errors.Is(err, ErrInvalidSource))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Equal(t, "epoll_ctl: invalid source: unexpected EOF", err.Error())

	var oe *OpError
	assert.True(t, errors.As(err, &oe))
	assert.Equal(t, "epoll_ctl", oe.Op)
}

func TestWrapErr_KeepsOpError(t *testing.T) {
	assert.Nil(t, wrapErr("x", nil))

	inner := opError("kevent", ErrNotRegistered, nil)
	assert.Equal(t, inner, wrapErr("outer", inner))
	assert.Equal(t, "kevent: source not registered", inner.Error())

	assert.True(t, errors.Is(wrapErr("x", io.EOF), ErrTransport))
}
