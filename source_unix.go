//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package polling

import "github.com/Allenxuxu/polling/poller"

// Fd wraps a file descriptor.
func Fd(fd int) Source {
	return poller.Fd(fd)
}
