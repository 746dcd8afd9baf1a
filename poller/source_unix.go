//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package poller

// Fd wraps a file descriptor.
func Fd(fd int) Source {
	return Source(fd)
}

func (s Source) fd() int {
	return int(s)
}
