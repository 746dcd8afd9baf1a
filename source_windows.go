//go:build windows

package polling

import (
	"github.com/Allenxuxu/polling/poller"
	"golang.org/x/sys/windows"
)

// Socket wraps an overlapped socket handle.
func Socket(h windows.Handle) Source {
	return poller.Socket(h)
}
