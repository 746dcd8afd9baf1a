//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/Allenxuxu/polling"
	"github.com/Allenxuxu/polling/eventloop"
	"github.com/Allenxuxu/polling/log"
	"github.com/Allenxuxu/toolkit/sync"
	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"
)

const listenerKey polling.Key = 0

// server accepts on one loop and serves connections on the others.
type server struct {
	file     *os.File
	fd       int
	listener net.Listener

	idleTime time.Duration
	nextKey  atomic.Int64

	accept   *eventloop.EventLoop
	workers  []*eventloop.EventLoop
	strategy eventloop.LoadBalanceStrategy
}

func newServer(address string, loops int, idle time.Duration, reusePort bool) (*server, error) {
	var ls net.Listener
	var err error
	if reusePort {
		ls, err = reuseport.Listen("tcp", address)
	} else {
		ls, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, err
	}

	l, ok := ls.(*net.TCPListener)
	if !ok {
		_ = ls.Close()
		return nil, errors.New("could not get file descriptor")
	}
	file, err := l.File()
	if err != nil {
		_ = ls.Close()
		return nil, err
	}
	s := &server{
		file:     file,
		fd:       int(file.Fd()),
		listener: ls,
		idleTime: idle,
		strategy: eventloop.LeastConnection(),
	}
	if err = s.init(loops); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *server) init(loops int) (err error) {
	if err = unix.SetNonblock(s.fd, true); err != nil {
		return err
	}
	if s.accept, err = eventloop.New(polling.Name("accept"), polling.Metrics(true)); err != nil {
		return err
	}
	if loops <= 0 {
		loops = 1
	}
	for i := 0; i < loops; i++ {
		el, err := eventloop.New(polling.Name("worker"), polling.Metrics(true))
		if err != nil {
			return err
		}
		s.workers = append(s.workers, el)
	}
	return s.accept.AddSocket(polling.Fd(s.fd), listenerKey, polling.Readable, s)
}

// release undoes a partial newServer.
func (s *server) release() {
	for _, el := range s.workers {
		_ = el.Stop()
	}
	if s.accept != nil {
		_ = s.accept.Stop()
	}
	_ = s.Close()
}

// Addr returns the listening address.
func (s *server) Addr() net.Addr {
	return s.listener.Addr()
}

// HandleEvent accepts every pending connection.
func (s *server) HandleEvent(ev polling.Event) {
	if !ev.Readable {
		return
	}

	for {
		nfd, _, err := unix.Accept(s.fd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR {
				log.Error("accept:", err)
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			log.Error("set nonblock:", err)
			continue
		}

		loop := s.strategy(s.workers)
		s.nextKey.Add(1)
		key := polling.Key(s.nextKey.Get())
		c := newConnection(nfd, key, loop, s.idleTime)
		if err := loop.AddSocket(polling.Fd(nfd), key, polling.Readable|polling.Oneshot, c); err != nil {
			_ = unix.Close(nfd)
			log.Error("add connection:", err)
			continue
		}
		c.startIdleCheck()
	}
}

// Close the listener.
func (s *server) Close() error {
	_ = s.file.Close()
	return s.listener.Close()
}

// Start runs every loop and returns once they all stopped.
func (s *server) Start() {
	sw := sync.WaitGroupWrapper{}
	for _, el := range append([]*eventloop.EventLoop{s.accept}, s.workers...) {
		el := el
		sw.AddAndRun(func() {
			if err := el.RunLoop(); err != nil {
				log.Error(err)
			}
		})
	}
	sw.Wait()
}

// Stop asks every loop to exit.
func (s *server) Stop() {
	for _, el := range append([]*eventloop.EventLoop{s.accept}, s.workers...) {
		if err := el.Stop(); err != nil {
			log.Error(err)
		}
	}
}
