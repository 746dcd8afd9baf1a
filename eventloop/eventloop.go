// Package eventloop runs a polling.Poller in a loop, dispatching events to
// the socket registered under their key and running queued tasks in the
// loop goroutine.
package eventloop

import (
	"time"
	"unsafe"

	"github.com/Allenxuxu/polling"
	"github.com/Allenxuxu/polling/log"
	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/Allenxuxu/toolkit/sync/spinlock"
	"github.com/RussellLuo/timingwheel"
	"github.com/eapache/queue"
	"github.com/pkg/errors"
)

var (
	DefaultPacketSize = 65536
	DefaultTick       = time.Millisecond
	DefaultWheelSize  = int64(1000)
)

// Socket is served by the loop it was added to.
type Socket interface {
	HandleEvent(ev polling.Event)
	Close() error
}

// EventLoop 事件循环
type EventLoop struct {
	eventLoopLocal
	// nolint
	// Prevents false sharing on widespread platforms with
	// 128 mod (cache line size) = 0 .
	pad [128 - unsafe.Sizeof(eventLoopLocal{})%128]byte
}

// nolint
type eventLoopLocal struct {
	ConnCount atomic.Int64
	needWake  *atomic.Bool
	running   atomic.Bool
	quit      bool

	poll   *polling.Poller
	events *polling.Events
	tw     *timingwheel.TimingWheel

	smu     spinlock.SpinLock
	sockets map[polling.Key]Socket

	mu    spinlock.SpinLock
	tasks *queue.Queue

	packet []byte
}

// New 创建一个 EventLoop
func New(opts ...polling.Option) (*EventLoop, error) {
	p, err := polling.New(opts...)
	if err != nil {
		return nil, err
	}

	return &EventLoop{
		eventLoopLocal: eventLoopLocal{
			needWake: atomic.New(true),
			poll:     p,
			events:   p.NewEvents(),
			tw:       timingwheel.NewTimingWheel(DefaultTick, DefaultWheelSize),
			sockets:  make(map[polling.Key]Socket),
			tasks:    queue.New(),
			packet:   make([]byte, DefaultPacketSize),
		},
	}, nil
}

// PacketBuf 内部使用，临时缓冲区
func (l *EventLoop) PacketBuf() []byte {
	return l.packet
}

func (l *EventLoop) ConnectionCount() int64 {
	return l.ConnCount.Get()
}

// AddSocket registers src under key and routes its events to s.
func (l *EventLoop) AddSocket(src polling.Source, key polling.Key, in polling.Interest, s Socket) error {
	l.smu.Lock()
	if _, ok := l.sockets[key]; ok {
		l.smu.Unlock()
		return errors.Wrapf(polling.ErrAlreadyRegistered, "add socket key %d", key)
	}
	// routed before Add so an event fired right away finds its socket
	l.sockets[key] = s
	l.smu.Unlock()

	if err := l.poll.Add(src, key, in); err != nil {
		l.smu.Lock()
		if l.sockets[key] == s {
			delete(l.sockets, key)
		}
		l.smu.Unlock()
		return err
	}

	l.ConnCount.Add(1)
	return nil
}

// Modify changes the interest of src, re-arming it when oneshot.
func (l *EventLoop) Modify(src polling.Source, key polling.Key, in polling.Interest) error {
	return l.poll.Modify(src, key, in)
}

// DeleteSocket stops serving src. The socket is not closed.
func (l *EventLoop) DeleteSocket(src polling.Source, key polling.Key) {
	if err := l.poll.Delete(src, key); err != nil {
		log.Error("[DeleteSocket] ", err)
		return
	}

	l.smu.Lock()
	delete(l.sockets, key)
	l.smu.Unlock()
	l.ConnCount.Add(-1)
}

// QueueInLoop 添加 func 到事件循环中执行
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.tasks.Add(f)
	l.mu.Unlock()

	if l.needWake.CompareAndSwap(true, false) {
		if err := l.poll.Notify(); err != nil && !errors.Is(err, polling.ErrClosed) {
			log.Error("[QueueInLoop] notify ", err)
		}
	}
}

// RunAfter 延时任务，f 在事件循环中执行
func (l *EventLoop) RunAfter(d time.Duration, f func()) *timingwheel.Timer {
	return l.tw.AfterFunc(d, func() {
		l.QueueInLoop(f)
	})
}

// RunEvery 定时任务，f 在事件循环中执行
func (l *EventLoop) RunEvery(d time.Duration, f func()) *timingwheel.Timer {
	return l.tw.ScheduleFunc(&everyScheduler{Interval: d}, func() {
		l.QueueInLoop(f)
	})
}

// RunLoop 启动事件循环，Stop 之后返回
func (l *EventLoop) RunLoop() error {
	l.running.Set(true)
	l.tw.Start()
	defer func() {
		l.tw.Stop()
		l.running.Set(false)
	}()

	for !l.quit {
		l.events.Clear()
		n, err := l.poll.Wait(l.events, polling.Infinite)
		if err != nil {
			if errors.Is(err, polling.ErrClosed) {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			l.handleEvent(l.events.At(i))
		}

		l.needWake.Set(true)
		l.doPendingFunc()
	}

	l.closeSockets()
	return l.poll.Close()
}

// Stop 关闭事件循环
func (l *EventLoop) Stop() error {
	if !l.running.Get() {
		l.closeSockets()
		return l.poll.Close()
	}

	l.QueueInLoop(func() {
		l.quit = true
	})
	return nil
}

func (l *EventLoop) closeSockets() {
	l.smu.Lock()
	sockets := l.sockets
	l.sockets = make(map[polling.Key]Socket)
	l.smu.Unlock()

	for _, s := range sockets {
		if err := s.Close(); err != nil {
			log.Error(err)
		}
	}
	l.ConnCount.Swap(0)
}

func (l *EventLoop) handleEvent(ev polling.Event) {
	l.smu.Lock()
	s, ok := l.sockets[ev.Key]
	l.smu.Unlock()

	if ok {
		s.HandleEvent(ev)
	}
}

func (l *EventLoop) doPendingFunc() {
	l.mu.Lock()
	n := l.tasks.Length()
	tasks := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, l.tasks.Remove().(func()))
	}
	l.mu.Unlock()

	for _, f := range tasks {
		f()
	}
}

type everyScheduler struct {
	Interval time.Duration
}

func (s *everyScheduler) Next(prev time.Time) time.Time {
	return prev.Add(s.Interval)
}
