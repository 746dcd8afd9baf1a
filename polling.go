// Package polling is a portable readiness poller over epoll, kqueue, event
// ports and I/O completion ports.
//
// Sources are registered under a caller chosen Key with an Interest. Wait
// blocks until some of them are ready, the timeout elapses or Notify is
// called from another goroutine, and reports one Event per ready Key.
package polling

import (
	"sync"
	"time"

	"github.com/Allenxuxu/polling/log"
	"github.com/Allenxuxu/polling/metrics"
	"github.com/Allenxuxu/polling/poller"
	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Infinite makes Wait block until an event or a notification.
const Infinite time.Duration = -1

type registration struct {
	key      Key
	interest Interest
}

// Poller multiplexes readiness of many sources. All methods are safe for
// concurrent use; only one goroutine waits at a time.
type Poller struct {
	id   uuid.UUID
	opts *Options
	drv  *poller.Poller

	closed atomic.Bool

	mu      sync.Mutex
	keys    map[Key]Source
	sources map[Source]*registration
	// registrations counted into the shared gauge
	reported int

	// one slot: holding it means being the waiter
	waiter chan struct{}
}

// New creates a Poller and its native multiplexing object.
func New(opts ...Option) (*Poller, error) {
	options := newOptions(opts...)

	drv, err := poller.Create(options.EventBatch)
	if err != nil {
		return nil, errors.Wrap(err, "create poller")
	}

	p := &Poller{
		id:      uuid.New(),
		opts:    options,
		drv:     drv,
		keys:    make(map[Key]Source),
		sources: make(map[Source]*registration),
		waiter:  make(chan struct{}, 1),
	}
	log.Debugf("[polling] %s %s created", options.Name, p.id)
	return p, nil
}

// ID identifies the instance in logs.
func (p *Poller) ID() string {
	return p.id.String()
}

// NewEvents creates an event list sized by the EventsCapacity option.
func (p *Poller) NewEvents() *Events {
	return poller.NewEvents(p.opts.EventsCapacity)
}

// Len returns the number of active registrations.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

func (p *Poller) metricsEnabled() bool {
	return p.opts.Metrics && metrics.Enable.Get()
}

// the caller holds p.mu
func (p *Poller) updateGauge() {
	if !p.metricsEnabled() {
		return
	}
	if delta := len(p.sources) - p.reported; delta != 0 {
		metrics.AddRegistrations(p.opts.Name, delta)
		p.reported = len(p.sources)
	}
}

// Add registers src under key. Neither may already be registered.
func (p *Poller) Add(src Source, key Key, in Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Get() {
		return ErrClosed
	}

	if _, ok := p.keys[key]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "add key %d", key)
	}
	if _, ok := p.sources[src]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "add source %d", src)
	}

	if err := p.drv.Add(src, key, in); err != nil {
		return errors.Wrapf(err, "add source %d", src)
	}

	p.keys[key] = src
	p.sources[src] = &registration{key: key, interest: in}
	p.updateGauge()

	log.Debugf("[polling] %s add source %d key %d interest %s", p.opts.Name, src, key, in)
	return nil
}

// Modify replaces the interest of src, re-arming a oneshot registration.
// The key may change as long as no other source uses the new one.
func (p *Poller) Modify(src Source, key Key, in Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Get() {
		return ErrClosed
	}

	reg, ok := p.sources[src]
	if !ok {
		return errors.Wrapf(ErrNotRegistered, "modify source %d", src)
	}
	if owner, ok := p.keys[key]; ok && owner != src {
		return errors.Wrapf(ErrAlreadyRegistered, "modify key %d", key)
	}

	if err := p.drv.Modify(src, key, in); err != nil {
		return errors.Wrapf(err, "modify source %d", src)
	}

	if reg.key != key {
		delete(p.keys, reg.key)
		p.keys[key] = src
	}
	reg.key = key
	reg.interest = in

	log.Debugf("[polling] %s modify source %d key %d interest %s", p.opts.Name, src, key, in)
	return nil
}

// Delete removes the registration of src under key. src is not closed.
func (p *Poller) Delete(src Source, key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Get() {
		return ErrClosed
	}

	reg, ok := p.sources[src]
	if !ok || reg.key != key {
		return errors.Wrapf(ErrNotRegistered, "delete source %d key %d", src, key)
	}

	if err := p.drv.Delete(src, key); err != nil {
		return errors.Wrapf(err, "delete source %d", src)
	}

	delete(p.keys, key)
	delete(p.sources, src)
	p.updateGauge()

	log.Debugf("[polling] %s delete source %d key %d", p.opts.Name, src, key)
	return nil
}

// acquire takes the waiter slot, giving up after timeout. A negative
// timeout waits for as long as it takes.
func (p *Poller) acquire(timeout time.Duration) bool {
	select {
	case p.waiter <- struct{}{}:
		return true
	default:
	}

	switch {
	case timeout == 0:
		return false
	case timeout < 0:
		p.waiter <- struct{}{}
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p.waiter <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (p *Poller) release() {
	<-p.waiter
}

// Wait appends the events of ready sources to events and returns how many
// were added. It returns early when Notify is called and after timeout; a
// zero timeout polls, Infinite blocks. If another goroutine is already
// waiting, Wait queues behind it within the same budget. events must not be
// nil, NewEvents makes one.
func (p *Poller) Wait(events *Events, timeout time.Duration) (int, error) {
	if events == nil {
		return 0, ErrNilEvents
	}
	if p.closed.Get() {
		return 0, ErrClosed
	}

	start := time.Now()
	if !p.acquire(timeout) {
		return 0, nil
	}
	defer p.release()

	if p.closed.Get() {
		return 0, ErrClosed
	}

	rem := timeout
	if timeout > 0 {
		rem -= time.Since(start)
		if rem < 0 {
			rem = 0
		}
	}

	begin := time.Now()
	n, err := p.drv.Wait(events, rem)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return 0, ErrClosed
		}
		log.Errorf("[polling] %s wait: %v", p.opts.Name, err)
		return 0, errors.Wrap(err, "wait")
	}

	if p.metricsEnabled() {
		metrics.ObserveWait(p.opts.Name, time.Since(begin), n)
	}
	log.Debugf("[polling] %s wait returned %d events after %s", p.opts.Name, n, time.Since(start))
	return n, nil
}

// Notify wakes up the goroutine blocked in Wait, or the next one to call
// it. Notifications that pile up before a Wait consumes them wake it once.
func (p *Poller) Notify() error {
	if p.closed.Get() {
		return ErrClosed
	}

	if err := p.drv.Notify(); err != nil {
		if errors.Is(err, ErrClosed) {
			return ErrClosed
		}
		return errors.Wrap(err, "notify")
	}

	if p.metricsEnabled() {
		metrics.ObserveNotify(p.opts.Name)
	}
	log.Debugf("[polling] %s notify", p.opts.Name)
	return nil
}

// Close wakes up the waiter, waits for it to leave and releases the native
// object. Registered sources are not closed.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed.Get() {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed.Set(true)
	p.mu.Unlock()

	_ = p.drv.Notify()
	p.waiter <- struct{}{}
	defer p.release()

	p.mu.Lock()
	clear(p.keys)
	clear(p.sources)
	if p.reported != 0 {
		metrics.AddRegistrations(p.opts.Name, -p.reported)
		p.reported = 0
	}
	p.mu.Unlock()

	if err := p.drv.Close(); err != nil {
		return errors.Wrap(err, "close poller")
	}
	log.Debugf("[polling] %s %s closed", p.opts.Name, p.id)
	return nil
}
