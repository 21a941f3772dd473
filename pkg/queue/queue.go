// Package queue contains the concurrent queue primitives shared by the
// HSMS and SECS-I communicators: a callback-delivery queue, a
// blocking-poll waiting queue, and a byte-accumulating queue used to
// reassemble SECS-I blocks off the wire.
package queue

import (
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
)

// base is the open/close/put machinery shared by all three queue types,
// translated from AbstractQueuing's lock/condition-variable pairing.
type base struct {
	mu       sync.Mutex
	cond     *sync.Cond
	fifo     *queue.Queue
	opened   bool
	closed   bool
}

func newBase() *base {
	b := &base{fifo: queue.New()}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Open marks the queue ready to accept values. Panics if already
// opened or closed, matching AbstractQueuing.open's RuntimeError.
func (b *base) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("queue: already closed")
	}
	if b.opened {
		panic("queue: already opened")
	}
	b.opened = true
}

// Close shuts the queue down and wakes every blocked waiter. Idempotent.
func (b *base) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cond.L.Lock()
	b.cond.Broadcast()
	b.cond.L.Unlock()
}

func (b *base) isOpenLocked() bool { return b.opened && !b.closed }

// Put appends one value and wakes waiters.
func (b *base) Put(value interface{}) {
	if value == nil {
		return
	}
	b.mu.Lock()
	b.fifo.Enqueue(value)
	b.mu.Unlock()

	b.cond.L.Lock()
	b.cond.Broadcast()
	b.cond.L.Unlock()
}

// pollOnce dequeues one value without blocking, or returns nil.
func (b *base) pollOnce() interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dequeueLocked()
}

// dequeueLocked dequeues one value without blocking. Caller must already
// hold b.mu — cond.L is b.mu, so wait loops call this directly instead of
// pollOnce to avoid relocking a mutex they're already holding.
func (b *base) dequeueLocked() interface{} {
	if b.fifo.Len() == 0 {
		return nil
	}
	return b.fifo.Dequeue()
}

// Callback runs a dedicated goroutine that delivers every put value to fn,
// in FIFO order, calling fn(nil) once on shutdown so the consumer can stop
// cleanly — mirrors CallbackQueuing's sentinel-on-close delivery.
type Callback struct {
	*base
	fn   func(interface{})
	done chan struct{}
}

// NewCallback creates a Callback queue delivering to fn. Call Open to
// start the delivery goroutine.
func NewCallback(fn func(interface{})) *Callback {
	return &Callback{base: newBase(), fn: fn, done: make(chan struct{})}
}

// Open starts the delivery goroutine.
func (c *Callback) Open() {
	c.base.Open()
	go c.loop()
}

func (c *Callback) loop() {
	defer close(c.done)
	for {
		v := c.pollOnce()
		if v != nil {
			c.fn(v)
			continue
		}

		c.cond.L.Lock()
		for {
			if v = c.dequeueLocked(); v != nil {
				c.cond.L.Unlock()
				c.fn(v)
				break
			}
			if c.closed {
				c.cond.L.Unlock()
				c.fn(nil)
				return
			}
			c.cond.Wait()
		}
	}
}

// Wait blocks until the delivery goroutine has processed the shutdown
// sentinel after Close.
func (c *Callback) Wait() { <-c.done }

// Waiting is a blocking single-consumer queue: Poll returns the next
// value, waiting up to timeout, or (nil, false) if the queue is closed or
// the timeout elapses first.
type Waiting struct {
	*base
}

// NewWaiting creates a Waiting queue. Call Open before polling.
func NewWaiting() *Waiting {
	return &Waiting{base: newBase()}
}

// Poll waits up to timeout for a value. A zero timeout waits forever.
func (w *Waiting) Poll(timeout time.Duration) (interface{}, bool) {
	w.mu.Lock()
	open := w.isOpenLocked()
	w.mu.Unlock()
	if !open {
		return nil, false
	}

	if v := w.pollOnce(); v != nil {
		return v, true
	}

	result := make(chan interface{}, 1)
	timedOut := false
	go func() {
		w.cond.L.Lock()
		defer w.cond.L.Unlock()
		for {
			if timedOut {
				return
			}
			if v := w.dequeueLocked(); v != nil {
				result <- v
				return
			}
			if w.closed {
				result <- nil
				return
			}
			w.cond.Wait()
		}
	}()

	if timeout <= 0 {
		v := <-result
		return v, v != nil
	}

	select {
	case v := <-result:
		return v, v != nil
	case <-time.After(timeout):
		w.cond.L.Lock()
		timedOut = true
		w.cond.Broadcast()
		w.cond.L.Unlock()
		select {
		case v := <-result:
			return v, v != nil
		default:
		}
		return nil, false
	}
}
