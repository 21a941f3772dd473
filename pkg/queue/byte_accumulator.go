package queue

import (
	"sync"
	"time"
)

// ByteAccumulator collects bytes pushed one read at a time (as they arrive
// off a Transport) and lets a consumer either wait for exactly n bytes, or
// drain whatever has accumulated once the line goes silent. Grounded on
// PutListQueuing's put_to_list/poll pairing, translated from a shared list
// + condition variable to a byte slice.
type ByteAccumulator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	opened bool
	closed bool
}

// NewByteAccumulator creates an accumulator. Call Open before use.
func NewByteAccumulator() *ByteAccumulator {
	a := &ByteAccumulator{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Open marks the accumulator ready to accept bytes.
func (a *ByteAccumulator) Open() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("queue: already closed")
	}
	a.opened = true
}

// Close shuts the accumulator down and wakes every waiter.
func (a *ByteAccumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.cond.Broadcast()
}

// Put appends bytes read off the wire and wakes waiters.
func (a *ByteAccumulator) Put(b []byte) {
	if len(b) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, b...)
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Fill blocks until at least n bytes have accumulated, or timeout elapses
// first (a non-positive timeout waits forever). It returns exactly n bytes
// and leaves any remainder buffered for the next call — used to read a
// fixed-size SECS-I field such as a block's checksum or length byte with
// the inter-character timeout T1 applied between reads by the caller.
func (a *ByteAccumulator) Fill(n int, timeout time.Duration) ([]byte, bool) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		if !a.opened || a.closed {
			if len(a.buf) >= n {
				break
			}
			return nil, false
		}
		if len(a.buf) >= n {
			break
		}
		if !deadline.IsZero() && !a.waitUntil(deadline) {
			return nil, false
		}
		if deadline.IsZero() {
			a.cond.Wait()
		}
	}

	result := make([]byte, n)
	copy(result, a.buf[:n])
	a.buf = a.buf[n:]
	return result, true
}

// waitUntil blocks on the condition variable until deadline, returning
// false if the deadline passed first. The caller must hold a.mu.
func (a *ByteAccumulator) waitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		a.mu.Lock()
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer timer.Stop()
	a.cond.Wait()
	return time.Now().Before(deadline)
}

// DrainUntilSilence blocks until no bytes have arrived for the given
// quiet period, then returns everything accumulated so far. Used as the
// SECS-I line's garbage-collection pass between blocks.
func (a *ByteAccumulator) DrainUntilSilence(quiet time.Duration) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		before := len(a.buf)
		deadline := time.Now().Add(quiet)
		if !a.waitUntil(deadline) && len(a.buf) == before {
			break
		}
		if a.closed {
			break
		}
	}

	result := a.buf
	a.buf = nil
	return result
}
