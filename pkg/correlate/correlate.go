// Package correlate implements the send-reply correlator shared by the
// HSMS and SECS-I communicators: a sent message registers itself under
// its system bytes, and the bytes reader thread that later sees a reply
// with matching system bytes delivers it here instead of to a listener.
package correlate

import (
	"sync"
	"time"
)

// Pack is a single pending reply slot, registered under one system-bytes
// key. Grounded on the per-key entry in original_source's _rsp_pool.
// T is whatever representation of "a reply" the caller correlates:
// pkg/secs1 uses *ast.DataMessage (SECS-I carries no control messages),
// pkg/hsms uses a raw frame ([]byte) since a reply may be either a data
// message or a control message such as reject.req.
type Pack[T any] struct {
	mu               sync.Mutex
	cond             *sync.Cond
	reply            T
	delivered        bool
	done             bool
	extendedDeadline *time.Time
}

func newPack[T any]() *Pack[T] {
	p := &Pack[T]{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// deliver stores the reply and wakes the waiter. Returns false if the
// pack had already received a reply or been canceled.
func (p *Pack[T]) deliver(reply T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return false
	}
	p.reply = reply
	p.delivered = true
	p.done = true
	p.cond.Broadcast()
	return true
}

// wait blocks until a reply is delivered or timeout elapses, resetting
// the deadline every time ResetTimer is called (spec.md's T3-reset
// semantics: each received block with a matching system id pushes the
// reply deadline out, rather than the original unbounded wait).
func (p *Pack[T]) wait(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.done {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false
		}

		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()

		if p.extendedDeadline != nil {
			deadline = *p.extendedDeadline
			p.extendedDeadline = nil
		}
	}
	return p.reply, p.delivered
}

// Pool holds one Pack per outstanding system-bytes key. Grounded on
// HsmsSsConnection's _rsp_pool/_rsp_pool_lock/_rsp_pool_cdt, generalized
// so both pkg/hsms and pkg/secs1 share it (spec.md §4.5).
type Pool[T any] struct {
	mu    sync.Mutex
	packs map[[4]byte]*Pack[T]
}

// NewPool creates an empty correlator pool.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{packs: make(map[[4]byte]*Pack[T])}
}

// Register opens a reply slot for systemBytes. Callers must Deregister
// after Wait returns (or give up), even on error, matching the
// try/finally del in original_source's send().
func (pl *Pool[T]) Register(systemBytes [4]byte) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.packs[systemBytes] = newPack[T]()
}

// Deregister removes the slot for systemBytes, if present.
func (pl *Pool[T]) Deregister(systemBytes [4]byte) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.packs, systemBytes)
}

// Wait blocks on the registered slot for systemBytes until a reply
// arrives or timeout elapses. Returns (zero, false) if no slot was
// registered, or it timed out.
func (pl *Pool[T]) Wait(systemBytes [4]byte, timeout time.Duration) (T, bool) {
	pl.mu.Lock()
	p, ok := pl.packs[systemBytes]
	pl.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	return p.wait(timeout)
}

// Deliver routes reply to the slot registered under systemBytes, if one
// exists. Returns true if a registered slot accepted the reply; false if
// no slot is registered under systemBytes (the reply is unsolicited and
// should instead go to the primary-message listeners) or the slot already
// holds a reply.
func (pl *Pool[T]) Deliver(systemBytes [4]byte, reply T) bool {
	pl.mu.Lock()
	p, ok := pl.packs[systemBytes]
	pl.mu.Unlock()
	if !ok {
		return false
	}
	return p.deliver(reply)
}

// ResetTimer pushes the reply deadline for systemBytes forward by
// `extend`, as if the clock had just restarted — used when a partial
// reply (a SECS-I block carrying the same system id) arrives before the
// full message is reassembled.
func (pl *Pool[T]) ResetTimer(systemBytes [4]byte, extend time.Duration) {
	pl.mu.Lock()
	p, ok := pl.packs[systemBytes]
	pl.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	deadline := time.Now().Add(extend)
	p.extendedDeadline = &deadline
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Shutdown wakes every pending waiter with no reply, so in-flight Send
// calls return promptly instead of waiting out their full T3/T6 timeout.
func (pl *Pool[T]) Shutdown() {
	pl.mu.Lock()
	packs := make([]*Pack[T], 0, len(pl.packs))
	for _, p := range pl.packs {
		packs = append(packs, p)
	}
	pl.packs = make(map[[4]byte]*Pack[T])
	pl.mu.Unlock()

	for _, p := range packs {
		p.mu.Lock()
		p.done = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}
