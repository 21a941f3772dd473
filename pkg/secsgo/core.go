package secsgo

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/queue"
	"github.com/takumi-sec/gosecs/pkg/sml"
)

// Communicator is the public shape every façade implementation
// (HsmsActive, HsmsPassive, Secs1) exposes. Grounded on
// AbstractSecsCommunicator's public surface in original_source's
// secscommunicator.py.
type Communicator interface {
	Open(ctx context.Context) error
	Close() error
	OpenAndWaitUntilCommunicating(ctx context.Context) error
	IsOpen() bool
	IsClosed() bool
	IsCommunicating() bool

	Send(ctx context.Context, stream, function int, waitBit bool, item ast.ItemNode) (Message, error)
	Reply(ctx context.Context, primary Message, stream, function int, waitBit bool, item ast.ItemNode) (Message, error)
	SendSML(ctx context.Context, text string) (Message, error)
	ReplySML(ctx context.Context, primary Message, text string) (Message, error)

	AddRecvPrimaryMsgListener(fn func(Message, Communicator))
	AddRecvAllMsgListener(fn func(Message, Communicator))
	AddSentMsgListener(fn func(Message, Communicator))
	AddCommunicateListener(fn func(bool, Communicator))
	AddErrorListener(fn func(error, Communicator))
}

// Metrics records communicator-level events common to every transport.
// A nil Metrics is always safe to call through — core only invokes it via
// its own nil-checked helper methods. HSMS FSM-specific events (state
// transitions, T3/T6/T7 timeouts, rejects) are recorded separately via
// Config.HsmsMetrics (hsms.Metrics), since Secs1 has no FSM to report.
type Metrics interface {
	MessageSent(comm Communicator)
	MessageReceived(comm Communicator)
	CommunicatingStateChanged(comm Communicator, communicating bool)
}

// core holds the behavior common to every Communicator implementation:
// open/close/communicating state, the five listener callback queues
// (spec.md §4.9's "all listener deliveries pass through callback queues"),
// and system-id minting. Embedded by value-holding pointer in each
// concrete type, with self set to the outer type so listeners and the
// OpenAndWaitUntilCommunicating template method see the right Communicator.
type core struct {
	deviceID int
	isEquip  bool
	name     string

	sysNum uint32

	mu            sync.Mutex
	opened        bool
	closed        bool
	communicating bool
	commCond      *sync.Cond

	recvPrimaryMu        sync.Mutex
	recvPrimaryListeners []func(Message, Communicator)
	recvPrimaryQueue     *queue.Callback

	recvAllMu        sync.Mutex
	recvAllListeners []func(Message, Communicator)
	recvAllQueue     *queue.Callback

	sentMu        sync.Mutex
	sentListeners []func(Message, Communicator)
	sentQueue     *queue.Callback

	communicateMu        sync.Mutex
	communicateListeners []func(bool, Communicator)
	communicateQueue     *queue.Callback

	errorMu        sync.Mutex
	errorListeners []func(error, Communicator)
	errorQueue     *queue.Callback

	metrics Metrics

	self Communicator
}

func newCore(cfg Config, self Communicator) *core {
	c := &core{deviceID: cfg.DeviceID, isEquip: cfg.IsEquip, name: cfg.Name, metrics: cfg.Metrics, self: self}
	c.commCond = sync.NewCond(&c.mu)

	c.recvPrimaryQueue = queue.NewCallback(func(v interface{}) { c.dispatchRecvPrimary(v) })
	c.recvAllQueue = queue.NewCallback(func(v interface{}) { c.dispatchRecvAll(v) })
	c.sentQueue = queue.NewCallback(func(v interface{}) { c.dispatchSent(v) })
	c.communicateQueue = queue.NewCallback(func(v interface{}) { c.dispatchCommunicate(v) })
	c.errorQueue = queue.NewCallback(func(v interface{}) { c.dispatchError(v) })

	c.recvPrimaryQueue.Open()
	c.recvAllQueue.Open()
	c.sentQueue.Open()
	c.communicateQueue.Open()
	c.errorQueue.Open()
	return c
}

func (c *core) shutdownQueues() {
	c.recvPrimaryQueue.Close()
	c.recvAllQueue.Close()
	c.sentQueue.Close()
	c.communicateQueue.Close()
	c.errorQueue.Close()
}

// nextSystemBytes mints a process-monotonic 16-bit system id, bitwise
// combined with the device id in the high half when this communicator
// speaks as equipment — spec.md §4.9's minting rule, translated from
// AbstractSecsCommunicator._create_system_bytes.
func (c *core) nextSystemBytes() [4]byte {
	n := atomic.AddUint32(&c.sysNum, 1) & 0xFFFF
	d := 0
	if c.isEquip {
		d = c.deviceID
	}
	var b [4]byte
	b[0] = byte((d >> 8) & 0x7F)
	b[1] = byte(d & 0xFF)
	b[2] = byte((n >> 8) & 0xFF)
	b[3] = byte(n & 0xFF)
	return b
}

// markOpened records the open transition and reports whether this call was
// the one that made it — callers use that to decide whether to actually
// start the underlying session/circuit, so a second Open() call is a no-op
// rather than spawning a duplicate supervisor loop.
func (c *core) markOpened() (first bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrAlreadyClosed
	}
	if c.opened {
		return false, nil
	}
	c.opened = true
	return true, nil
}

func (c *core) markClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.communicating = false
	c.commCond.Broadcast()
	c.mu.Unlock()
	c.shutdownQueues()
}

// Name returns the communicator's configured name, for logging and metrics
// labels. Empty unless Config.Name was set.
func (c *core) Name() string { return c.name }

func (c *core) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

func (c *core) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *core) IsCommunicating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.communicating
}

// setCommunicating updates the communicating flag, waking
// OpenAndWaitUntilCommunicating waiters and queuing a communicate-listener
// dispatch, only on an actual change — mirrors _put_communicated.
func (c *core) setCommunicating(val bool) {
	c.mu.Lock()
	changed := c.communicating != val
	c.communicating = val
	if changed {
		c.commCond.Broadcast()
	}
	c.mu.Unlock()
	if changed {
		c.communicateQueue.Put(val)
		if c.metrics != nil {
			c.metrics.CommunicatingStateChanged(c.self, val)
		}
	}
}

// waitUntilCommunicating blocks until communicating becomes true, the
// communicator closes, or ctx is canceled — the same
// cancellation-wakes-a-cond.Wait shape pkg/correlate uses for its deadline
// wakeups.
func (c *core) waitUntilCommunicating(ctx context.Context) error {
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				c.mu.Lock()
				c.commCond.Broadcast()
				c.mu.Unlock()
			case <-stop:
			}
		}()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.communicating {
		if c.closed {
			return ErrNotOpen
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.commCond.Wait()
	}
	return nil
}

// OpenAndWaitUntilCommunicating opens (if not already open) via self.Open
// and blocks until the communicating state is reached.
func (c *core) OpenAndWaitUntilCommunicating(ctx context.Context) error {
	if !c.IsOpen() {
		if err := c.self.Open(ctx); err != nil {
			return err
		}
	}
	return c.waitUntilCommunicating(ctx)
}

// SendSML parses text and sends it through self.Send.
func (c *core) SendSML(ctx context.Context, text string) (Message, error) {
	msg, err := sml.Parse(text)
	if err != nil {
		return nil, err
	}
	return c.self.Send(ctx, msg.StreamCode(), msg.FunctionCode(), msg.WaitBit(), msg.Item())
}

// ReplySML parses text and sends it through self.Reply.
func (c *core) ReplySML(ctx context.Context, primary Message, text string) (Message, error) {
	msg, err := sml.Parse(text)
	if err != nil {
		return nil, err
	}
	return c.self.Reply(ctx, primary, msg.StreamCode(), msg.FunctionCode(), msg.WaitBit(), msg.Item())
}

func (c *core) AddRecvPrimaryMsgListener(fn func(Message, Communicator)) {
	c.recvPrimaryMu.Lock()
	c.recvPrimaryListeners = append(c.recvPrimaryListeners, fn)
	c.recvPrimaryMu.Unlock()
}

func (c *core) putRecvPrimaryMsg(msg Message) {
	if msg != nil {
		c.recvPrimaryQueue.Put(msg)
	}
}

func (c *core) dispatchRecvPrimary(v interface{}) {
	if v == nil {
		return
	}
	msg := v.(Message)
	c.recvPrimaryMu.Lock()
	fns := append([]func(Message, Communicator){}, c.recvPrimaryListeners...)
	c.recvPrimaryMu.Unlock()
	for _, fn := range fns {
		fn(msg, c.self)
	}
}

func (c *core) AddRecvAllMsgListener(fn func(Message, Communicator)) {
	c.recvAllMu.Lock()
	c.recvAllListeners = append(c.recvAllListeners, fn)
	c.recvAllMu.Unlock()
}

func (c *core) putRecvAllMsg(msg Message) {
	if msg != nil {
		c.recvAllQueue.Put(msg)
		if c.metrics != nil {
			c.metrics.MessageReceived(c.self)
		}
	}
}

func (c *core) dispatchRecvAll(v interface{}) {
	if v == nil {
		return
	}
	msg := v.(Message)
	c.recvAllMu.Lock()
	fns := append([]func(Message, Communicator){}, c.recvAllListeners...)
	c.recvAllMu.Unlock()
	for _, fn := range fns {
		fn(msg, c.self)
	}
}

func (c *core) AddSentMsgListener(fn func(Message, Communicator)) {
	c.sentMu.Lock()
	c.sentListeners = append(c.sentListeners, fn)
	c.sentMu.Unlock()
}

func (c *core) putSentMsg(msg Message) {
	if msg != nil {
		c.sentQueue.Put(msg)
		if c.metrics != nil {
			c.metrics.MessageSent(c.self)
		}
	}
}

func (c *core) dispatchSent(v interface{}) {
	if v == nil {
		return
	}
	msg := v.(Message)
	c.sentMu.Lock()
	fns := append([]func(Message, Communicator){}, c.sentListeners...)
	c.sentMu.Unlock()
	for _, fn := range fns {
		fn(msg, c.self)
	}
}

// AddCommunicateListener registers fn and, matching
// add_communicate_listener's synchronous replay, immediately calls it with
// the current state before returning.
func (c *core) AddCommunicateListener(fn func(bool, Communicator)) {
	c.mu.Lock()
	state := c.communicating
	c.communicateMu.Lock()
	c.communicateListeners = append(c.communicateListeners, fn)
	c.communicateMu.Unlock()
	c.mu.Unlock()
	fn(state, c.self)
}

func (c *core) dispatchCommunicate(v interface{}) {
	if v == nil {
		return
	}
	state := v.(bool)
	c.communicateMu.Lock()
	fns := append([]func(bool, Communicator){}, c.communicateListeners...)
	c.communicateMu.Unlock()
	for _, fn := range fns {
		fn(state, c.self)
	}
}

func (c *core) AddErrorListener(fn func(error, Communicator)) {
	c.errorMu.Lock()
	c.errorListeners = append(c.errorListeners, fn)
	c.errorMu.Unlock()
}

func (c *core) putError(err error) {
	if err != nil {
		c.errorQueue.Put(err)
	}
}

func (c *core) dispatchError(v interface{}) {
	if v == nil {
		return
	}
	err := v.(error)
	c.errorMu.Lock()
	fns := append([]func(error, Communicator){}, c.errorListeners...)
	c.errorMu.Unlock()
	for _, fn := range fns {
		fn(err, c.self)
	}
}
