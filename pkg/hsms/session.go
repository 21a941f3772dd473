package hsms

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/correlate"
	"github.com/takumi-sec/gosecs/pkg/transport"
)

// State is one of the three HSMS-SS session states.
type State int

const (
	StateNotConnected State = iota
	StateConnected
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "NOT-CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateSelected:
		return "SELECTED"
	default:
		return "UNKNOWN"
	}
}

// SessionTiming holds the HSMS-SS timeouts: T3 (reply), T5 (active
// reconnect backoff), T6 (control transaction), T7 (select wait), T8
// (inter-byte, frame reassembly), and the passive-side rebind delay.
type SessionTiming struct {
	T3     time.Duration
	T5     time.Duration
	T6     time.Duration
	T7     time.Duration
	T8     time.Duration
	Rebind time.Duration
}

// DefaultSessionTiming returns original_source's AbstractSecsCommunicator
// defaults.
func DefaultSessionTiming() SessionTiming {
	return SessionTiming{
		T3:     45 * time.Second,
		T5:     10 * time.Second,
		T6:     5 * time.Second,
		T7:     10 * time.Second,
		T8:     6 * time.Second,
		Rebind: 5 * time.Second,
	}
}

// Metrics receives optional FSM instrumentation. A nil Metrics is always
// safe — Session checks for nil before every call.
type Metrics interface {
	StateChanged(sessionID int, state State)
	T3Timeout(sessionID int)
	T6Timeout(sessionID int)
	T7Timeout(sessionID int)
	Rejected(sessionID int)
}

// atomicConnSlot is the single `selected_connection` slot a passive
// session's accepted sockets race to claim via compare-and-swap (spec.md
// §4.7's "Selection concurrency").
type atomicConnSlot struct {
	p atomic.Pointer[connection]
}

func (s *atomicConnSlot) tryClaim(c *connection) bool {
	return s.p.CompareAndSwap(nil, c)
}

func (s *atomicConnSlot) clear(c *connection) {
	s.p.CompareAndSwap(c, nil)
}

func (s *atomicConnSlot) get() *connection {
	return s.p.Load()
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithDataListener registers the callback invoked for every DATA message
// delivered while SELECTED.
func WithDataListener(fn func(*ast.DataMessage)) Option {
	return func(s *Session) { s.onData = fn }
}

// WithStateListener registers a callback invoked on every state
// transition.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) { s.onStateChange = fn }
}

// WithMetrics wires an optional metrics recorder.
func WithMetrics(m Metrics) Option { return func(s *Session) { s.metrics = m } }

// Session implements the HSMS-SS NOT-CONNECTED/CONNECTED/SELECTED state
// machine (spec.md §4.7) for one session id, in either the active or
// passive role. Grounded on AbstractHsmsSsCommunicator and its two
// concrete role implementations in original_source.
type Session struct {
	sessionID int
	addr      string
	isActive  bool
	timing    SessionTiming
	logger    *slog.Logger
	metrics   Metrics

	onData        func(*ast.DataMessage)
	onStateChange func(State)

	mu    sync.Mutex
	state State

	systemCounter uint32
	liveConn      atomic.Pointer[connection]
	selectedConn  atomicConnSlot

	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func newSession(sessionID int, addr string, timing SessionTiming, isActive bool, opts ...Option) *Session {
	s := &Session{
		sessionID: sessionID,
		addr:      addr,
		isActive:  isActive,
		timing:    timing,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewActiveSession creates a session that dials addr and initiates
// selection.
func NewActiveSession(sessionID int, addr string, timing SessionTiming, opts ...Option) *Session {
	return newSession(sessionID, addr, timing, true, opts...)
}

// NewPassiveSession creates a session that listens on addr and accepts
// SELECT-REQ from whichever peer connects first.
func NewPassiveSession(sessionID int, addr string, timing SessionTiming, opts ...Option) *Session {
	return newSession(sessionID, addr, timing, false, opts...)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open starts the connection supervisor in the background and returns
// immediately; use State or a state listener to observe progress toward
// SELECTED.
func (s *Session) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	if s.isActive {
		go s.activeLoop(ctx)
	} else {
		go s.passiveLoop(ctx)
	}
	return nil
}

// Close tears the session down: the supervisor loop and any live
// connection are stopped, and the session settles in NOT-CONNECTED.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.setState(StateNotConnected)
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.Info("hsms session state change", "sessionID", s.sessionID, "state", state.String())
	if s.metrics != nil {
		s.metrics.StateChanged(s.sessionID, state)
	}
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}

func (s *Session) nextSystemBytes() [4]byte {
	n := atomic.AddUint32(&s.systemCounter, 1)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b
}

// Send frames msg under this session's id and, if its wait bit is set,
// blocks for a reply (T3). A reply that is a reject.req fails with
// ErrRejected.
func (s *Session) Send(ctx context.Context, msg *ast.DataMessage) (*ast.DataMessage, error) {
	conn := s.liveConn.Load()
	if conn == nil {
		return nil, ErrNotConnected
	}

	systemBytes := s.nextSystemBytes()
	framed := msg.WithHeader(s.sessionID, systemBytes)

	var replyTimeout time.Duration
	if framed.WaitBit() {
		replyTimeout = s.timing.T3
	}

	frame, err := conn.send(ctx, framed.ToBytes(), systemBytes, replyTimeout)
	if err != nil {
		return nil, err
	}
	if replyTimeout == 0 {
		return nil, nil
	}
	if frame == nil {
		if s.metrics != nil {
			s.metrics.T3Timeout(s.sessionID)
		}
		return nil, ErrT3Timeout
	}
	if ast.IsControlMessage(frame) {
		if s.metrics != nil {
			s.metrics.Rejected(s.sessionID)
		}
		return nil, ErrRejected
	}
	return ast.DataMessageFromBytes(frame)
}

// SendReply frames msg under this session's id using systemBytes as given
// (reusing a primary message's system bytes, per the façade's Reply
// semantics) rather than minting a fresh one, and sends it without
// waiting for any reply.
func (s *Session) SendReply(ctx context.Context, msg *ast.DataMessage, systemBytes [4]byte) error {
	conn := s.liveConn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	framed := msg.WithHeader(s.sessionID, systemBytes)
	_, err := conn.send(ctx, framed.ToBytes(), systemBytes, 0)
	return err
}

// Linktest sends a linktest.req and waits T6 for the linktest.rsp.
func (s *Session) Linktest(ctx context.Context) error {
	conn := s.liveConn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	systemBytes := s.nextSystemBytes()
	req := ast.NewLinktestReq(systemBytes)
	frame, err := conn.send(ctx, req.ToBytes(), systemBytes, s.timing.T6)
	if err != nil {
		return err
	}
	if frame == nil {
		if s.metrics != nil {
			s.metrics.T6Timeout(s.sessionID)
		}
		return ErrT6Timeout
	}
	ctrl, decErr := ast.ControlMessageFromBytes(frame)
	if decErr != nil || ctrl.SType() != ast.STypeLinktestRsp {
		return ErrRejected
	}
	return nil
}

// activeLoop dials addr, drives one selection attempt, and serves the
// connection until it fails, then waits T5 and tries again. Grounded on
// HsmsSsActiveCommunicator.__connect/__loop.
func (s *Session) activeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.activeConnectOnce(ctx); err != nil {
			s.logger.Warn("hsms active connection ended", "sessionID", s.sessionID, "error", err)
		}
		s.setState(StateNotConnected)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.timing.T5):
		}
	}
}

func (s *Session) activeConnectOnce(ctx context.Context) error {
	tr := transport.DialActive(s.addr)
	dialCtx, cancel := context.WithTimeout(ctx, s.timing.T6)
	defer cancel()
	if err := tr.Open(dialCtx); err != nil {
		return err
	}

	pool := correlate.NewPool[[]byte]()
	frameCh := make(chan []byte, 16)
	conn := newConnection(tr, pool, s.timing.T8, func(f []byte) {
		select {
		case frameCh <- f:
		case <-ctx.Done():
		}
	})

	connDone := make(chan error, 1)
	go func() { connDone <- conn.run(ctx) }()
	s.setState(StateConnected)

	closeConn := func() error {
		conn.close()
		return <-connDone
	}

	systemBytes := s.nextSystemBytes()
	req := ast.NewSelectReq(uint16(s.sessionID), systemBytes)
	replyFrame, err := conn.send(ctx, req.ToBytes(), systemBytes, s.timing.T6)
	if err != nil {
		closeConn()
		return err
	}
	if replyFrame == nil {
		if s.metrics != nil {
			s.metrics.T6Timeout(s.sessionID)
		}
		closeConn()
		return ErrT6Timeout
	}

	rsp, decErr := ast.ControlMessageFromBytes(replyFrame)
	if decErr != nil || rsp.SType() != ast.STypeSelectRsp {
		closeConn()
		return ErrRejected
	}
	if rsp.StatusCode() != ast.SelectStatusOK && rsp.StatusCode() != ast.SelectStatusAlreadyActive {
		closeConn()
		return ErrRejected
	}

	s.setState(StateSelected)
	s.liveConn.Store(conn)
	defer s.liveConn.CompareAndSwap(conn, nil)

	return s.serveSelected(ctx, conn, frameCh, connDone)
}

// serveSelected dispatches frames for an already-SELECTED connection
// (shared by active, once selection succeeds, and passive, once a
// SELECT-REQ wins the slot): LINKTEST-REQ gets a reply, SEPARATE-REQ
// closes, DATA goes to the listener, anything else unexpected gets a
// REJECT-REQ per spec.md §4.7's "any" rows.
func (s *Session) serveSelected(ctx context.Context, conn *connection, frameCh <-chan []byte, connDone <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			conn.close()
			<-connDone
			return ctx.Err()
		case err := <-connDone:
			return err
		case frame := <-frameCh:
			if s.dispatchSelectedFrame(ctx, conn, frame) {
				conn.close()
				<-connDone
				return nil
			}
		}
	}
}

// dispatchSelectedFrame handles one frame for a SELECTED connection,
// returning true if the connection should now be closed (SEPARATE-REQ).
func (s *Session) dispatchSelectedFrame(ctx context.Context, conn *connection, frame []byte) bool {
	if !ast.IsControlMessage(frame) {
		data, err := ast.DataMessageFromBytes(frame)
		if err != nil {
			return false
		}
		if s.onData != nil {
			s.onData(data)
		}
		return false
	}

	ctrl, err := ast.ControlMessageFromBytes(frame)
	if err != nil {
		return false
	}

	switch ctrl.SType() {
	case ast.STypeLinktestReq:
		rsp := ast.NewLinktestRsp(ctrl)
		conn.send(ctx, rsp.ToBytes(), rsp.SystemBytes(), 0)
		return false
	case ast.STypeSeparateReq:
		return true
	case ast.STypeSelectReq:
		rsp := ast.NewSelectRsp(ctrl, ast.SelectStatusExhausted)
		conn.send(ctx, rsp.ToBytes(), rsp.SystemBytes(), 0)
		return false
	case ast.STypeSelectRsp, ast.STypeLinktestRsp:
		s.rejectUnsolicited(ctx, conn, ctrl, ast.RejectReasonTransactionNotOpen)
		return false
	default:
		s.rejectUnsolicited(ctx, conn, ctrl, ast.RejectReasonNotSupportType)
		return false
	}
}

func (s *Session) rejectUnsolicited(ctx context.Context, conn *connection, ctrl *ast.ControlMessage, reason byte) {
	if s.metrics != nil {
		s.metrics.Rejected(s.sessionID)
	}
	reject := ast.NewRejectReq(ctrl.SessionID(), 0, ctrl.SType(), ctrl.SystemBytes(), reason)
	conn.send(ctx, reject.ToBytes(), reject.SystemBytes(), 0)
}

// passiveLoop listens on addr, serving every accepted socket in its own
// goroutine, and re-listens after Rebind on listener failure. Grounded on
// HsmsSsPassiveCommunicator.__accept_loop.
func (s *Session) passiveLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.passiveListenOnce(ctx); err != nil {
			s.logger.Warn("hsms passive listener ended", "sessionID", s.sessionID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.timing.Rebind):
		}
	}
}

func (s *Session) passiveListenOnce(ctx context.Context) error {
	ln, err := transport.Listen(s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	var sockets sync.WaitGroup
	for {
		tr, err := ln.Accept(ctx)
		if err != nil {
			sockets.Wait()
			return err
		}
		sockets.Add(1)
		go func() {
			defer sockets.Done()
			s.passiveServeSocket(ctx, tr)
		}()
	}
}

// passiveServeSocket runs one accepted socket's full lifecycle: CONNECTED
// while it waits (T7-bounded) for a SELECT-REQ, racing every other
// concurrently-accepted socket for the single selectedConn slot via
// compare-and-swap; SELECTED once it wins; closed on SEPARATE-REQ, T7
// expiry with no SELECT-REQ ever seen, or connection failure.
func (s *Session) passiveServeSocket(ctx context.Context, tr transport.Transport) {
	if s.selectedConn.get() == nil {
		s.setState(StateConnected)
	}

	pool := correlate.NewPool[[]byte]()
	frameCh := make(chan []byte, 16)
	conn := newConnection(tr, pool, s.timing.T8, func(f []byte) {
		select {
		case frameCh <- f:
		case <-ctx.Done():
		}
	})

	connDone := make(chan error, 1)
	go func() { connDone <- conn.run(ctx) }()
	defer func() {
		conn.close()
		<-connDone
		s.selectedConn.clear(conn)
		s.liveConn.CompareAndSwap(conn, nil)
		if s.selectedConn.get() == nil {
			s.setState(StateNotConnected)
		}
	}()

	selected := false
	seenSelectReq := false
	t7 := time.NewTimer(s.timing.T7)
	defer t7.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-connDone:
			return
		case <-t7.C:
			if !seenSelectReq {
				if s.metrics != nil {
					s.metrics.T7Timeout(s.sessionID)
				}
				return
			}
		case frame := <-frameCh:
			if ast.IsControlMessage(frame) {
				ctrl, err := ast.ControlMessageFromBytes(frame)
				if err != nil {
					continue
				}
				if ctrl.SType() == ast.STypeSelectReq {
					seenSelectReq = true
					if !selected && s.selectedConn.tryClaim(conn) {
						selected = true
						s.liveConn.Store(conn)
						s.setState(StateSelected)
						rsp := ast.NewSelectRsp(ctrl, ast.SelectStatusOK)
						conn.send(ctx, rsp.ToBytes(), rsp.SystemBytes(), 0)
					} else {
						rsp := ast.NewSelectRsp(ctrl, ast.SelectStatusExhausted)
						conn.send(ctx, rsp.ToBytes(), rsp.SystemBytes(), 0)
					}
					continue
				}
				if ctrl.SType() == ast.STypeSeparateReq {
					return
				}
				if selected && s.dispatchSelectedFrame(ctx, conn, frame) {
					return
				}
				if !selected {
					s.rejectUnsolicited(ctx, conn, ctrl, ast.RejectReasonNotSupportType)
				}
				continue
			}

			if !selected {
				data, err := ast.DataMessageFromBytes(frame)
				if err != nil {
					continue
				}
				if s.metrics != nil {
					s.metrics.Rejected(s.sessionID)
				}
				reject := ast.NewRejectReq(uint16(data.SessionID()), 0, 0, data.SystemBytes(), ast.RejectReasonNotSelected)
				conn.send(ctx, reject.ToBytes(), reject.SystemBytes(), 0)
				continue
			}
			s.dispatchSelectedFrame(ctx, conn, frame)
		}
	}
}
