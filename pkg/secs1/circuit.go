package secs1

import (
	"context"
	"sync"
	"time"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/correlate"
	"github.com/takumi-sec/gosecs/pkg/queue"
	"github.com/takumi-sec/gosecs/pkg/transport"
)

const (
	enqByte byte = 0x05
	eotByte byte = 0x04
	ackByte byte = 0x06
	nakByte byte = 0x15
)

// Timing holds the SECS-I timeouts (spec.md §4.8): T1 inter-character,
// T2 protocol, T3 reply, T4 inter-block, plus the per-message block retry
// count.
type Timing struct {
	T1    time.Duration
	T2    time.Duration
	T3    time.Duration
	T4    time.Duration
	Retry int
}

// DefaultTiming returns SEMI-E4's default timeouts.
func DefaultTiming() Timing {
	return Timing{
		T1:    500 * time.Millisecond,
		T2:    10 * time.Second,
		T3:    45 * time.Second,
		T4:    45 * time.Second,
		Retry: 3,
	}
}

// Circuit drives the ENQ/EOT/ACK/NAK link-control loop over a
// transport.Transport. One Circuit handles one physical line (serial
// port, or a TCP tunnel standing in for one). Grounded on
// Secs1Circuit/SendSecs1MessagePack in original_source's
// secs1communicator.py, completing its #TODO branches per spec.md §4.8.
type Circuit struct {
	tr       transport.Transport
	deviceID int
	isMaster bool
	timing   Timing
	pool     *correlate.Pool[*ast.DataMessage]
	onRecv   func(*Message)

	acc    *queue.ByteAccumulator
	sendCh chan *sendRequest

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	done   chan struct{}
}

type sendRequest struct {
	msg    *Message
	result chan error
}

// NewCircuit creates a circuit. onRecv is invoked for every fully
// reassembled message that is not claimed by a pending correlate.Pack
// (i.e. every primary message and every unsolicited reply); pool is
// shared with the caller so it can Register/Wait for replies the same
// way pkg/hsms does.
func NewCircuit(tr transport.Transport, deviceID int, isMaster bool, timing Timing, pool *correlate.Pool[*ast.DataMessage], onRecv func(*Message)) *Circuit {
	return &Circuit{
		tr:       tr,
		deviceID: deviceID,
		isMaster: isMaster,
		timing:   timing,
		pool:     pool,
		onRecv:   onRecv,
		acc:      queue.NewByteAccumulator(),
		sendCh:   make(chan *sendRequest, 16),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Open dials/accepts the transport and starts the reader and circuit
// goroutines.
func (c *Circuit) Open(ctx context.Context) error {
	if err := c.tr.Open(ctx); err != nil {
		return err
	}
	c.acc.Open()

	go c.readLoop()
	go c.circuitLoop()
	return nil
}

// Close shuts the circuit down: pending Send calls fail with
// transport.ErrClosed-wrapping errors, and the reader/circuit goroutines
// exit.
func (c *Circuit) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.acc.Close()
	c.pool.Shutdown()
	err := c.tr.Close()
	<-c.done
	return err
}

func (c *Circuit) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readLoop pumps bytes from the transport into the byte accumulator until
// the transport errors out or the circuit is closed.
func (c *Circuit) readLoop() {
	for {
		if c.isClosed() {
			return
		}
		b, err := c.tr.ReadBytes(context.Background())
		if err != nil {
			return
		}
		c.acc.Put(b)
	}
}

// Send fragments msg and runs the send side of the circuit, blocking
// until the message (or, on ENQ-contention yield, an incoming message) is
// fully handled. It does not wait for a reply; callers that need one
// register with the shared correlate.Pool before calling Send.
func (c *Circuit) Send(ctx context.Context, msg *Message) error {
	req := &sendRequest{msg: msg, result: make(chan error, 1)}
	select {
	case c.sendCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return transport.ErrClosed
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return transport.ErrClosed
	}
}

// circuitLoop is the outer dispatch loop: at idle, it waits for either a
// queued Send or an incoming ENQ byte, and runs the matching side of the
// protocol to completion before looping again. Grounded on
// Secs1Circuit.__circuit.
func (c *Circuit) circuitLoop() {
	defer close(c.done)

	const pollTick = 50 * time.Millisecond
	for {
		select {
		case req := <-c.sendCh:
			req.result <- c.runSend(req.msg)
			continue
		default:
		}

		if c.isClosed() {
			return
		}

		b, ok := c.acc.Fill(1, pollTick)
		if !ok {
			continue
		}
		if b[0] == enqByte {
			c.receiveMessage()
		}
	}
}

func (c *Circuit) writeBytes(b []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timing.T2)
	defer cancel()
	return c.tr.WriteBytes(ctx, b)
}

// runSend executes the ENQ/EOT/ACK/NAK loop for one outgoing message
// (spec.md §4.8 "Send one message"). If the peer's ENQ wins line
// contention and this circuit is not master, it yields, services the
// peer's message as a receiver, and restarts its own send from block one
// — mirroring Secs1Circuit.__circuit, which leaves the message at the
// head of its queue on a yield rather than popping it.
func (c *Circuit) runSend(msg *Message) error {
	blocks := msg.ToBlocks()
	for {
		yielded, err := c.runSendAttempt(blocks)
		if yielded {
			continue
		}
		return err
	}
}

// runSendAttempt runs one full attempt at sending blocks from the start,
// returning yielded=true if line contention handed the circuit over to
// receiveMessage partway through (in which case err is always nil and the
// caller should retry the whole message).
func (c *Circuit) runSendAttempt(blocks []Block) (yielded bool, err error) {
	present := 0
	retries := 0

	for {
		c.writeBytes([]byte{enqByte})

		b, ok := c.acc.Fill(1, c.timing.T2)
		if !ok {
			retries++
		} else {
			switch b[0] {
			case enqByte:
				if !c.isMaster {
					c.receiveMessage()
					return true, nil
				}

				b2, ok2 := c.acc.Fill(1, c.timing.T2)
				if ok2 && b2[0] == eotByte {
					if c.sendOneBlock(blocks[present]) {
						if blocks[present].HasEBit() {
							return false, nil
						}
						present++
						retries = 0
						continue
					}
					retries++
				} else {
					retries++
				}

			case eotByte:
				if c.sendOneBlock(blocks[present]) {
					if blocks[present].HasEBit() {
						return false, nil
					}
					present++
					retries = 0
					continue
				}
				retries++

			default:
				retries++
			}
		}

		if retries > c.timing.Retry {
			return false, ErrRetryOver
		}
	}
}

// sendOneBlock writes one framed block and waits for the peer's ACK.
func (c *Circuit) sendOneBlock(block Block) bool {
	c.writeBytes(block.ToBytes())
	b, ok := c.acc.Fill(1, c.timing.T2)
	return ok && b[0] == ackByte
}

// receiveMessage runs the receive side starting from an observed ENQ,
// reassembling one or more blocks into a complete message (spec.md §4.8
// "Receive one message"). Errors are swallowed after the NAK/garbage
// handling they triggered has already run; the peer is expected to retry.
func (c *Circuit) receiveMessage() {
	var recvBlocks []Block

	for {
		block, err := c.receiveOneBlock()
		if err != nil {
			return
		}

		switch {
		case len(recvBlocks) == 0:
			recvBlocks = []Block{block}
		case recvBlocks[len(recvBlocks)-1].IsNextBlock(block):
			recvBlocks = append(recvBlocks, block)
		case recvBlocks[len(recvBlocks)-1].IsSameBlock(block):
			// duplicate retransmission of an already-ACKed block; ignore
			// and keep waiting for the real next one.
		default:
			recvBlocks = []Block{block}
		}

		if block.HasEBit() {
			msg, err := FromBlocks(recvBlocks)
			if err == nil {
				c.deliver(msg)
			}
			return
		}

		// Intermediate block of a long reply: reset the correlator's
		// deadline for this system id (spec.md's T3-reset resolution),
		// then wait T4 for the next ENQ.
		c.pool.ResetTimer(block.SystemBytes(), c.timing.T3)

		b, ok := c.acc.Fill(1, c.timing.T4)
		if !ok || b[0] != enqByte {
			return
		}
	}
}

// receiveOneBlock runs one ENQ-to-ACK/NAK exchange: reply EOT, read the
// length byte under T2, the remaining length+2 bytes under T1 per byte,
// verify the checksum, and ACK or NAK.
func (c *Circuit) receiveOneBlock() (Block, error) {
	c.writeBytes([]byte{eotByte})

	lengthByte, ok := c.acc.Fill(1, c.timing.T2)
	if !ok {
		c.writeBytes([]byte{nakByte})
		return Block{}, ErrT2Timeout
	}

	length := int(lengthByte[0])
	if length < 10 || length > 254 {
		c.acc.DrainUntilSilence(c.timing.T1)
		c.writeBytes([]byte{nakByte})
		return Block{}, ErrBadBlockLength
	}

	rest := make([]byte, 0, length+2)
	for i := 0; i < length+2; i++ {
		b, ok := c.acc.Fill(1, c.timing.T1)
		if !ok {
			c.writeBytes([]byte{nakByte})
			return Block{}, ErrT1Timeout
		}
		rest = append(rest, b...)
	}

	raw := append([]byte{lengthByte[0]}, rest...)
	block := blockFromRaw(raw)
	if !block.VerifyChecksum() {
		c.acc.DrainUntilSilence(c.timing.T1)
		c.writeBytes([]byte{nakByte})
		return Block{}, ErrChecksumMismatch
	}

	c.writeBytes([]byte{ackByte})
	return block, nil
}

// deliver routes a reassembled message to the correlator pool (if it was
// a solicited reply) or the primary-message listener.
func (c *Circuit) deliver(msg *Message) {
	asData := ast.NewDataMessage(msg.stream, msg.function, msg.waitBit, msg.item).
		WithHeader(msg.deviceID, msg.systemBytes)
	if c.pool.Deliver(asData.SystemBytes(), asData) {
		return
	}
	if c.onRecv != nil {
		c.onRecv(msg)
	}
}
