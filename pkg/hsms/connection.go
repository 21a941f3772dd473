package hsms

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takumi-sec/gosecs/pkg/correlate"
	"github.com/takumi-sec/gosecs/pkg/queue"
	"github.com/takumi-sec/gosecs/pkg/transport"
)

// connection wraps one established HSMS socket: a byte reader pumping
// bytes off the wire, a frame reader reassembling length-prefixed HSMS
// frames, and a sender that writes frames and, for control requests and
// w-bit data, waits on a reply slot in the shared correlator pool. The
// pool is keyed on raw frame bytes rather than a decoded message type,
// since a reply may legitimately be either a data message or a control
// message (reject.req). Grounded on HsmsSsConnection in original_source's
// hsmssscommunicator.py.
type connection struct {
	tr   transport.Transport
	pool *correlate.Pool[[]byte]
	t8   time.Duration

	acc *queue.ByteAccumulator

	sendMu sync.Mutex

	onFrame func(frame []byte)
}

func newConnection(tr transport.Transport, pool *correlate.Pool[[]byte], t8 time.Duration, onFrame func([]byte)) *connection {
	return &connection{tr: tr, pool: pool, t8: t8, acc: queue.NewByteAccumulator(), onFrame: onFrame}
}

// run starts the byte reader and frame reader as two goroutines sharing
// one errgroup: a failure in either (socket error, T8 timeout) cancels
// ctx for the other, so run returns as soon as the connection is no
// longer usable in either direction.
func (c *connection) run(ctx context.Context) error {
	c.acc.Open()
	defer c.acc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.byteReader(gctx) })
	g.Go(func() error { return c.frameReader(gctx) })
	return g.Wait()
}

func (c *connection) byteReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := c.tr.ReadBytes(ctx)
		if err != nil {
			return err
		}
		c.acc.Put(b)
	}
}

// frameReader pulls a 4-byte length prefix and the body it announces off
// the accumulator, applying T8 between every byte after the first (the
// first byte of a new frame has no deadline — the connection may sit
// idle indefinitely between messages). Every reassembled frame is first
// offered to the correlator pool; a frame whose system bytes match a
// pending Wait is a solicited reply and stops there, otherwise it is
// handed to onFrame for the session FSM to dispatch. Grounded on the
// heads/bodys put_to_list loop in HsmsSsConnection.open's _recv_bytes.
func (c *connection) frameReader(ctx context.Context) error {
	for {
		first, ok := c.acc.Fill(1, 0)
		if !ok {
			return nil
		}

		frame := make([]byte, 0, 14)
		frame = append(frame, first...)
		for len(frame) < 4 {
			b, ok := c.acc.Fill(1, c.t8)
			if !ok {
				return newError(KindT8Timeout, "reading frame length")
			}
			frame = append(frame, b...)
		}

		bodyLen := int(binary.BigEndian.Uint32(frame))
		total := 4 + bodyLen
		for len(frame) < total {
			b, ok := c.acc.Fill(1, c.t8)
			if !ok {
				return newError(KindT8Timeout, "reading frame body")
			}
			frame = append(frame, b...)
		}

		if c.pool.Deliver(frameSystemBytes(frame), frame) {
			continue
		}
		c.onFrame(frame)
	}
}

// frameSystemBytes reads the system-bytes field shared by every HSMS
// header, data or control, at the same offset.
func frameSystemBytes(frame []byte) [4]byte {
	var b [4]byte
	if len(frame) >= 14 {
		copy(b[:], frame[10:14])
	}
	return b
}

// send writes frame and, if replyTimeout is positive, registers
// systemBytes with the correlator pool and waits for a reply, returning
// its raw bytes. The caller is responsible for decoding the reply and
// interpreting it — including recognizing a reject.req reply and
// translating it to ErrRejected, since what counts as "rejected" differs
// between a control transaction and a data transaction.
func (c *connection) send(ctx context.Context, frame []byte, systemBytes [4]byte, replyTimeout time.Duration) ([]byte, error) {
	if replyTimeout > 0 {
		c.pool.Register(systemBytes)
		defer c.pool.Deregister(systemBytes)
	}

	c.sendMu.Lock()
	err := c.tr.WriteBytes(ctx, frame)
	c.sendMu.Unlock()
	if err != nil {
		return nil, newError(KindSendFailed, "write: %v", err)
	}

	if replyTimeout <= 0 {
		return nil, nil
	}

	reply, ok := c.pool.Wait(systemBytes, replyTimeout)
	if !ok {
		return nil, nil
	}
	return reply, nil
}

// close tears the connection down; safe to call multiple times.
func (c *connection) close() error {
	return c.tr.Close()
}
