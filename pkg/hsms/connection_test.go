package hsms

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/correlate"
)

// pipeConn adapts a net.Conn (from net.Pipe) to transport.Transport for
// in-process connection tests.
type pipeConn struct {
	conn net.Conn
}

func (p *pipeConn) Open(ctx context.Context) error { return nil }

func (p *pipeConn) ReadBytes(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetReadDeadline(deadline)
	} else {
		p.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 4096)
	n, err := p.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

func (p *pipeConn) WriteBytes(ctx context.Context, b []byte) error {
	_, err := p.conn.Write(b)
	return err
}

func (p *pipeConn) Close() error { return p.conn.Close() }

func TestConnectionFrameReaderDeliversUnsolicitedFrameToOnFrame(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	received := make(chan []byte, 1)
	pool := correlate.NewPool[[]byte]()
	c := newConnection(&pipeConn{conn: connA}, pool, time.Second, func(f []byte) { received <- f })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.run(ctx)

	req := ast.NewLinktestReq([4]byte{0, 0, 0, 7})
	_, err := connB.Write(req.ToBytes())
	require.NoError(t, err)

	select {
	case frame := <-received:
		ctrl, err := ast.ControlMessageFromBytes(frame)
		require.NoError(t, err)
		assert.Equal(t, ast.STypeLinktestReq, ctrl.SType())
	case <-time.After(2 * time.Second):
		t.Fatal("onFrame never received the linktest.req")
	}
}

func TestConnectionSendWaitsForCorrelatedReply(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	pool := correlate.NewPool[[]byte]()
	c := newConnection(&pipeConn{conn: connA}, pool, time.Second, func(f []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.run(ctx)

	systemBytes := [4]byte{0, 0, 0, 9}
	req := ast.NewSelectReq(1, systemBytes)

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()

	replyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		frame, err := c.send(sendCtx, req.ToBytes(), systemBytes, 2*time.Second)
		replyCh <- frame
		errCh <- err
	}()

	// Stand in for the peer: read the select.req off connB and echo back
	// a select.rsp with the same system bytes so c.send's registered
	// Wait resolves.
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 14)
	_, err := readFull(connB, buf)
	require.NoError(t, err)

	rsp := ast.NewSelectRsp(req, ast.SelectStatusOK)
	_, err = connB.Write(rsp.ToBytes())
	require.NoError(t, err)

	select {
	case frame := <-replyCh:
		require.NoError(t, <-errCh)
		got, err := ast.ControlMessageFromBytes(frame)
		require.NoError(t, err)
		assert.Equal(t, ast.STypeSelectRsp, got.SType())
	case <-time.After(3 * time.Second):
		t.Fatal("send never resolved the correlated reply")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
