// Package transport defines the byte-stream abstraction that the HSMS
// connection engine and SECS-I circuit are built on, plus stdlib TCP
// adapters for it. A Transport is intentionally dumb: it knows nothing
// about HSMS frames or SECS-I blocks, only how to move bytes.
package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// Transport is the dependency-injection seam between the protocol engines
// and the wire: TCP for HSMS, TCP or RS-232C for SECS-I.
type Transport interface {
	// Open establishes the underlying connection (dialing or accepting).
	Open(ctx context.Context) error

	// ReadBytes returns the next chunk of bytes available, blocking until
	// at least one byte arrives, ctx is canceled, or the transport closes.
	ReadBytes(ctx context.Context) ([]byte, error)

	// WriteBytes writes b in full.
	WriteBytes(ctx context.Context, b []byte) error

	// Close shuts the transport down. Idempotent.
	Close() error
}

// ErrClosed is returned by ReadBytes/WriteBytes before Open or after Close.
var ErrClosed = errors.New("transport: closed")

// tcpConn is the shared read/write/close implementation for the TCP
// adapters below; DialActive and ListenPassive differ only in how the
// net.Conn is obtained.
type tcpConn struct {
	conn    net.Conn
	readBuf [4096]byte
}

func (t *tcpConn) ReadBytes(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
	} else {
		t.conn.SetReadDeadline(time.Time{})
	}
	n, err := t.conn.Read(t.readBuf[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, t.readBuf[:n])
	return out, nil
}

func (t *tcpConn) WriteBytes(ctx context.Context, b []byte) error {
	if t.conn == nil {
		return ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *tcpConn) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// activeTCP dials out (HSMS active / SECS-I-over-TCP client side).
type activeTCP struct {
	tcpConn
	addr string
}

// DialActive creates a Transport that dials addr on Open.
func DialActive(addr string) Transport {
	return &activeTCP{addr: addr}
}

func (a *activeTCP) Open(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", a.addr)
	if err != nil {
		return err
	}
	a.conn = conn
	return nil
}

// passiveTCP accepts one inbound connection (HSMS passive / SECS-I-over-TCP
// server side).
type passiveTCP struct {
	tcpConn
	addr     string
	listener net.Listener
}

// ListenPassive creates a Transport that listens on addr and accepts a
// single connection on Open.
func ListenPassive(addr string) Transport {
	return &passiveTCP{addr: addr}
}

func (p *passiveTCP) Open(ctx context.Context) error {
	l, err := net.Listen("tcp", p.addr)
	if err != nil {
		return err
	}
	p.listener = l

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			l.Close()
			return r.err
		}
		p.conn = r.conn
		return nil
	case <-ctx.Done():
		l.Close()
		return ctx.Err()
	}
}

func (p *passiveTCP) Close() error {
	var err error
	if p.listener != nil {
		err = p.listener.Close()
		p.listener = nil
	}
	if cerr := p.tcpConn.Close(); cerr != nil {
		err = cerr
	}
	return err
}

// TCPTunnel carries raw SECS-I bytes over a plain TCP connection, with no
// HSMS framing — used to run SECS-I equipment emulators over a network
// link instead of real RS-232C hardware.
type TCPTunnel struct {
	tcpConn
	addr   string
	active bool
}

// NewTCPTunnelDial creates a tunnel that dials addr on Open.
func NewTCPTunnelDial(addr string) *TCPTunnel {
	return &TCPTunnel{addr: addr, active: true}
}

// NewTCPTunnelListen creates a tunnel that listens on addr and accepts one
// connection on Open.
func NewTCPTunnelListen(addr string) *TCPTunnel {
	return &TCPTunnel{addr: addr, active: false}
}

// Listener accepts repeated inbound connections, each wrapped as its own
// Transport — used by HSMS passive, which must be able to field several
// concurrently connecting sockets and resolve SELECT-REQ contention
// between them, unlike ListenPassive's single-connection accept.
type Listener struct {
	l net.Listener
}

// Listen opens a TCP listener for repeated Accept calls.
func Listen(addr string) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{l: l}, nil
}

// Accept blocks for one inbound connection, returning it as a Transport
// whose Open is a no-op (the connection is already established).
func (ln *Listener) Accept(ctx context.Context) (Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.l.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return &acceptedTCP{tcpConn{conn: r.conn}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections.
func (ln *Listener) Close() error { return ln.l.Close() }

// acceptedTCP wraps a connection obtained from Listener.Accept. Open is a
// no-op since the connection already exists.
type acceptedTCP struct {
	tcpConn
}

func (a *acceptedTCP) Open(ctx context.Context) error { return nil }

func (t *TCPTunnel) Open(ctx context.Context) error {
	if t.active {
		a := DialActive(t.addr).(*activeTCP)
		if err := a.Open(ctx); err != nil {
			return err
		}
		t.conn = a.conn
		return nil
	}

	p := ListenPassive(t.addr).(*passiveTCP)
	if err := p.Open(ctx); err != nil {
		return err
	}
	t.conn = p.conn
	return nil
}
