package secsgo

import (
	"context"
	"fmt"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/correlate"
	"github.com/takumi-sec/gosecs/pkg/secs1"
	"github.com/takumi-sec/gosecs/pkg/transport"
	serialtransport "github.com/takumi-sec/gosecs/pkg/transport/serial"
)

// Secs1 is a SECS-I communicator: the ENQ/EOT/ACK/NAK block-transfer
// circuit over either RS-232C (SerialPort set) or a TCP tunnel standing in
// for it (IPAddress/Port set). Grounded on AbstractSecs1Communicator in
// original_source's secs1communicator.py.
type Secs1 struct {
	*core
	cfg     Config
	timing  secs1.Timing
	circuit *secs1.Circuit
	pool    *correlate.Pool[*ast.DataMessage]
}

// NewSecs1 creates a SECS-I communicator. The master/slave ENQ-contention
// role comes from cfg.IsMaster; when tunneling over TCP the same flag also
// picks which side dials and which listens, since SECS-I itself has no
// notion of which endpoint initiates the socket.
func NewSecs1(cfg Config) *Secs1 {
	s := &Secs1{cfg: cfg}
	s.core = newCore(cfg, s)

	tr := newSecs1Transport(cfg)
	s.pool = correlate.NewPool[*ast.DataMessage]()
	s.timing = timingFromConfig(cfg)
	s.circuit = secs1.NewCircuit(tr, cfg.DeviceID, cfg.IsMaster, s.timing, s.pool, func(msg *secs1.Message) {
		s.putRecvPrimaryMsg(msg)
		s.putRecvAllMsg(msg)
	})
	return s
}

func newSecs1Transport(cfg Config) transport.Transport {
	if cfg.SerialPort != "" {
		return serialtransport.New(cfg.SerialPort, cfg.BaudRate)
	}
	addr := fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)
	if cfg.IsMaster {
		return transport.NewTCPTunnelDial(addr)
	}
	return transport.NewTCPTunnelListen(addr)
}

func timingFromConfig(cfg Config) secs1.Timing {
	t := secs1.DefaultTiming()
	if cfg.TimeoutT1 > 0 {
		t.T1 = cfg.TimeoutT1
	}
	if cfg.TimeoutT2 > 0 {
		t.T2 = cfg.TimeoutT2
	}
	if cfg.TimeoutT3 > 0 {
		t.T3 = cfg.TimeoutT3
	}
	if cfg.TimeoutT4 > 0 {
		t.T4 = cfg.TimeoutT4
	}
	if cfg.Retry > 0 {
		t.Retry = cfg.Retry
	}
	return t
}

func (s *Secs1) Open(ctx context.Context) error {
	first, err := s.markOpened()
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	if err := s.circuit.Open(ctx); err != nil {
		return err
	}
	s.setCommunicating(true)
	return nil
}

func (s *Secs1) Close() error {
	s.markClosed()
	return s.circuit.Close()
}

func (s *Secs1) Send(ctx context.Context, stream, function int, waitBit bool, item ast.ItemNode) (Message, error) {
	if !s.IsOpen() {
		return nil, ErrNotOpen
	}
	systemBytes := s.nextSystemBytes()
	msg := secs1.NewMessage(s.cfg.DeviceID, s.cfg.IsEquip, stream, function, waitBit, item, systemBytes)

	if waitBit {
		s.pool.Register(systemBytes)
		defer s.pool.Deregister(systemBytes)
	}

	err := s.circuit.Send(ctx, msg)
	s.putSentMsg(msg)
	if err != nil {
		return nil, newSendError(msg, err)
	}
	if !waitBit {
		return nil, nil
	}

	reply, ok := s.pool.Wait(systemBytes, s.timing.T3)
	if !ok {
		return nil, newWaitReplyError(msg, secs1.ErrT3Timeout)
	}
	s.putRecvAllMsg(reply)
	return reply, nil
}

func (s *Secs1) Reply(ctx context.Context, primary Message, stream, function int, waitBit bool, item ast.ItemNode) (Message, error) {
	if !s.IsOpen() {
		return nil, ErrNotOpen
	}
	msg := secs1.NewMessage(s.cfg.DeviceID, s.cfg.IsEquip, stream, function, waitBit, item, primary.SystemBytes())
	err := s.circuit.Send(ctx, msg)
	s.putSentMsg(msg)
	if err != nil {
		return nil, newSendError(msg, err)
	}
	return nil, nil
}
