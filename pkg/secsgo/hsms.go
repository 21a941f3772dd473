package secsgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/hsms"
)

// hsmsCommunicator is the shared implementation behind HsmsActive and
// HsmsPassive: the two roles differ only in which hsms.Session
// constructor builds the underlying state machine, not in how Open,
// Close, Send or Reply work.
type hsmsCommunicator struct {
	*core
	cfg     Config
	session *hsms.Session
}

func (hc *hsmsCommunicator) sessionOptions() []hsms.Option {
	opts := []hsms.Option{
		hsms.WithDataListener(func(msg *ast.DataMessage) {
			hc.putRecvPrimaryMsg(msg)
			hc.putRecvAllMsg(msg)
		}),
		hsms.WithStateListener(func(state hsms.State) {
			hc.setCommunicating(state == hsms.StateSelected)
		}),
	}
	if hc.cfg.HsmsMetrics != nil {
		opts = append(opts, hsms.WithMetrics(hc.cfg.HsmsMetrics))
	}
	return opts
}

func (hc *hsmsCommunicator) Open(ctx context.Context) error {
	first, err := hc.markOpened()
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	return hc.session.Open(ctx)
}

func (hc *hsmsCommunicator) Close() error {
	hc.markClosed()
	return hc.session.Close()
}

func (hc *hsmsCommunicator) Send(ctx context.Context, stream, function int, waitBit bool, item ast.ItemNode) (Message, error) {
	if !hc.IsOpen() {
		return nil, ErrNotOpen
	}
	msg := ast.NewDataMessage(stream, function, waitBit, item)
	reply, err := hc.session.Send(ctx, msg)
	hc.putSentMsg(msg)
	if err != nil {
		if errors.Is(err, hsms.ErrT3Timeout) || errors.Is(err, hsms.ErrRejected) {
			return nil, newWaitReplyError(msg, err)
		}
		return nil, newSendError(msg, err)
	}
	if reply == nil {
		return nil, nil
	}
	hc.putRecvAllMsg(reply)
	return reply, nil
}

func (hc *hsmsCommunicator) Reply(ctx context.Context, primary Message, stream, function int, waitBit bool, item ast.ItemNode) (Message, error) {
	if !hc.IsOpen() {
		return nil, ErrNotOpen
	}
	msg := ast.NewDataMessage(stream, function, waitBit, item)
	err := hc.session.SendReply(ctx, msg, primary.SystemBytes())
	hc.putSentMsg(msg)
	if err != nil {
		return nil, newSendError(msg, err)
	}
	return nil, nil
}

// HsmsActive is an HSMS-SS communicator in the active role: it dials the
// peer and initiates SELECT-REQ, reconnecting with T5 backoff on failure.
type HsmsActive struct {
	*hsmsCommunicator
}

// NewHsmsActive creates an active HSMS-SS communicator. opts are passed
// through to the underlying hsms.Session (e.g. WithLogger, WithMetrics).
func NewHsmsActive(cfg Config, opts ...hsms.Option) *HsmsActive {
	hc := &hsmsCommunicator{cfg: cfg}
	a := &HsmsActive{hsmsCommunicator: hc}
	hc.core = newCore(cfg, a)
	addr := fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)
	hc.session = hsms.NewActiveSession(cfg.DeviceID, addr, sessionTimingFromConfig(cfg), append(hc.sessionOptions(), opts...)...)
	return a
}

// HsmsPassive is an HSMS-SS communicator in the passive role: it listens
// for inbound sockets, accepting the first SELECT-REQ to win and
// rejecting/closing the rest per spec.md §4.7's contention rules.
type HsmsPassive struct {
	*hsmsCommunicator
}

// NewHsmsPassive creates a passive HSMS-SS communicator.
func NewHsmsPassive(cfg Config, opts ...hsms.Option) *HsmsPassive {
	hc := &hsmsCommunicator{cfg: cfg}
	p := &HsmsPassive{hsmsCommunicator: hc}
	hc.core = newCore(cfg, p)
	addr := fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)
	hc.session = hsms.NewPassiveSession(cfg.DeviceID, addr, sessionTimingFromConfig(cfg), append(hc.sessionOptions(), opts...)...)
	return p
}

func sessionTimingFromConfig(cfg Config) hsms.SessionTiming {
	t := hsms.DefaultSessionTiming()
	if cfg.TimeoutT3 > 0 {
		t.T3 = cfg.TimeoutT3
	}
	if cfg.TimeoutT5 > 0 {
		t.T5 = cfg.TimeoutT5
	}
	if cfg.TimeoutT6 > 0 {
		t.T6 = cfg.TimeoutT6
	}
	if cfg.TimeoutT7 > 0 {
		t.T7 = cfg.TimeoutT7
	}
	if cfg.TimeoutT8 > 0 {
		t.T8 = cfg.TimeoutT8
	}
	if cfg.TimeoutRebind > 0 {
		t.Rebind = cfg.TimeoutRebind
	}
	return t
}
