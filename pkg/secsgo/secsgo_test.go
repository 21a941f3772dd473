package secsgo_test

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/secsgo"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func shortCfg(addr string) secsgo.Config {
	cfg := secsgo.DefaultConfig()
	cfg.IPAddress, cfg.Port = splitHostPort(addr)
	cfg.TimeoutT3 = 2 * time.Second
	cfg.TimeoutT5 = 200 * time.Millisecond
	cfg.TimeoutT6 = time.Second
	cfg.TimeoutT7 = 500 * time.Millisecond
	cfg.TimeoutT8 = time.Second
	cfg.TimeoutRebind = 200 * time.Millisecond
	return cfg
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		panic(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		panic(err)
	}
	return host, port
}

func TestHsmsActivePassiveSendReplyRoundTrip(t *testing.T) {
	addr := freeAddr(t)
	passiveCfg := shortCfg(addr)
	passiveCfg.DeviceID = 1
	activeCfg := shortCfg(addr)
	activeCfg.DeviceID = 1

	passive := secsgo.NewHsmsPassive(passiveCfg)
	active := secsgo.NewHsmsActive(activeCfg)

	passive.AddRecvPrimaryMsgListener(func(msg secsgo.Message, comm secsgo.Communicator) {
		item, err := ast.Build(ast.KindASCII, "PONG")
		require.NoError(t, err)
		_, err = comm.Reply(context.Background(), msg, msg.StreamCode(), msg.FunctionCode()+1, false, item)
		assert.NoError(t, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, passive.OpenAndWaitUntilCommunicating(ctx))
	defer passive.Close()
	require.NoError(t, active.OpenAndWaitUntilCommunicating(ctx))
	defer active.Close()

	item, err := ast.Build(ast.KindASCII, "PING")
	require.NoError(t, err)

	reply, err := active.Send(ctx, 1, 1, true, item)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, 2, reply.FunctionCode())
}

func TestHsmsSendSMLRoundTrip(t *testing.T) {
	addr := freeAddr(t)
	passiveCfg := shortCfg(addr)
	passiveCfg.DeviceID = 2
	activeCfg := shortCfg(addr)
	activeCfg.DeviceID = 2

	passive := secsgo.NewHsmsPassive(passiveCfg)
	active := secsgo.NewHsmsActive(activeCfg)

	passive.AddRecvPrimaryMsgListener(func(msg secsgo.Message, comm secsgo.Communicator) {
		_, err := comm.ReplySML(context.Background(), msg, `S1F2 <L>.`)
		assert.NoError(t, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, passive.OpenAndWaitUntilCommunicating(ctx))
	defer passive.Close()
	require.NoError(t, active.OpenAndWaitUntilCommunicating(ctx))
	defer active.Close()

	reply, err := active.SendSML(ctx, `S1F1 W <L>.`)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, 2, reply.FunctionCode())
}

func TestHsmsAllMessagesListenerSeesReceivedReply(t *testing.T) {
	addr := freeAddr(t)
	passiveCfg := shortCfg(addr)
	passiveCfg.DeviceID = 3
	activeCfg := shortCfg(addr)
	activeCfg.DeviceID = 3

	passive := secsgo.NewHsmsPassive(passiveCfg)
	active := secsgo.NewHsmsActive(activeCfg)

	passive.AddRecvPrimaryMsgListener(func(msg secsgo.Message, comm secsgo.Communicator) {
		item, _ := ast.Build(ast.KindList)
		_, _ = comm.Reply(context.Background(), msg, msg.StreamCode(), msg.FunctionCode()+1, false, item)
	})

	var mu sync.Mutex
	var allSeen []secsgo.Message
	active.AddRecvAllMsgListener(func(msg secsgo.Message, comm secsgo.Communicator) {
		mu.Lock()
		allSeen = append(allSeen, msg)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, passive.OpenAndWaitUntilCommunicating(ctx))
	defer passive.Close()
	require.NoError(t, active.OpenAndWaitUntilCommunicating(ctx))
	defer active.Close()

	item, err := ast.Build(ast.KindList)
	require.NoError(t, err)
	_, err = active.Send(ctx, 1, 1, true, item)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(allSeen) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOpenCloseIdempotent(t *testing.T) {
	addr := freeAddr(t)
	cfg := shortCfg(addr)
	cfg.DeviceID = 4
	passive := secsgo.NewHsmsPassive(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, passive.Open(ctx))
	require.NoError(t, passive.Open(ctx))
	assert.True(t, passive.IsOpen())

	require.NoError(t, passive.Close())
	require.NoError(t, passive.Close())
	assert.True(t, passive.IsClosed())
}

func TestOpenAndWaitUntilCommunicatingRespectsContextCancel(t *testing.T) {
	addr := freeAddr(t)
	cfg := shortCfg(addr)
	cfg.DeviceID = 5
	// No passive peer listening: active keeps retrying past T5 until ctx
	// expires, and OpenAndWaitUntilCommunicating must return that error
	// rather than block forever.
	active := secsgo.NewHsmsActive(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := active.OpenAndWaitUntilCommunicating(ctx)
	assert.Error(t, err)
	active.Close()
}

func TestCommunicateListenerReplaysCurrentStateOnRegistration(t *testing.T) {
	addr := freeAddr(t)
	cfg := shortCfg(addr)
	cfg.DeviceID = 6
	passive := secsgo.NewHsmsPassive(cfg)

	called := false
	var gotState bool
	passive.AddCommunicateListener(func(state bool, comm secsgo.Communicator) {
		called = true
		gotState = state
	})
	assert.True(t, called, "registration must synchronously replay current state")
	assert.False(t, gotState, "communicator has not opened yet")
}
