package correlate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/ast"
	"github.com/takumi-sec/gosecs/pkg/correlate"
)

func TestDeliverWakesWaiter(t *testing.T) {
	pool := correlate.NewPool[*ast.DataMessage]()
	key := [4]byte{0, 0, 0, 1}
	pool.Register(key)
	defer pool.Deregister(key)

	reply := ast.NewDataMessage(1, 14, false, nil).WithHeader(1, key)

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, ok := pool.Wait(key, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, reply, got)
	}()

	time.Sleep(20 * time.Millisecond)
	delivered := pool.Deliver(key, reply)
	assert.True(t, delivered)

	<-done
}

func TestWaitTimesOutWithoutReply(t *testing.T) {
	pool := correlate.NewPool[*ast.DataMessage]()
	key := [4]byte{0, 0, 0, 2}
	pool.Register(key)
	defer pool.Deregister(key)

	_, ok := pool.Wait(key, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestDeliverUnregisteredReturnsFalse(t *testing.T) {
	pool := correlate.NewPool[*ast.DataMessage]()
	key := [4]byte{0, 0, 0, 9}
	reply := ast.NewDataMessage(1, 14, false, nil).WithHeader(1, key)
	assert.False(t, pool.Deliver(key, reply))
}

func TestResetTimerExtendsDeadline(t *testing.T) {
	pool := correlate.NewPool[*ast.DataMessage]()
	key := [4]byte{0, 0, 0, 3}
	pool.Register(key)
	defer pool.Deregister(key)

	reply := ast.NewDataMessage(1, 14, false, nil).WithHeader(1, key)

	done := make(chan bool, 1)
	go func() {
		_, ok := pool.Wait(key, 80*time.Millisecond)
		done <- ok
	}()

	// Keep resetting the timer past the original deadline, then deliver.
	time.Sleep(50 * time.Millisecond)
	pool.ResetTimer(key, 200*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	pool.Deliver(key, reply)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("wait never returned")
	}
}

func TestShutdownWakesAllWaiters(t *testing.T) {
	pool := correlate.NewPool[*ast.DataMessage]()
	key := [4]byte{0, 0, 0, 4}
	pool.Register(key)

	done := make(chan bool, 1)
	go func() {
		_, ok := pool.Wait(key, 5*time.Second)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Shutdown()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not wake waiter")
	}
}
