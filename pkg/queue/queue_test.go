package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/queue"
)

func TestCallbackQueueDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	cb := queue.NewCallback(func(v interface{}) {
		mu.Lock()
		defer mu.Unlock()
		if v == nil {
			close(done)
			return
		}
		got = append(got, v.(int))
	})
	cb.Open()

	cb.Put(1)
	cb.Put(2)
	cb.Put(3)
	cb.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback queue never delivered shutdown sentinel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestWaitingQueuePollReturnsPutValue(t *testing.T) {
	w := queue.NewWaiting()
	w.Open()
	w.Put("hello")

	v, ok := w.Poll(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestWaitingQueuePollTimesOut(t *testing.T) {
	w := queue.NewWaiting()
	w.Open()

	_, ok := w.Poll(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestWaitingQueuePollUnblocksOnClose(t *testing.T) {
	w := queue.NewWaiting()
	w.Open()

	result := make(chan bool, 1)
	go func() {
		_, ok := w.Poll(2 * time.Second)
		result <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	w.Close()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not unblock on close")
	}
}

func TestByteAccumulatorFillExact(t *testing.T) {
	a := queue.NewByteAccumulator()
	a.Open()
	a.Put([]byte{1, 2, 3, 4})

	got, ok := a.Fill(4, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestByteAccumulatorFillTimesOut(t *testing.T) {
	a := queue.NewByteAccumulator()
	a.Open()
	a.Put([]byte{1, 2})

	_, ok := a.Fill(4, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestByteAccumulatorFillLeavesRemainder(t *testing.T) {
	a := queue.NewByteAccumulator()
	a.Open()
	a.Put([]byte{1, 2, 3, 4, 5})

	first, ok := a.Fill(2, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, first)

	second, ok := a.Fill(3, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{3, 4, 5}, second)
}
