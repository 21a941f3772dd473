package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/transport"
)

func TestActivePassiveTCPRoundTrip(t *testing.T) {
	addr := "127.0.0.1:28099"
	passive := transport.ListenPassive(addr)

	openErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		openErr <- passive.Open(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	active := transport.DialActive(addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, active.Open(ctx))
	require.NoError(t, <-openErr)

	defer active.Close()
	defer passive.Close()

	writeCtx, writeCancel := context.WithTimeout(context.Background(), time.Second)
	defer writeCancel()
	require.NoError(t, active.WriteBytes(writeCtx, []byte("hello")))

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	got, err := passive.ReadBytes(readCtx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestReadBeforeOpenReturnsErrClosed(t *testing.T) {
	active := transport.DialActive("127.0.0.1:1")
	_, err := active.ReadBytes(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
}
