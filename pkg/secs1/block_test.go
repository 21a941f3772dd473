package secs1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/ast"
)

func TestMessageToBlocksSingleBlockRoundTrip(t *testing.T) {
	item := ast.NewASCIINode("HELLO")
	msg := NewMessage(10, false, 1, 13, true, item, [4]byte{0, 0, 0, 1})

	blocks := msg.ToBlocks()
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].HasEBit())
	assert.Equal(t, 1, blocks[0].BlockNumber())
	assert.True(t, blocks[0].VerifyChecksum())
	assert.Equal(t, 10, blocks[0].DeviceID())
	assert.Equal(t, 1, blocks[0].StreamCode())
	assert.Equal(t, 13, blocks[0].FunctionCode())
	assert.True(t, blocks[0].HasWBit())

	got, err := FromBlocks(blocks)
	require.NoError(t, err)
	assert.Equal(t, msg.StreamCode(), got.StreamCode())
	assert.Equal(t, msg.FunctionCode(), got.FunctionCode())
	assert.Equal(t, msg.SystemBytes(), got.SystemBytes())
}

func TestMessageToBlocksFragmentsLongBody(t *testing.T) {
	values := make([]int64, 200)
	for i := range values {
		values[i] = int64(i)
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	item, err := ast.Build(ast.KindI4, args...)
	require.NoError(t, err)

	msg := NewMessage(1, false, 6, 11, false, item, [4]byte{1, 2, 3, 4})
	blocks := msg.ToBlocks()

	require.Greater(t, len(blocks), 1)
	for i, b := range blocks {
		assert.Equal(t, i+1, b.BlockNumber())
		assert.True(t, b.VerifyChecksum())
		assert.LessOrEqual(t, len(b.Payload()), maxBlockPayload)
		if i < len(blocks)-1 {
			assert.False(t, b.HasEBit())
		} else {
			assert.True(t, b.HasEBit())
		}
	}
	for i := 1; i < len(blocks); i++ {
		assert.True(t, blocks[i-1].IsNextBlock(blocks[i]))
	}

	got, err := FromBlocks(blocks)
	require.NoError(t, err)
	assert.Equal(t, item.ToBytes(), got.Item().ToBytes())
}

func TestFromBlocksEmptyReturnsError(t *testing.T) {
	_, err := FromBlocks(nil)
	assert.ErrorIs(t, err, ErrEmptyBlocks)
}

func TestBlockFromStreamRejectsBadLength(t *testing.T) {
	_, err := blockFromStream([]byte{5, 1, 2, 3})
	assert.Error(t, err)
}

func TestIsSameBlockDetectsRetransmission(t *testing.T) {
	item := ast.NewASCIINode("X")
	msg := NewMessage(1, false, 1, 1, false, item, [4]byte{0, 0, 0, 7})
	blocks := msg.ToBlocks()
	retransmit := blockFromRaw(blocks[0].ToBytes())
	assert.True(t, blocks[0].IsSameBlock(retransmit))
	assert.False(t, blocks[0].IsNextBlock(retransmit))
}

func TestMessageBlockOverflowPanics(t *testing.T) {
	assert.Panics(t, func() {
		newBlock([10]byte{}, nil, maxBlockNumber+1, true)
	})
}
