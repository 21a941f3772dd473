package ast_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/ast"
)

func roundTrip(t *testing.T, item ast.ItemNode) ast.ItemNode {
	t.Helper()
	decoded, err := ast.Decode(item.ToBytes())
	require.NoError(t, err)
	return decoded
}

func TestASCIINodeRoundTrip(t *testing.T) {
	n := ast.NewASCIINode("HELLO")
	decoded := roundTrip(t, n)
	assert.Equal(t, ast.KindASCII, decoded.Kind())
	assert.Equal(t, n.Value(), decoded.(*ast.ASCIINode).Value())
}

func TestASCIINodeRejectsNonASCII(t *testing.T) {
	assert.Panics(t, func() {
		ast.NewASCIINode("h\xc3\xa9llo")
	})
}

func TestBinaryNodeRoundTrip(t *testing.T) {
	n := ast.NewBinaryNode([]byte{0x00, 0x01, 0xff})
	decoded := roundTrip(t, n)
	assert.Equal(t, n.Value(), decoded.(*ast.BinaryNode).Value())
}

func TestBooleanNodeRoundTrip(t *testing.T) {
	n := ast.NewBooleanNode(true, false, true)
	decoded := roundTrip(t, n)
	assert.Equal(t, []bool{true, false, true}, decoded.(*ast.BooleanNode).Values())
}

func TestIntNodeRoundTripAllWidths(t *testing.T) {
	for _, kind := range []ast.ItemKind{ast.KindI1, ast.KindI2, ast.KindI4, ast.KindI8} {
		n := ast.NewIntNode(kind, -1, 0, 1)
		decoded := roundTrip(t, n)
		assert.Equal(t, []int64{-1, 0, 1}, decoded.(*ast.IntNode).Values())
	}
}

func TestUintNodeRoundTripAllWidths(t *testing.T) {
	for _, kind := range []ast.ItemKind{ast.KindU1, ast.KindU2, ast.KindU4, ast.KindU8} {
		n := ast.NewUintNode(kind, 0, 1, 2)
		decoded := roundTrip(t, n)
		assert.Equal(t, []uint64{0, 1, 2}, decoded.(*ast.UintNode).Values())
	}
}

func TestFloatNodeRoundTrip(t *testing.T) {
	n := ast.NewFloatNode(ast.KindF8, 3.5, -2.25)
	decoded := roundTrip(t, n)
	assert.InDeltaSlice(t, []float64{3.5, -2.25}, decoded.(*ast.FloatNode).Values(), 1e-9)
}

func TestListNodeRoundTripNested(t *testing.T) {
	inner := ast.NewListNode(ast.NewASCIINode("A"), ast.NewUintNode(ast.KindU1, 1))
	outer := ast.NewListNode(inner, ast.NewBooleanNode(true))
	decoded := roundTrip(t, outer)

	outerList, ok := decoded.(*ast.ListNode)
	require.True(t, ok)
	require.Equal(t, 2, outerList.Size())

	innerList, ok := outerList.Values()[0].(*ast.ListNode)
	require.True(t, ok)
	assert.Equal(t, 2, innerList.Size())
}

func TestIntNodeOutOfRangePanics(t *testing.T) {
	assert.Panics(t, func() {
		ast.NewIntNode(ast.KindI1, 128)
	})
}

func TestLengthEncodingIsMinimal(t *testing.T) {
	small := ast.NewBinaryNode(make([]byte, 10))
	assert.Equal(t, byte(1), small.ToBytes()[0]&0x03)

	medium := ast.NewBinaryNode(make([]byte, 300))
	assert.Equal(t, byte(2), medium.ToBytes()[0]&0x03)

	large := ast.NewBinaryNode(make([]byte, 1<<16))
	assert.Equal(t, byte(3), large.ToBytes()[0]&0x03)
}

func TestFromBytesTruncated(t *testing.T) {
	_, _, err := ast.FromBytes([]byte{0x21, 0x05, 'h', 'i'})
	assert.True(t, errors.Is(err, ast.ErrTruncated))
}

func TestFromBytesUnknownFormatCode(t *testing.T) {
	_, _, err := ast.FromBytes([]byte{0xFF, 0x00})
	assert.True(t, errors.Is(err, ast.ErrUnknownType))
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	item := ast.NewUintNode(ast.KindU1, 1)
	buf := append(item.ToBytes(), 0x99)
	_, err := ast.Decode(buf)
	assert.True(t, errors.Is(err, ast.ErrTrailingBytes))
}

func TestBuildDispatchesByKind(t *testing.T) {
	item, err := ast.Build(ast.KindU2, uint16(10), uint16(20))
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, item.(*ast.UintNode).Values())
}

func TestBuildReturnsErrorOnTypeMismatch(t *testing.T) {
	_, err := ast.Build(ast.KindASCII, 42)
	assert.Error(t, err)
}

func TestDataMessageRoundTrip(t *testing.T) {
	item := ast.NewASCIINode("PING")
	msg := ast.NewDataMessage(1, 13, true, item).WithHeader(7, [4]byte{0, 0, 0, 1})

	decoded, err := ast.DataMessageFromBytes(msg.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.StreamCode())
	assert.Equal(t, 13, decoded.FunctionCode())
	assert.True(t, decoded.WaitBit())
	assert.Equal(t, 7, decoded.SessionID())
	assert.Equal(t, "PING", decoded.Item().(*ast.ASCIINode).Value())
}

func TestDataMessageWithoutHeaderPanicsOnToBytes(t *testing.T) {
	msg := ast.NewDataMessage(1, 1, true, nil)
	assert.Panics(t, func() {
		msg.ToBytes()
	})
}

func TestControlMessageSelectRoundTrip(t *testing.T) {
	req := ast.NewSelectReq(5, [4]byte{0, 0, 0, 42})
	rsp := ast.NewSelectRsp(req, ast.SelectStatusOK)

	decoded, err := ast.ControlMessageFromBytes(rsp.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, "select.rsp", decoded.Type())
	assert.Equal(t, uint16(5), decoded.SessionID())
}

func TestControlMessageLinktestIsSessionless(t *testing.T) {
	req := ast.NewLinktestReq([4]byte{0, 0, 0, 1})
	assert.Equal(t, uint16(0xFFFF), req.SessionID())
	rsp := ast.NewLinktestRsp(req)
	assert.Equal(t, "linktest.rsp", rsp.Type())
}

func TestNewSelectRspPanicsOnWrongReqType(t *testing.T) {
	notSelectReq := ast.NewLinktestReq([4]byte{0, 0, 0, 1})
	assert.Panics(t, func() {
		ast.NewSelectRsp(notSelectReq, ast.SelectStatusOK)
	})
}

func TestIsControlMessageDetectsStype(t *testing.T) {
	ctrl := ast.NewSeparateReq(1, [4]byte{0, 0, 0, 1})
	assert.True(t, ast.IsControlMessage(ctrl.ToBytes()))

	data := ast.NewDataMessage(1, 1, false, nil).WithHeader(1, [4]byte{0, 0, 0, 1})
	assert.False(t, ast.IsControlMessage(data.ToBytes()))
}
