package secs1

import (
	"fmt"

	"github.com/takumi-sec/gosecs/pkg/ast"
)

// Message is an immutable SECS-I message: stream/function/wait bit/item,
// plus the device id, r-bit and system bytes carried in every SECS-I
// header. Grounded on original_source's Secs1Message.
type Message struct {
	stream      int
	function    int
	waitBit     bool
	item        ast.ItemNode
	systemBytes [4]byte
	deviceID    int
	rbit        bool

	blocks []Block // memoized by ToBlocks
}

// NewMessage creates a SECS-I message. Panics if stream/function/deviceID
// are out of range.
func NewMessage(deviceID int, rbit bool, stream, function int, waitBit bool, item ast.ItemNode, systemBytes [4]byte) *Message {
	if deviceID < 0 || deviceID >= 0x8000 {
		panic("secs1: device id out of range")
	}
	if stream < 0 || stream >= 128 {
		panic("secs1: stream code out of range")
	}
	if function < 0 || function >= 256 {
		panic("secs1: function code out of range")
	}
	return &Message{
		stream:      stream,
		function:    function,
		waitBit:     waitBit,
		item:        item,
		systemBytes: systemBytes,
		deviceID:    deviceID,
		rbit:        rbit,
	}
}

func (m *Message) DeviceID() int          { return m.deviceID }
func (m *Message) HasRBit() bool          { return m.rbit }
func (m *Message) StreamCode() int        { return m.stream }
func (m *Message) FunctionCode() int      { return m.function }
func (m *Message) WaitBit() bool          { return m.waitBit }
func (m *Message) Item() ast.ItemNode     { return m.item }
func (m *Message) SystemBytes() [4]byte   { return m.systemBytes }
func (m *Message) IsReply() bool          { return m.function%2 == 0 }

func (m *Message) header10Bytes() [10]byte {
	var h [10]byte
	h[0] = byte((m.deviceID >> 8) & 0x7f)
	if m.rbit {
		h[0] |= 0x80
	}
	h[1] = byte(m.deviceID)
	h[2] = byte(m.stream & 0x7f)
	if m.waitBit {
		h[2] |= 0x80
	}
	h[3] = byte(m.function)
	// h[4], h[5] (block number/ebit) filled in per-block by newBlock.
	h[6], h[7], h[8], h[9] = m.systemBytes[0], m.systemBytes[1], m.systemBytes[2], m.systemBytes[3]
	return h
}

// ToBlocks fragments the message body into ≤244-byte blocks and returns
// them in order, memoizing the result. Panics if the body requires more
// than 0x7FFF blocks.
func (m *Message) ToBlocks() []Block {
	if m.blocks != nil {
		return m.blocks
	}

	var body []byte
	if m.item != nil {
		body = m.item.ToBytes()
	}

	header := m.header10Bytes()
	var blocks []Block
	pos := 0
	blockNum := 0
	for {
		blockNum++
		if blockNum > maxBlockNumber {
			panic("secs1: message body requires more than 0x7FFF blocks")
		}

		end := pos + maxBlockPayload
		ebit := true
		if end < len(body) {
			ebit = false
		} else {
			end = len(body)
		}

		blocks = append(blocks, newBlock(header, body[pos:end], blockNum, ebit))
		if ebit {
			break
		}
		pos = end
	}

	m.blocks = blocks
	return blocks
}

// FromBlocks reassembles a Message from a complete, in-order, contiguous
// run of blocks (as validated by the receive loop via Block.IsNextBlock).
// Returns ErrEmptyBlocks if blocks is empty.
func FromBlocks(blocks []Block) (*Message, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyBlocks
	}

	var body []byte
	for _, b := range blocks {
		body = append(body, b.Payload()...)
	}

	first := blocks[0]
	var item ast.ItemNode
	if len(body) > 0 {
		decoded, err := ast.Decode(body)
		if err != nil {
			return nil, err
		}
		item = decoded
	}

	msg := NewMessage(first.DeviceID(), first.HasRBit(), first.StreamCode(), first.FunctionCode(), first.HasWBit(), item, first.SystemBytes())
	msg.blocks = append([]Block(nil), blocks...)
	return msg, nil
}

func (m *Message) Header() string {
	header := fmt.Sprintf("S%dF%d", m.stream, m.function)
	if m.waitBit {
		header += " W"
	}
	return header
}

func (m *Message) String() string {
	if m.item == nil {
		return m.Header() + "\n."
	}
	return fmt.Sprintf("%s\n%s\n.", m.Header(), m.item)
}
