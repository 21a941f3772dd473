package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// BinaryNode is an immutable data type that represents a B (binary) item.
type BinaryNode struct {
	value []byte
	cache []byte
}

// NewBinaryNode creates a new BinaryNode copying the given bytes. Panics if
// the value is longer than MaxByteSize.
func NewBinaryNode(value []byte) *BinaryNode {
	if getDataByteLength(KindBinary, len(value)) > MaxByteSize {
		panic("ast: binary item size limit exceeded")
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return &BinaryNode{value: cp}
}

func (n *BinaryNode) Kind() ItemKind { return KindBinary }
func (n *BinaryNode) Size() int      { return len(n.value) }

// Value returns a copy of the item's bytes.
func (n *BinaryNode) Value() []byte {
	cp := make([]byte, len(n.value))
	copy(cp, n.value)
	return cp
}

func (n *BinaryNode) ToBytes() []byte {
	if n.cache != nil {
		return n.cache
	}
	header, err := getHeaderBytes(KindBinary, n.Size())
	if err != nil {
		return nil
	}
	n.cache = append(header, n.value...)
	return n.cache
}

func (n *BinaryNode) String() string {
	parts := make([]string, len(n.value))
	for i, b := range n.value {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return "<B[" + strconv.Itoa(n.Size()) + "] " + strings.Join(parts, " ") + ">"
}

func decodeBinary(payload []byte) *BinaryNode {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &BinaryNode{value: cp}
}
