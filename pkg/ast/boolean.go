package ast

import (
	"strconv"
	"strings"
)

// BooleanNode is an immutable data type that represents a BOOLEAN item,
// stored as an array of bool values (SECS-II booleans are array items, same
// as every other non-list kind).
type BooleanNode struct {
	values []bool
	cache  []byte
}

// NewBooleanNode creates a new BooleanNode. Panics if the value count
// exceeds MaxByteSize.
func NewBooleanNode(values ...bool) *BooleanNode {
	if getDataByteLength(KindBoolean, len(values)) > MaxByteSize {
		panic("ast: boolean item size limit exceeded")
	}
	cp := make([]bool, len(values))
	copy(cp, values)
	return &BooleanNode{values: cp}
}

func (n *BooleanNode) Kind() ItemKind { return KindBoolean }
func (n *BooleanNode) Size() int      { return len(n.values) }

// Values returns the item's boolean values, in order.
func (n *BooleanNode) Values() []bool {
	cp := make([]bool, len(n.values))
	copy(cp, n.values)
	return cp
}

func (n *BooleanNode) ToBytes() []byte {
	if n.cache != nil {
		return n.cache
	}
	header, err := getHeaderBytes(KindBoolean, n.Size())
	if err != nil {
		return nil
	}
	payload := make([]byte, len(n.values))
	for i, v := range n.values {
		if v {
			payload[i] = 1
		}
	}
	n.cache = append(header, payload...)
	return n.cache
}

func (n *BooleanNode) String() string {
	parts := make([]string, len(n.values))
	for i, v := range n.values {
		parts[i] = strconv.FormatBool(v)
	}
	return "<BOOLEAN[" + strconv.Itoa(n.Size()) + "] " + strings.Join(parts, " ") + ">"
}

func decodeBoolean(payload []byte) *BooleanNode {
	values := make([]bool, len(payload))
	for i, b := range payload {
		values[i] = b != 0
	}
	return &BooleanNode{values: values}
}
