package ast

import (
	"strconv"
	"strings"
)

// ListNode is an immutable data type that represents a list item in a
// SECS-II message. Its size is the number of direct children, counted
// non-recursively.
type ListNode struct {
	values []ItemNode
	cache  []byte
}

// NewListNode creates a new ListNode containing the given children in
// order. Panics if the resulting payload would exceed MaxByteSize; this is
// a programmer error on the construction path, not a decode-time failure.
func NewListNode(values ...ItemNode) *ListNode {
	if getDataByteLength(KindList, len(values)) > MaxByteSize {
		panic("ast: list item size limit exceeded")
	}
	cp := make([]ItemNode, len(values))
	copy(cp, values)
	return &ListNode{values: cp}
}

func (n *ListNode) Kind() ItemKind { return KindList }
func (n *ListNode) Size() int      { return len(n.values) }

// Values returns the list's children, in order.
func (n *ListNode) Values() []ItemNode {
	return n.values
}

func (n *ListNode) ToBytes() []byte {
	if n.cache != nil {
		return n.cache
	}
	result, err := getHeaderBytes(KindList, n.Size())
	if err != nil {
		return nil
	}
	for _, item := range n.values {
		result = append(result, item.ToBytes()...)
	}
	n.cache = result
	return result
}

func (n *ListNode) String() string {
	return n.stringIndented(0)
}

func (n *ListNode) stringIndented(level int) string {
	indent := strings.Repeat("  ", level)
	if n.Size() == 0 {
		return indent + "<L[0]>"
	}

	var sb strings.Builder
	for _, v := range n.values {
		if child, ok := v.(*ListNode); ok {
			sb.WriteString(child.stringIndented(level + 1))
		} else {
			sb.WriteString(indent)
			sb.WriteString("  ")
			sb.WriteString(v.String())
		}
		sb.WriteString("\n")
	}
	return indent + "<L[" + strconv.Itoa(n.Size()) + "]\n" + sb.String() + indent + ">"
}
