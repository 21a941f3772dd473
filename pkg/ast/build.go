package ast

import "fmt"

// Build constructs an ItemNode of the given kind from loosely-typed values,
// the way a caller assembling a message by hand would. Type mismatches and
// range violations raised as panics by the New*Node constructors are
// recovered here and turned into an error, since Build's caller supplies
// values at runtime rather than at compile time.
func Build(kind ItemKind, values ...interface{}) (node ItemNode, err error) {
	defer func() {
		if r := recover(); r != nil {
			node = nil
			err = fmt.Errorf("ast: build %s item: %v", kind, r)
		}
	}()

	switch kind {
	case KindList:
		items := make([]ItemNode, len(values))
		for i, v := range values {
			items[i] = v.(ItemNode)
		}
		return NewListNode(items...), nil

	case KindASCII:
		if len(values) != 1 {
			panic("ASCII item takes exactly one string value")
		}
		return NewASCIINode(values[0].(string)), nil

	case KindBinary:
		if len(values) != 1 {
			panic("binary item takes exactly one []byte value")
		}
		return NewBinaryNode(values[0].([]byte)), nil

	case KindBoolean:
		bs := make([]bool, len(values))
		for i, v := range values {
			bs[i] = v.(bool)
		}
		return NewBooleanNode(bs...), nil

	case KindI1, KindI2, KindI4, KindI8:
		is := make([]int64, len(values))
		for i, v := range values {
			is[i] = toInt64(v)
		}
		return NewIntNode(kind, is...), nil

	case KindU1, KindU2, KindU4, KindU8:
		us := make([]uint64, len(values))
		for i, v := range values {
			us[i] = toUint64(v)
		}
		return NewUintNode(kind, us...), nil

	case KindF4, KindF8:
		fs := make([]float64, len(values))
		for i, v := range values {
			fs[i] = toFloat64(v)
		}
		return NewFloatNode(kind, fs...), nil

	default:
		return nil, ErrUnknownType
	}
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	default:
		panic(fmt.Sprintf("cannot use %T as a signed integer value", v))
	}
}

func toUint64(v interface{}) uint64 {
	switch x := v.(type) {
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case int:
		if x < 0 {
			panic("cannot use a negative int as an unsigned integer value")
		}
		return uint64(x)
	default:
		panic(fmt.Sprintf("cannot use %T as an unsigned integer value", v))
	}
}

func toFloat64(v interface{}) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		panic(fmt.Sprintf("cannot use %T as a float value", v))
	}
}

// FromBytes decodes a single item starting at buf[0], returning the decoded
// node and the number of bytes it consumed. List items recurse into their
// children; the list's own length field counts children, not payload
// bytes, per the SECS-II wire format.
func FromBytes(buf []byte) (ItemNode, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrTruncated
	}

	formatByte := buf[0]
	kind, ok := formatCodeToKind[formatByte>>2]
	if !ok {
		return nil, 0, ErrUnknownType
	}
	nLengthBytes := int(formatByte & 0x03)
	if nLengthBytes < 1 || nLengthBytes > 3 {
		return nil, 0, ErrUnknownType
	}
	if len(buf) < 1+nLengthBytes {
		return nil, 0, ErrTruncated
	}

	length := 0
	for i := 0; i < nLengthBytes; i++ {
		length = length<<8 | int(buf[1+i])
	}
	pos := 1 + nLengthBytes

	if kind == KindList {
		children := make([]ItemNode, 0, length)
		for i := 0; i < length; i++ {
			if pos >= len(buf) {
				return nil, 0, ErrTruncated
			}
			child, n, err := FromBytes(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			children = append(children, child)
			pos += n
		}
		return &ListNode{values: children}, pos, nil
	}

	if len(buf) < pos+length {
		return nil, 0, ErrTruncated
	}
	payload := buf[pos : pos+length]
	payloadPos := pos
	pos += length

	var node ItemNode
	var err error
	switch kind {
	case KindASCII:
		node, err = decodeASCII(payload, payloadPos)
	case KindBinary:
		node = decodeBinary(payload)
	case KindBoolean:
		node = decodeBoolean(payload)
	case KindI1, KindI2, KindI4, KindI8:
		node, err = decodeInt(kind, payload, payloadPos)
	case KindU1, KindU2, KindU4, KindU8:
		node, err = decodeUint(kind, payload, payloadPos)
	case KindF4, KindF8:
		node, err = decodeFloat(kind, payload, payloadPos)
	}
	if err != nil {
		return nil, 0, err
	}
	return node, pos, nil
}

// Decode decodes buf as exactly one item, returning ErrTrailingBytes if any
// bytes remain afterward.
func Decode(buf []byte) (ItemNode, error) {
	node, n, err := FromBytes(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, ErrTrailingBytes
	}
	return node, nil
}
