// Package ast contains the data types that represent a SECS-II data item and
// the messages (HSMS data/control, and the common SECS message fields) built
// on top of it.
package ast

import "fmt"

// MaxByteSize is the largest payload a SECS-II item may declare, per the
// 3-length-byte ceiling of the wire format: n*b <= 2^24-1.
const MaxByteSize = 1<<24 - 1

// ItemKind identifies one of the fixed set of SECS-II data item types.
type ItemKind int

const (
	KindList ItemKind = iota
	KindASCII
	KindBinary
	KindBoolean
	KindI1
	KindI2
	KindI4
	KindI8
	KindU1
	KindU2
	KindU4
	KindU8
	KindF4
	KindF8
)

// String returns the SML type token for the kind, e.g. "L", "U4", "BOOLEAN".
func (k ItemKind) String() string {
	switch k {
	case KindList:
		return "L"
	case KindASCII:
		return "A"
	case KindBinary:
		return "B"
	case KindBoolean:
		return "BOOLEAN"
	case KindI1:
		return "I1"
	case KindI2:
		return "I2"
	case KindI4:
		return "I4"
	case KindI8:
		return "I8"
	case KindU1:
		return "U1"
	case KindU2:
		return "U2"
	case KindU4:
		return "U4"
	case KindU8:
		return "U8"
	case KindF4:
		return "F4"
	case KindF8:
		return "F8"
	default:
		return "?"
	}
}

// ItemNode is the common interface of all SECS-II data item types.
//
// Every ItemNode is immutable after construction and caches its own
// ToBytes() encoding, which is safe exactly because items cannot be mutated
// once built.
type ItemNode interface {
	fmt.Stringer

	// Kind returns the data item type.
	Kind() ItemKind

	// Size returns the array size of the item: element count for numeric,
	// binary and boolean items, string length for ASCII, child count for
	// lists.
	Size() int

	// ToBytes returns the wire encoding of the item, format byte through
	// payload, memoized after first computation.
	ToBytes() []byte
}

// formatCode is the 6-bit type code (pre-shift) used in the wire format
// byte, one per ItemKind.
var formatCode = map[ItemKind]byte{
	KindList:    0o00,
	KindBinary:  0o10,
	KindBoolean: 0o11,
	KindASCII:   0o20,
	KindI8:      0o30,
	KindI1:      0o31,
	KindI2:      0o32,
	KindI4:      0o34,
	KindF8:      0o40,
	KindF4:      0o44,
	KindU8:      0o50,
	KindU1:      0o51,
	KindU2:      0o52,
	KindU4:      0o54,
}

var formatCodeToKind = func() map[byte]ItemKind {
	m := make(map[byte]ItemKind, len(formatCode))
	for k, v := range formatCode {
		m[v] = k
	}
	return m
}()

// elementByteSize is the per-value byte size used by getDataByteLength and
// the fixed-width numeric decoders/encoders. List, ASCII, Binary and Boolean
// count one "element" per byte/child.
func elementByteSize(kind ItemKind) int {
	switch kind {
	case KindI1, KindU1, KindBinary, KindBoolean, KindASCII, KindList:
		return 1
	case KindI2, KindU2:
		return 2
	case KindI4, KindU4, KindF4:
		return 4
	case KindI8, KindU8, KindF8:
		return 8
	default:
		return 1
	}
}

// getDataByteLength returns the number of payload bytes (element count for
// List) that a item of the given kind and size occupies.
func getDataByteLength(kind ItemKind, size int) int {
	return size * elementByteSize(kind)
}

// getHeaderBytes returns the format byte followed by 1-3 big-endian length
// bytes, using the minimum number of length bytes that can hold the payload
// length (cutoffs 2^8, 2^16), per spec's length-encoding-minimality property.
func getHeaderBytes(kind ItemKind, size int) ([]byte, error) {
	dataByteLength := getDataByteLength(kind, size)
	if dataByteLength > MaxByteSize {
		return nil, ErrSizeLimitExceeded
	}

	lengthBytes := []byte{
		byte(dataByteLength >> 16),
		byte(dataByteLength >> 8),
		byte(dataByteLength),
	}
	if lengthBytes[0] == 0 {
		if lengthBytes[1] == 0 {
			lengthBytes = lengthBytes[2:]
		} else {
			lengthBytes = lengthBytes[1:]
		}
	}

	result := make([]byte, 0, 1+len(lengthBytes))
	result = append(result, formatCode[kind]<<2|byte(len(lengthBytes)))
	result = append(result, lengthBytes...)
	return result, nil
}
