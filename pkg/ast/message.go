package ast

import "fmt"

// DataMessage is an immutable data type that represents a SECS-II data
// message: stream/function code, wait bit, data item, and the HSMS framing
// fields (session id, system bytes) needed to put it on the wire. A
// DataMessage built without an explicit session id/system bytes (via
// NewDataMessage) can still be rendered as SML, but ToBytes panics until
// WithHeader supplies them.
type DataMessage struct {
	stream      int
	function    int
	waitBit     bool
	item        ItemNode // nil for an item-less message
	sessionID   int      // -1 if not yet assigned
	systemBytes [4]byte
	haveHeader  bool
	cache       []byte
}

// NewDataMessage creates a message with a stream/function/wait bit/item,
// without HSMS framing. Panics if stream is outside [0, 128) or function
// outside [0, 256).
func NewDataMessage(stream, function int, waitBit bool, item ItemNode) *DataMessage {
	if stream < 0 || stream >= 128 {
		panic("ast: stream code out of range")
	}
	if function < 0 || function >= 256 {
		panic("ast: function code out of range")
	}
	return &DataMessage{stream: stream, function: function, waitBit: waitBit, item: item, sessionID: -1}
}

// WithHeader returns a copy of the message with the given HSMS session id
// and system bytes attached, ready for ToBytes. Panics if sessionID is
// outside [0, 65536).
func (m *DataMessage) WithHeader(sessionID int, systemBytes [4]byte) *DataMessage {
	if sessionID < 0 || sessionID >= 65536 {
		panic("ast: session id out of range")
	}
	return &DataMessage{
		stream:      m.stream,
		function:    m.function,
		waitBit:     m.waitBit,
		item:        m.item,
		sessionID:   sessionID,
		systemBytes: systemBytes,
		haveHeader:  true,
	}
}

func (m *DataMessage) StreamCode() int      { return m.stream }
func (m *DataMessage) FunctionCode() int    { return m.function }
func (m *DataMessage) WaitBit() bool        { return m.waitBit }
func (m *DataMessage) Item() ItemNode       { return m.item }
func (m *DataMessage) SessionID() int       { return m.sessionID }
func (m *DataMessage) SystemBytes() [4]byte { return m.systemBytes }

// IsReply reports whether the message's function code identifies a reply
// (an even function code never carries the wait bit).
func (m *DataMessage) IsReply() bool { return m.function%2 == 0 }

// ToBytes returns the HSMS wire encoding: 4-byte length, 10-byte header,
// item bytes. Panics if the message has no attached header (see
// WithHeader) — encoding without a session id is a programmer error, not
// a data error.
func (m *DataMessage) ToBytes() []byte {
	if !m.haveHeader {
		panic("ast: data message has no HSMS header; call WithHeader first")
	}
	if m.cache != nil {
		return m.cache
	}

	var itemBytes []byte
	if m.item != nil {
		itemBytes = m.item.ToBytes()
	}

	body := make([]byte, 0, 10+len(itemBytes))
	body = append(body, byte(m.sessionID>>8), byte(m.sessionID))
	streamByte := byte(m.stream)
	if m.waitBit {
		streamByte |= 0x80
	}
	body = append(body, streamByte, byte(m.function))
	body = append(body, 0, 0) // ptype, stype: always 0 for data messages
	body = append(body, m.systemBytes[:]...)
	body = append(body, itemBytes...)

	length := uint32(len(body))
	result := make([]byte, 0, 4+len(body))
	result = append(result, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	result = append(result, body...)

	m.cache = result
	return result
}

func (m *DataMessage) Header() string {
	header := fmt.Sprintf("S%dF%d", m.stream, m.function)
	if m.waitBit {
		header += " W"
	}
	return header
}

func (m *DataMessage) String() string {
	if m.item == nil {
		return m.Header() + "\n."
	}
	return fmt.Sprintf("%s\n%s\n.", m.Header(), m.item)
}

// DataMessageFromBytes decodes a full HSMS data message frame, including
// its 4-byte length prefix. The ptype/stype bytes (header[4:6]) must both
// be zero; a nonzero stype indicates a control message, which callers
// should detect with IsControlMessage before calling this.
func DataMessageFromBytes(frame []byte) (*DataMessage, error) {
	if len(frame) < 14 {
		return nil, ErrTruncated
	}
	bodyLen := int(frame[0])<<24 | int(frame[1])<<16 | int(frame[2])<<8 | int(frame[3])
	if len(frame) != 4+bodyLen {
		return nil, ErrTruncated
	}

	header := frame[4:14]
	sessionID := int(header[0])<<8 | int(header[1])
	waitBit := header[2]&0x80 != 0
	stream := int(header[2] & 0x7f)
	function := int(header[3])

	var systemBytes [4]byte
	copy(systemBytes[:], header[6:10])

	itemPayload := frame[14:]
	var item ItemNode
	if len(itemPayload) > 0 {
		decoded, n, err := FromBytes(itemPayload)
		if err != nil {
			return nil, err
		}
		if n != len(itemPayload) {
			return nil, ErrTrailingBytes
		}
		item = decoded
	}

	msg := NewDataMessage(stream, function, waitBit, item)
	return msg.WithHeader(sessionID, systemBytes), nil
}

// IsControlMessage reports whether an HSMS frame's header identifies a
// control message (nonzero stype), as opposed to a data message.
func IsControlMessage(frame []byte) bool {
	if len(frame) < 14 {
		return false
	}
	return frame[9] != 0
}
