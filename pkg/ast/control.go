package ast

import "fmt"

// HSMS control message s-types, per the HSMS-SS wire format.
const (
	STypeSelectReq   byte = 1
	STypeSelectRsp   byte = 2
	STypeDeselectReq byte = 3
	STypeDeselectRsp byte = 4
	STypeLinktestReq byte = 5
	STypeLinktestRsp byte = 6
	STypeRejectReq   byte = 7
	STypeSeparateReq byte = 9
)

// ControlMessage is an immutable data type that represents an HSMS control
// message: a 10-byte header with no item payload.
type ControlMessage struct {
	header [10]byte
}

// SessionID returns the session id in the message header (0xFFFF for the
// session-less linktest messages).
func (m *ControlMessage) SessionID() uint16 {
	return uint16(m.header[0])<<8 | uint16(m.header[1])
}

// SType returns the control message's s-type.
func (m *ControlMessage) SType() byte { return m.header[5] }

// StatusCode returns header byte 3: a select.rsp's SelectStatus*, a
// deselect.rsp's DeselectStatus*, or a reject.req's RejectReason*,
// depending on the message's Type().
func (m *ControlMessage) StatusCode() byte { return m.header[3] }

// SystemBytes returns the message's system bytes.
func (m *ControlMessage) SystemBytes() [4]byte {
	var b [4]byte
	copy(b[:], m.header[6:10])
	return b
}

// Type returns the control message's name, e.g. "select.req".
func (m *ControlMessage) Type() string {
	switch m.SType() {
	case STypeSelectReq:
		return "select.req"
	case STypeSelectRsp:
		return "select.rsp"
	case STypeDeselectReq:
		return "deselect.req"
	case STypeDeselectRsp:
		return "deselect.rsp"
	case STypeLinktestReq:
		return "linktest.req"
	case STypeLinktestRsp:
		return "linktest.rsp"
	case STypeRejectReq:
		return "reject.req"
	case STypeSeparateReq:
		return "separate.req"
	default:
		return "unknown"
	}
}

// ToBytes returns the HSMS wire encoding: 4-byte length (always 10),
// followed by the 10-byte header.
func (m *ControlMessage) ToBytes() []byte {
	result := make([]byte, 0, 14)
	result = append(result, 0, 0, 0, 10)
	result = append(result, m.header[:]...)
	return result
}

func (m *ControlMessage) String() string {
	return fmt.Sprintf("<%s sessionID=%d systemBytes=%v>", m.Type(), m.SessionID(), m.SystemBytes())
}

func newControlHeader(sessionID uint16, sType byte, systemBytes [4]byte) [10]byte {
	var h [10]byte
	h[0], h[1] = byte(sessionID>>8), byte(sessionID)
	h[5] = sType
	copy(h[6:10], systemBytes[:])
	return h
}

// NewSelectReq creates a Select.req control message.
func NewSelectReq(sessionID uint16, systemBytes [4]byte) *ControlMessage {
	return &ControlMessage{header: newControlHeader(sessionID, STypeSelectReq, systemBytes)}
}

// SelectStatus codes carried in byte 3 of a Select.rsp header.
const (
	SelectStatusOK            byte = 0
	SelectStatusAlreadyActive byte = 1
	SelectStatusNotReady      byte = 2
	SelectStatusExhausted     byte = 3
)

// NewSelectRsp creates a Select.rsp control message replying to req.
// Panics if req is not a select.req message.
func NewSelectRsp(req *ControlMessage, status byte) *ControlMessage {
	if req.SType() != STypeSelectReq {
		panic("ast: NewSelectRsp requires a select.req message")
	}
	h := newControlHeader(req.SessionID(), STypeSelectRsp, req.SystemBytes())
	h[3] = status
	return &ControlMessage{header: h}
}

// NewDeselectReq creates a Deselect.req control message.
func NewDeselectReq(sessionID uint16, systemBytes [4]byte) *ControlMessage {
	return &ControlMessage{header: newControlHeader(sessionID, STypeDeselectReq, systemBytes)}
}

// Deselect status codes carried in byte 3 of a Deselect.rsp header.
const (
	DeselectStatusOK   byte = 0
	DeselectStatusBusy byte = 2
)

// NewDeselectRsp creates a Deselect.rsp control message replying to req.
// Panics if req is not a deselect.req message.
func NewDeselectRsp(req *ControlMessage, status byte) *ControlMessage {
	if req.SType() != STypeDeselectReq {
		panic("ast: NewDeselectRsp requires a deselect.req message")
	}
	h := newControlHeader(req.SessionID(), STypeDeselectRsp, req.SystemBytes())
	h[3] = status
	return &ControlMessage{header: h}
}

// NewLinktestReq creates a Linktest.req control message. Linktest is
// session-less, so the session id field is always 0xFFFF.
func NewLinktestReq(systemBytes [4]byte) *ControlMessage {
	return &ControlMessage{header: newControlHeader(0xFFFF, STypeLinktestReq, systemBytes)}
}

// NewLinktestRsp creates a Linktest.rsp control message replying to req.
// Panics if req is not a linktest.req message.
func NewLinktestRsp(req *ControlMessage) *ControlMessage {
	if req.SType() != STypeLinktestReq {
		panic("ast: NewLinktestRsp requires a linktest.req message")
	}
	return &ControlMessage{header: newControlHeader(0xFFFF, STypeLinktestRsp, req.SystemBytes())}
}

// Reject reason codes carried in byte 3 of a Reject.req header.
const (
	RejectReasonNotSupportType     byte = 1 // s-type not supported
	RejectReasonNotSupportPType    byte = 2 // p-type not supported
	RejectReasonTransactionNotOpen byte = 3
	RejectReasonNotSelected        byte = 4
)

// NewRejectReq creates a Reject.req control message describing why a
// received message (identified by sessionID/pType/sType/systemBytes) is
// being refused. Per the HSMS-SS wire format, header byte 2 carries pType
// when reasonCode is RejectReasonNotSupportPType, and sType otherwise.
func NewRejectReq(sessionID uint16, pType, sType byte, systemBytes [4]byte, reasonCode byte) *ControlMessage {
	h := newControlHeader(sessionID, STypeRejectReq, systemBytes)
	if reasonCode == RejectReasonNotSupportPType {
		h[2] = pType
	} else {
		h[2] = sType
	}
	h[3] = reasonCode
	return &ControlMessage{header: h}
}

// NewSeparateReq creates a Separate.req control message.
func NewSeparateReq(sessionID uint16, systemBytes [4]byte) *ControlMessage {
	return &ControlMessage{header: newControlHeader(sessionID, STypeSeparateReq, systemBytes)}
}

// ControlMessageFromBytes decodes a full HSMS control message frame,
// including its 4-byte length prefix.
func ControlMessageFromBytes(frame []byte) (*ControlMessage, error) {
	if len(frame) != 14 {
		return nil, ErrTruncated
	}
	var h [10]byte
	copy(h[:], frame[4:14])
	return &ControlMessage{header: h}, nil
}
