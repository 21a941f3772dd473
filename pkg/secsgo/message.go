// Package secsgo is the communicator façade: one public entry point per
// transport (HsmsActive, HsmsPassive, Secs1) exposing open/close,
// send/reply, SML convenience wrappers and listener registration over the
// lower-level protocol engines in pkg/hsms and pkg/secs1. Grounded on
// AbstractSecsCommunicator in original_source's secscommunicator.py.
package secsgo

import "github.com/takumi-sec/gosecs/pkg/ast"

// Message is the common shape of a received or sent SECS message,
// satisfied by both *ast.DataMessage (HSMS) and *secs1.Message (SECS-I)
// without any adapter — both already expose exactly these accessors.
type Message interface {
	StreamCode() int
	FunctionCode() int
	WaitBit() bool
	Item() ast.ItemNode
	SystemBytes() [4]byte
	String() string
}
