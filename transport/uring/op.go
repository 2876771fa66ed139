// File: transport/uring/op.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operation kinds carried in the low byte of a completion token.

package uring

import "strconv"

// Op identifies the kind of operation a completion belongs to.
// Values follow the kernel opcode numbering the engine was built against.
type Op uint8

const (
	OpPollAdd        Op = 6
	OpAccept         Op = 13
	OpClose          Op = 19
	OpSend           Op = 26
	OpRecv           Op = 27
	OpProvideBuffers Op = 31
	OpRemoveBuffers  Op = 32
	OpUnknown        Op = 255
)

// ParseOp maps a raw byte onto the known operation set.
// Unrecognized values yield OpUnknown; it never fails.
func ParseOp(b uint8) Op {
	switch Op(b) {
	case OpPollAdd, OpAccept, OpClose, OpSend, OpRecv,
		OpProvideBuffers, OpRemoveBuffers:
		return Op(b)
	default:
		return OpUnknown
	}
}

func (o Op) String() string {
	switch o {
	case OpPollAdd:
		return "poll_add"
	case OpAccept:
		return "accept"
	case OpClose:
		return "close"
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpProvideBuffers:
		return "provide_buffers"
	case OpRemoveBuffers:
		return "remove_buffers"
	case OpUnknown:
		return "unknown"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}
