// File: protocol/constants.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket wire protocol constants.

package protocol

import "strconv"

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// Header bit layout.
const (
	finBit      = 0x80
	rsvBits     = 0x70
	opcodeBits  = 0x0F
	maskBit     = 0x80
	lenBits     = 0x7F
	len16Marker = 126
	len64Marker = 127
	maskKeySize = 4
)

const (
	// MaxControlPayloadLen is the RFC 6455 bound on control frame payloads.
	MaxControlPayloadLen = 125

	// WebSocketGUID is appended to Sec-WebSocket-Key before hashing.
	WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// MaxHandshakeHeadersSize caps the buffered upgrade request by default.
	MaxHandshakeHeadersSize = 8192
)

// Close codes.
const (
	CloseNormalClosure      = 1000
	CloseGoingAway          = 1001
	CloseProtocolError      = 1002
	CloseUnsupportedData    = 1003
	CloseNoStatusRcvd       = 1005
	CloseAbnormalClosure    = 1006
	CloseInvalidPayloadData = 1007
	ClosePolicyViolation    = 1008
	CloseMessageTooBig      = 1009
	CloseMissingExtension   = 1010
	CloseInternalServerErr  = 1011
)

// parseOpcode maps the low nibble of the first header byte onto the
// defined opcode set.
func parseOpcode(b byte) (Opcode, bool) {
	switch op := Opcode(b & opcodeBits); op {
	case OpcodeContinuation, OpcodeText, OpcodeBinary,
		OpcodeClose, OpcodePing, OpcodePong:
		return op, true
	default:
		return op, false
	}
}

// IsControl reports whether op is a control opcode (close, ping, pong).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "opcode(" + strconv.Itoa(int(op)) + ")"
	}
}
