// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection-local failures. Every error here moves the owning Connection
// to the error state; none of them is fatal to the process.

package protocol

import "github.com/momentics/uringws/api"

// Handshake errors.
var (
	ErrInvalidMethod  = api.NewError(api.ErrCodeInvalidMethod, "upgrade: invalid method")
	ErrInvalidPath    = api.NewError(api.ErrCodeInvalidPath, "upgrade: invalid path")
	ErrInvalidVersion = api.NewError(api.ErrCodeInvalidVersion, "upgrade: invalid HTTP version")
	ErrInvalidValue   = api.NewError(api.ErrCodeInvalidValue, "upgrade: invalid value")
	ErrMissingHeader  = api.NewError(api.ErrCodeMissingHeader, "upgrade: missing header")
	ErrParse          = api.NewError(api.ErrCodeParse, "upgrade: malformed request")
)

// Frame errors.
var (
	ErrReservedBitsNotZero = api.NewError(api.ErrCodeReservedBitsNotZero, "frame: reserved bits not zero")
	ErrInvalidOpcode       = api.NewError(api.ErrCodeInvalidOpcode, "frame: invalid opcode")
	ErrUnmaskedFrame       = api.NewError(api.ErrCodeUnmaskedFrame, "frame: unmasked client frame")
	ErrMessageTooBig       = api.NewError(api.ErrCodeMessageTooBig, "frame: payload exceeds limit")
)

// ErrNotReadable is returned when bytes arrive for a connection that is
// closed or failed. The connection state is left unchanged.
var ErrNotReadable = api.NewError(api.ErrCodeNotReadable, "connection: not readable")
