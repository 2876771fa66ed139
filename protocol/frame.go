// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Decoded WebSocket frame.

package protocol

import "github.com/gobwas/ws"

// Frame is one decoded inbound frame.
//
// Payload is delivered exactly as received: while Masked is true every
// byte i still has to be XORed with Mask[i%4]. Call Unmask before reading
// application data.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// Unmask applies the mask key in place. It is a no-op on an already
// unmasked frame.
func (f *Frame) Unmask() {
	if !f.Masked {
		return
	}
	ws.Cipher(f.Payload, f.Mask, 0)
	f.Masked = false
}
