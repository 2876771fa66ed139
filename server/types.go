// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application-facing handler and session types.

package server

import (
	"errors"

	"github.com/momentics/uringws/protocol"
)

// ErrSessionClosed is returned by Session.Write once the socket is gone or
// a close has been requested.
var ErrSessionClosed = errors.New("server: session closed")

// Handler receives connection events. All callbacks run on the shard's
// event loop and must not block.
type Handler interface {
	// OnOpen is called once the upgrade response has been queued.
	OnOpen(s *Session)
	// OnFrame is called for every inbound frame, already unmasked. The
	// payload is only valid for the duration of the call.
	OnFrame(s *Session, f *protocol.Frame)
	// OnClose is called once per accepted socket. err is nil for an
	// orderly close.
	OnClose(s *Session, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open  func(s *Session)
	Frame func(s *Session, f *protocol.Frame)
	Close func(s *Session, err error)
}

func (h HandlerFuncs) OnOpen(s *Session) {
	if h.Open != nil {
		h.Open(s)
	}
}

func (h HandlerFuncs) OnFrame(s *Session, f *protocol.Frame) {
	if h.Frame != nil {
		h.Frame(s, f)
	}
}

func (h HandlerFuncs) OnClose(s *Session, err error) {
	if h.Close != nil {
		h.Close(s, err)
	}
}

// Session is the handler's view of one accepted socket. The value is tied
// to a reusable slot: compare Generation to tell sockets on the same fd apart.
type Session struct {
	fd   int32
	slot *slot
}

// FD returns the socket descriptor.
func (s *Session) FD() int32 { return s.fd }

// Generation returns the slot epoch of the socket.
func (s *Session) Generation() uint16 { return s.slot.conn.Generation() }

// Write queues b for sending after everything already queued. The shard
// owns b until it has been written.
func (s *Session) Write(b []byte) error {
	if s.slot.draining || s.slot.conn.State() != protocol.StateActive {
		return ErrSessionClosed
	}
	s.slot.conn.Outbound().PushBack(b)
	return nil
}

// Close stops reading and closes the socket once queued data is written.
func (s *Session) Close() {
	s.slot.draining = true
}
