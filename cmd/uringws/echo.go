// File: cmd/uringws/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/momentics/uringws/protocol"
	"github.com/momentics/uringws/server"
)

// echoHandler returns data frames unchanged, answers pings and completes
// the closing handshake.
type echoHandler struct {
	log *zap.Logger
}

func newEchoHandler(log *zap.Logger) *echoHandler {
	return &echoHandler{log: log}
}

func (h *echoHandler) OnOpen(s *server.Session) {
	h.log.Debug("client connected", zap.Int32("fd", s.FD()), zap.Uint16("gen", s.Generation()))
}

func (h *echoHandler) OnFrame(s *server.Session, f *protocol.Frame) {
	payload := append([]byte(nil), f.Payload...)
	var out ws.Frame
	switch f.Opcode {
	case protocol.OpcodeText, protocol.OpcodeBinary, protocol.OpcodeContinuation:
		out = ws.NewFrame(ws.OpCode(f.Opcode), f.Fin, payload)
	case protocol.OpcodePing:
		out = ws.NewPongFrame(payload)
	case protocol.OpcodeClose:
		out = ws.NewCloseFrame(payload)
	default:
		return
	}
	b, err := ws.CompileFrame(out)
	if err != nil {
		h.log.Warn("frame compile failed", zap.Error(err))
		s.Close()
		return
	}
	if err := s.Write(b); err != nil {
		return
	}
	if f.Opcode == protocol.OpcodeClose {
		s.Close()
	}
}

func (h *echoHandler) OnClose(s *server.Session, err error) {
	if ce := h.log.Check(zap.DebugLevel, "client disconnected"); ce != nil {
		ce.Write(append(protocol.ErrorFields(err), zap.Int32("fd", s.FD()))...)
	}
}
