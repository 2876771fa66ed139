// File: server/shard_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/control"
	"github.com/momentics/uringws/fake"
	"github.com/momentics/uringws/protocol"
	"github.com/momentics/uringws/server"
	"github.com/momentics/uringws/transport/uring"
)

const (
	shardID  = 2
	listenFD = 3
)

func upgradeRequest(path string) []byte {
	return []byte(strings.Join([]string{
		"GET " + path + " HTTP/1.1",
		"Host: localhost:9001",
		"Connection: Upgrade",
		"Upgrade: websocket",
		"Origin: http://localhost",
		"Sec-WebSocket-Version: 13",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
	}, "\r\n") + "\r\n\r\n")
}

func clientFrame(t *testing.T, op ws.OpCode, payload string) []byte {
	t.Helper()
	f := ws.MaskFrameWith(ws.NewFrame(op, true, []byte(payload)), [4]byte{1, 2, 3, 4})
	b, err := ws.CompileFrame(f)
	require.NoError(t, err)
	return b
}

// recorder is a Handler capturing every callback.
type recorder struct {
	mu      sync.Mutex
	opened  []int32
	frames  []string
	closed  []error
	onFrame func(s *server.Session, f *protocol.Frame)
}

func (r *recorder) OnOpen(s *server.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, s.FD())
}

func (r *recorder) OnFrame(s *server.Session, f *protocol.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, string(f.Payload))
	r.mu.Unlock()
	if r.onFrame != nil {
		r.onFrame(s, f)
	}
}

func (r *recorder) OnClose(_ *server.Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, err)
}

type harness struct {
	t     *testing.T
	ring  *fake.Ring
	shard *server.Shard
	h     *recorder
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, opts ...server.ShardOption) *harness {
	reg := prometheus.NewRegistry()
	ring := fake.NewRing()
	h := &recorder{}
	cfg := protocol.DefaultConfig()
	cfg.StrictEmptyMask = true
	opts = append([]server.ShardOption{
		server.WithLogger(zaptest.NewLogger(t)),
		server.WithMetrics(control.NewMetrics(reg)),
		server.WithProtocolConfig(cfg),
	}, opts...)
	s := server.NewShard(shardID, ring, listenFD, h, opts...)
	require.NoError(t, s.Start())
	return &harness{t: t, ring: ring, shard: s, h: h, reg: reg}
}

func (h *harness) last(op uring.Op) fake.Submission {
	h.t.Helper()
	sub, ok := h.ring.Last(op)
	require.True(h.t, ok, "no %s submission", op)
	return sub
}

func (h *harness) accept(fd int32) uring.UserData {
	h.t.Helper()
	h.shard.Dispatch(uring.Completion{UserData: uring.Pack(uring.NoFD, 0, shardID, uring.OpAccept), Res: fd})
	recv := h.last(uring.OpRecv)
	require.Equal(h.t, fd, recv.FD)
	return recv.UserData
}

func (h *harness) recv(ud uring.UserData, data []byte) {
	h.t.Helper()
	h.shard.Dispatch(uring.Completion{UserData: ud, Res: int32(len(data)), Data: data})
}

// open accepts fd and completes the handshake including the 101 write.
func (h *harness) open(fd int32) uring.UserData {
	h.t.Helper()
	ud := h.accept(fd)
	h.ring.Drain()
	h.recv(ud, upgradeRequest("/ws"))
	send := h.last(uring.OpSend)
	require.True(h.t, strings.HasPrefix(string(send.Data), "HTTP/1.1 101 Switching Protocols\r\n"))
	h.shard.Dispatch(uring.Completion{UserData: send.UserData, Res: int32(len(send.Data))})
	ud = h.last(uring.OpRecv).UserData
	h.ring.Drain()
	return ud
}

func (h *harness) counter(name string, labels map[string]string) float64 {
	h.t.Helper()
	families, err := h.reg.Gather()
	require.NoError(h.t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestShardStartArmsAccept(t *testing.T) {
	h := newHarness(t)
	sub := h.last(uring.OpAccept)
	require.Equal(t, int32(listenFD), sub.FD)
	require.Equal(t, uint8(shardID), sub.UserData.Shard())
	_, hasFD := sub.UserData.FD()
	require.False(t, hasFD)
}

func TestShardAcceptArmsRecvAndRearmsAccept(t *testing.T) {
	h := newHarness(t)
	h.ring.Drain()
	h.shard.Dispatch(uring.Completion{UserData: uring.Pack(uring.NoFD, 0, shardID, uring.OpAccept), Res: 9})

	subs := h.ring.Drain()
	require.Len(t, subs, 2)
	require.Equal(t, uring.OpRecv, subs[0].Op)
	fd, ok := subs[0].UserData.FD()
	require.True(t, ok)
	require.Equal(t, int32(9), fd)
	require.Equal(t, uint16(1), subs[0].UserData.Gen())
	require.Equal(t, uring.OpAccept, subs[1].Op)
	require.Equal(t, int64(1), h.shard.OpenConnections())
}

func TestShardEchoesFrames(t *testing.T) {
	h := newHarness(t)
	h.h.onFrame = func(s *server.Session, f *protocol.Frame) {
		require.NoError(t, s.Write([]byte("echo:"+string(f.Payload))))
	}
	ud := h.open(7)
	require.Equal(t, []int32{7}, h.h.opened)

	h.recv(ud, clientFrame(t, ws.OpText, "hello"))
	require.Equal(t, []string{"hello"}, h.h.frames, "payload is unmasked before the handler")

	send := h.last(uring.OpSend)
	require.Equal(t, "echo:hello", string(send.Data))
	require.Equal(t, uring.OpRecv, h.ring.Submissions()[len(h.ring.Submissions())-1].Op)

	// A short write resubmits the remainder.
	h.ring.Drain()
	h.shard.Dispatch(uring.Completion{UserData: send.UserData, Res: 3})
	require.Equal(t, "o:hello", string(h.last(uring.OpSend).Data))

	require.Equal(t, 1.0, h.counter("uringws_handshakes_total", map[string]string{"shard": "2", "result": "ok"}))
	require.Equal(t, 1.0, h.counter("uringws_frames_total", map[string]string{"opcode": "text"}))
}

func TestShardOneSendInFlight(t *testing.T) {
	h := newHarness(t)
	h.h.onFrame = func(s *server.Session, f *protocol.Frame) {
		require.NoError(t, s.Write(append([]byte(nil), f.Payload...)))
	}
	ud := h.open(7)

	h.recv(ud, append(clientFrame(t, ws.OpBinary, "a"), clientFrame(t, ws.OpBinary, "b")...))
	var sends []fake.Submission
	for _, s := range h.ring.Drain() {
		if s.Op == uring.OpSend {
			sends = append(sends, s)
		}
	}
	require.Len(t, sends, 1)
	require.Equal(t, "a", string(sends[0].Data))

	h.shard.Dispatch(uring.Completion{UserData: sends[0].UserData, Res: 1})
	require.Equal(t, "b", string(h.last(uring.OpSend).Data))
}

func TestShardDropsStaleGeneration(t *testing.T) {
	h := newHarness(t)
	old := h.open(7)

	// Peer hangs up; the slot is released and the close carries the old generation.
	h.recv(old, nil)
	require.Len(t, h.h.closed, 1)
	require.NoError(t, h.h.closed[0])
	closeSub := h.last(uring.OpClose)
	require.Equal(t, old.Gen(), closeSub.UserData.Gen())

	// The kernel hands out fd 7 again.
	fresh := h.accept(7)
	require.NotEqual(t, old.Gen(), fresh.Gen())
	h.ring.Drain()

	h.recv(old, upgradeRequest("/ws"))
	require.Empty(t, h.ring.Submissions())
	require.Len(t, h.h.opened, 1)
	require.Equal(t, 1.0, h.counter("uringws_stale_completions_total", map[string]string{"op": "recv"}))

	// The fresh socket is unaffected.
	h.recv(fresh, upgradeRequest("/ws"))
	require.Len(t, h.h.opened, 2)
}

func TestShardDropsForeignShard(t *testing.T) {
	h := newHarness(t)
	ud := h.open(7)
	fd, _ := ud.FD()
	foreign := uring.Pack(fd, ud.Gen(), shardID+1, uring.OpRecv)

	h.recv(foreign, clientFrame(t, ws.OpText, "x"))
	require.Empty(t, h.h.frames)
	require.Empty(t, h.ring.Submissions())
}

func TestShardClosesOnHandshakeFailure(t *testing.T) {
	h := newHarness(t)
	ud := h.accept(7)
	h.recv(ud, upgradeRequest("/admin"))

	require.Empty(t, h.h.opened)
	require.Len(t, h.h.closed, 1)
	require.ErrorIs(t, h.h.closed[0], protocol.ErrInvalidPath)
	require.Equal(t, int32(7), h.last(uring.OpClose).FD)
	require.Equal(t, int64(0), h.shard.OpenConnections())
	require.Equal(t, 1.0, h.counter("uringws_protocol_errors_total", map[string]string{"code": "invalid_path"}))
	require.Equal(t, 1.0, h.counter("uringws_handshakes_total", map[string]string{"result": "rejected"}))
}

func TestShardClosesOnFrameError(t *testing.T) {
	h := newHarness(t)
	ud := h.open(7)
	unmasked, err := ws.CompileFrame(ws.NewTextFrame([]byte("x")))
	require.NoError(t, err)

	h.recv(ud, unmasked)
	require.Len(t, h.h.closed, 1)
	require.Equal(t, api.ErrCodeUnmaskedFrame, api.CodeOf(h.h.closed[0]))
}

func TestShardRefusesFDBeyondSlotTable(t *testing.T) {
	h := newHarness(t, server.WithMaxConns(4))
	h.ring.Drain()
	h.shard.Dispatch(uring.Completion{UserData: uring.Pack(uring.NoFD, 0, shardID, uring.OpAccept), Res: 4})

	subs := h.ring.Drain()
	require.Len(t, subs, 2)
	require.Equal(t, uring.OpClose, subs[0].Op)
	require.Equal(t, int32(4), subs[0].FD)
	require.Equal(t, uring.OpAccept, subs[1].Op)
	require.Equal(t, int64(0), h.shard.OpenConnections())
}

func TestShardAcceptErrorRearms(t *testing.T) {
	h := newHarness(t)
	h.ring.Drain()
	h.shard.Dispatch(uring.Completion{UserData: uring.Pack(uring.NoFD, 0, shardID, uring.OpAccept), Res: -24})

	subs := h.ring.Drain()
	require.Len(t, subs, 1)
	require.Equal(t, uring.OpAccept, subs[0].Op)
}

func TestSessionCloseDrainsOutbound(t *testing.T) {
	h := newHarness(t)
	var sess *server.Session
	h.h.onFrame = func(s *server.Session, f *protocol.Frame) {
		sess = s
		require.NoError(t, s.Write([]byte("bye")))
		s.Close()
		require.ErrorIs(t, s.Write([]byte("late")), server.ErrSessionClosed)
	}
	ud := h.open(7)

	h.recv(ud, append(clientFrame(t, ws.OpClose, ""), clientFrame(t, ws.OpText, "ignored")...))
	require.Len(t, h.h.frames, 1, "frames after Close are not delivered")
	subs := h.ring.Drain()
	require.Len(t, subs, 1, "no recv is re-armed while draining")
	require.Equal(t, uring.OpSend, subs[0].Op)
	require.Empty(t, h.h.closed)

	h.shard.Dispatch(uring.Completion{UserData: subs[0].UserData, Res: 3})
	require.Len(t, h.h.closed, 1)
	require.NoError(t, h.h.closed[0])
	require.Equal(t, uring.OpClose, h.last(uring.OpClose).Op)
	require.ErrorIs(t, sess.Write([]byte("x")), server.ErrSessionClosed)
}

func TestShardSendErrorCloses(t *testing.T) {
	h := newHarness(t)
	ud := h.accept(7)
	h.recv(ud, upgradeRequest("/ws"))
	send := h.last(uring.OpSend)

	h.shard.Dispatch(uring.Completion{UserData: send.UserData, Res: -32})
	require.Len(t, h.h.closed, 1)
	require.Error(t, h.h.closed[0])
}

func TestShardSubmitErrorCloses(t *testing.T) {
	h := newHarness(t)
	ud := h.accept(7)
	h.ring.SetSubmitError(errors.New("queue full"))
	h.recv(ud, upgradeRequest("/ws"))

	require.Len(t, h.h.closed, 1)
	require.EqualError(t, h.h.closed[0], "queue full")
	require.Equal(t, int64(0), h.shard.OpenConnections())
}

func TestShardIgnoresUnsubmittedOps(t *testing.T) {
	h := newHarness(t)
	h.ring.Drain()
	for _, op := range []uring.Op{uring.OpPollAdd, uring.OpProvideBuffers, uring.OpRemoveBuffers, uring.OpUnknown} {
		h.shard.Dispatch(uring.Completion{UserData: uring.Pack(5, 0, shardID, op)})
	}
	require.Empty(t, h.ring.Submissions())
}

func TestShardDropsNegativeFD(t *testing.T) {
	h := newHarness(t)
	h.ring.Drain()
	for _, op := range []uring.Op{uring.OpRecv, uring.OpSend} {
		ud := uring.UserData(uint64(op) | uint64(shardID)<<8 | uint64(0x80000000)<<32)
		fd, ok := ud.FD()
		require.True(t, ok)
		require.Negative(t, fd)
		require.NotPanics(t, func() {
			h.shard.Dispatch(uring.Completion{UserData: ud, Res: 4})
		})
	}
	require.Empty(t, h.ring.Submissions())
	require.Equal(t, int64(0), h.shard.OpenConnections())
}

func TestShardRunClosesOnCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	ring := fake.NewRing()
	h := &recorder{}
	s := server.NewShard(shardID, ring, listenFD, h, server.WithMetrics(control.NewMetrics(reg)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ring.Complete(uring.Completion{UserData: uring.Pack(uring.NoFD, 0, shardID, uring.OpAccept), Res: 11})
	require.Eventually(t, func() bool { return s.OpenConnections() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Equal(t, int64(0), s.OpenConnections())
	require.Len(t, h.closed, 1)
	require.ErrorIs(t, h.closed[0], context.Canceled)
}

func TestShardRunReturnsRingError(t *testing.T) {
	ring := fake.NewRing()
	s := server.NewShard(shardID, ring, listenFD, nil)
	require.NoError(t, ring.Shutdown())
	require.ErrorIs(t, s.Run(context.Background()), api.ErrRingClosed)
}
