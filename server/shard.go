// File: server/shard.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shard is a single-threaded completion loop owning one listener, one
// ring and a slot table of connections indexed by file descriptor.
// Every submission carries a token packing fd, slot generation, shard id
// and operation, so completions for a socket that has since been closed
// and replaced are recognised and dropped.

package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/control"
	"github.com/momentics/uringws/protocol"
	"github.com/momentics/uringws/transport/uring"
)

const (
	defaultMaxConns  = 65536
	defaultBatchSize = 256
	waitTimeout      = 100 * time.Millisecond
)

type slot struct {
	conn     *protocol.Connection
	sess     Session
	frames   protocol.FrameHandler
	sending  bool
	draining bool
}

func (sl *slot) open() bool {
	st := sl.conn.State()
	return st == protocol.StateUpgrading || st == protocol.StateActive
}

// Shard dispatches completions for the sockets it accepted.
// All methods except OpenConnections must be called from one goroutine.
type Shard struct {
	id       uint8
	ring     uring.Ring
	listenFD int32
	handler  Handler

	slots    []*slot
	maxConns int
	batch    int
	proto    *protocol.Config
	open     atomic.Int64

	log     *zap.Logger
	metrics *control.ShardMetrics
}

// NewShard binds a shard to ring and the listening socket listenFD.
// A nil handler accepts connections and discards every frame.
func NewShard(id uint8, ring uring.Ring, listenFD int32, h Handler, opts ...ShardOption) *Shard {
	if h == nil {
		h = HandlerFuncs{}
	}
	s := &Shard{
		id:       id,
		ring:     ring,
		listenFD: listenFD,
		handler:  h,
		maxConns: defaultMaxConns,
		batch:    defaultBatchSize,
		proto:    protocol.DefaultConfig(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics(nil).ForShard(id)
	}
	s.log = s.log.With(zap.Uint8("shard", id))
	s.slots = make([]*slot, s.maxConns)
	return s
}

// ID returns the shard index carried in every token.
func (s *Shard) ID() uint8 { return s.id }

// OpenConnections returns the number of sockets currently held. It is safe
// to call from any goroutine.
func (s *Shard) OpenConnections() int64 { return s.open.Load() }

// Start arms the first accept.
func (s *Shard) Start() error {
	return s.ring.Accept(s.listenFD, uring.Pack(uring.NoFD, 0, s.id, uring.OpAccept))
}

// Run reaps and dispatches completions until ctx is done, then closes
// every open socket.
func (s *Shard) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	comps := make([]uring.Completion, s.batch)
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		default:
		}
		n, err := s.ring.Wait(comps, waitTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.closeAll()
			return err
		}
		for i := 0; i < n; i++ {
			s.Dispatch(comps[i])
			comps[i].Data = nil
		}
	}
}

// Dispatch routes one completion by the operation packed in its token.
func (s *Shard) Dispatch(c uring.Completion) {
	op := c.UserData.Op()
	s.metrics.Completion(op.String())
	if c.UserData.Shard() != s.id {
		s.drop(c, "foreign shard")
		return
	}
	switch op {
	case uring.OpAccept:
		s.onAccept(c)
	case uring.OpRecv:
		s.onRecv(c)
	case uring.OpSend:
		s.onSend(c)
	case uring.OpClose:
		if c.Res < 0 {
			s.log.Debug("close failed", zap.Stringer("token", c.UserData), zap.Error(c.Err()))
		}
	default:
		if ce := s.log.Check(zap.DebugLevel, "ignored completion"); ce != nil {
			ce.Write(zap.Stringer("token", c.UserData), zap.Int32("res", c.Res))
		}
	}
}

func (s *Shard) onAccept(c uring.Completion) {
	defer s.rearmAccept()
	if c.Res < 0 {
		s.log.Warn("accept failed", zap.Error(c.Err()))
		return
	}
	fd := c.Res
	if int(fd) >= s.maxConns {
		s.log.Warn("connection refused, slot table full", zap.Int32("fd", fd), zap.Int("max_conns", s.maxConns))
		s.metrics.HandshakesRejected.Inc()
		_ = s.ring.Close(fd, uring.Pack(fd, 0, s.id, uring.OpClose))
		return
	}

	sl := s.slot(fd)
	sl.conn.Accept()
	sl.sending = false
	sl.draining = false
	s.open.Add(1)
	s.metrics.Connections.Inc()

	if ce := s.log.Check(zap.DebugLevel, "accepted"); ce != nil {
		ce.Write(zap.Int32("fd", fd), zap.Uint16("gen", sl.conn.Generation()))
	}
	s.armRecv(fd, sl)
}

func (s *Shard) rearmAccept() {
	if err := s.Start(); err != nil {
		s.log.Error("accept submission failed", zap.Error(err))
	}
}

func (s *Shard) onRecv(c uring.Completion) {
	fd, sl := s.lookup(c)
	if sl == nil {
		return
	}
	if c.Res <= 0 {
		s.closeSlot(fd, sl, c.Err())
		return
	}
	s.metrics.BytesIn.Add(float64(c.Res))

	prev := sl.conn.State()
	if err := sl.conn.Receive(c.Data[:c.Res], sl.frames); err != nil {
		s.metrics.ProtocolError(api.CodeOf(err).String())
		if prev == protocol.StateUpgrading {
			s.metrics.HandshakesRejected.Inc()
		}
		s.closeSlot(fd, sl, err)
		return
	}
	if prev == protocol.StateUpgrading && sl.conn.State() == protocol.StateActive {
		s.metrics.HandshakesOK.Inc()
		s.handler.OnOpen(&sl.sess)
	}
	if !sl.open() {
		return
	}
	s.flush(fd, sl)
	if sl.open() && !sl.draining {
		s.armRecv(fd, sl)
	}
}

func (s *Shard) onSend(c uring.Completion) {
	fd, sl := s.lookup(c)
	if sl == nil {
		return
	}
	sl.sending = false
	if c.Res < 0 {
		s.closeSlot(fd, sl, c.Err())
		return
	}
	s.metrics.BytesOut.Add(float64(c.Res))
	sl.conn.Outbound().Advance(int(c.Res))
	s.flush(fd, sl)
}

// lookup resolves the slot a Recv or Send completion belongs to, or nil
// when the socket it was issued for is gone.
func (s *Shard) lookup(c uring.Completion) (int32, *slot) {
	fd, ok := c.UserData.FD()
	if !ok || fd < 0 || int(fd) >= s.maxConns || s.slots[fd] == nil {
		s.drop(c, "unknown fd")
		return fd, nil
	}
	sl := s.slots[fd]
	if sl.conn.Generation() != c.UserData.Gen() {
		s.drop(c, "stale generation")
		return fd, nil
	}
	if !sl.open() {
		s.drop(c, "closed")
		return fd, nil
	}
	return fd, sl
}

func (s *Shard) drop(c uring.Completion, reason string) {
	s.metrics.Stale(c.UserData.Op().String())
	if ce := s.log.Check(zap.DebugLevel, "dropped completion"); ce != nil {
		ce.Write(zap.String("reason", reason), zap.Stringer("token", c.UserData), zap.Int32("res", c.Res))
	}
}

// flush keeps at most one Send in flight, and completes a requested close
// once nothing is left to send.
func (s *Shard) flush(fd int32, sl *slot) {
	if sl.sending {
		return
	}
	buf, ok := sl.conn.Outbound().Front()
	if !ok {
		if sl.draining {
			s.closeSlot(fd, sl, nil)
		}
		return
	}
	if err := s.ring.Send(fd, buf, s.token(fd, sl, uring.OpSend)); err != nil {
		s.closeSlot(fd, sl, err)
		return
	}
	sl.sending = true
}

func (s *Shard) armRecv(fd int32, sl *slot) {
	if err := s.ring.Recv(fd, s.token(fd, sl, uring.OpRecv)); err != nil {
		s.closeSlot(fd, sl, err)
	}
}

// closeSlot releases the connection before submitting the close, so every
// completion still in flight for fd is dropped by lookup.
func (s *Shard) closeSlot(fd int32, sl *slot, cause error) {
	if sl.conn.State() == protocol.StateClosed {
		return
	}
	gen := sl.conn.Generation()
	sl.conn.Close()
	sl.sending = false
	sl.draining = false
	s.open.Add(-1)
	s.metrics.Connections.Dec()

	if ce := s.log.Check(zap.DebugLevel, "closing"); ce != nil {
		ce.Write(zap.Int32("fd", fd), zap.Uint16("gen", gen), zap.NamedError("cause", cause))
	}
	s.handler.OnClose(&sl.sess, cause)
	if err := s.ring.Close(fd, uring.Pack(fd, gen, s.id, uring.OpClose)); err != nil {
		s.log.Warn("close submission failed", zap.Int32("fd", fd), zap.Error(err))
	}
}

func (s *Shard) closeAll() {
	for fd, sl := range s.slots {
		if sl != nil {
			s.closeSlot(int32(fd), sl, context.Canceled)
		}
	}
}

func (s *Shard) token(fd int32, sl *slot, op uring.Op) uring.UserData {
	return uring.Pack(fd, sl.conn.Generation(), s.id, op)
}

// slot returns the slot for fd, creating it on first use.
func (s *Shard) slot(fd int32) *slot {
	if sl := s.slots[fd]; sl != nil {
		return sl
	}
	sl := &slot{
		conn: protocol.NewConnection(
			protocol.WithConfig(s.proto),
			protocol.WithLogger(s.log.With(zap.Int32("fd", fd))),
		),
	}
	sl.sess = Session{fd: fd, slot: sl}
	sl.frames = protocol.FrameHandlerFunc(func(f *protocol.Frame) {
		if sl.draining {
			return
		}
		f.Unmask()
		s.metrics.Frame(f.Opcode.String())
		s.handler.OnFrame(&sl.sess, f)
	})
	s.slots[fd] = sl
	return sl
}
