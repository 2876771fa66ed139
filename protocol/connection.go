// File: protocol/connection.go
// Package protocol implements the per-socket WebSocket lifecycle.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection sequences one socket through handshake, active WebSocket and
// closed/error. Slots are pooled and reused for many sockets; the
// generation counter tells completions for an earlier socket apart from
// the current one.

package protocol

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/pool"
)

// State is the externally visible lifecycle state.
type State uint8

const (
	StateClosed State = iota
	StateUpgrading
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateUpgrading:
		return "upgrading"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// connState is a closed set of variants; each carries only the sub-state
// valid in it and is replaced wholesale on every transition.
type connState interface {
	kind() State
}

type closedState struct{}

type upgradingState struct {
	parser *UpgradeParser
}

type activeState struct {
	decoder *FrameDecoder
}

type errorState struct {
	err error
}

func (closedState) kind() State    { return StateClosed }
func (upgradingState) kind() State { return StateUpgrading }
func (activeState) kind() State    { return StateActive }
func (errorState) kind() State     { return StateError }

// FrameHandler receives decoded frames. Frames arrive still masked.
type FrameHandler interface {
	HandleFrame(f *Frame)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(f *Frame)

// HandleFrame calls fn(f).
func (fn FrameHandlerFunc) HandleFrame(f *Frame) { fn(f) }

// Connection is a reusable per-socket state machine.
// It is driven by a single event loop and is not safe for concurrent use.
type Connection struct {
	state connState
	gen   uint16
	out   *pool.SendBuf
	cfg   *Config
	log   *zap.Logger
}

// ConnOption customizes a Connection.
type ConnOption func(*Connection)

// WithConfig sets the upgrade table and decoder limits.
func WithConfig(cfg *Config) ConnOption {
	return func(c *Connection) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithLogger sets the logger used to report rejected handshakes and frames.
func WithLogger(l *zap.Logger) ConnOption {
	return func(c *Connection) {
		if l != nil {
			c.log = l
		}
	}
}

// WithGeneration sets the starting generation.
func WithGeneration(gen uint16) ConnOption {
	return func(c *Connection) {
		c.gen = gen
	}
}

// NewConnection returns a closed connection slot.
func NewConnection(opts ...ConnOption) *Connection {
	c := &Connection{
		state: closedState{},
		out:   pool.NewSendBuf(),
		cfg:   DefaultConfig(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return c.state.kind()
}

// Generation returns the slot epoch. It changes on every Accept.
func (c *Connection) Generation() uint16 {
	return c.gen
}

// Outbound exposes bytes waiting to be written to the socket.
func (c *Connection) Outbound() *pool.SendBuf {
	return c.out
}

// Err returns the failure that moved the connection to StateError.
func (c *Connection) Err() error {
	if st, ok := c.state.(errorState); ok {
		return st.err
	}
	return nil
}

// Accept binds the slot to a freshly accepted socket. It is only legal
// from StateClosed or StateError; any other call is a driver bug and panics.
func (c *Connection) Accept() {
	switch c.state.(type) {
	case closedState, errorState:
	default:
		panic(fmt.Sprintf("protocol: accept on %s connection", c.State()))
	}
	c.state = upgradingState{parser: NewUpgradeParser(&c.cfg.Upgrade)}
	c.gen++
	c.out = pool.NewSendBuf()
}

// Receive feeds bytes read from the socket, in transport order.
//
// While upgrading, a completed handshake queues the 101 response on
// Outbound and switches to StateActive. While active, every completed
// frame is handed to h. A handshake or frame error moves the connection to
// StateError and is returned. Bytes for a closed or failed connection are
// rejected with ErrNotReadable and leave the state untouched.
func (c *Connection) Receive(chunk []byte, h FrameHandler) error {
	switch st := c.state.(type) {
	case upgradingState:
		resp, err := st.parser.Accumulate(chunk)
		if err != nil {
			return c.fail(err)
		}
		if resp == nil {
			return nil
		}
		st.parser.Release()
		c.out.PushBack(resp)
		c.state = activeState{decoder: c.cfg.newDecoder()}
		c.log.Debug("websocket upgrade complete", zap.Uint16("gen", c.gen))
		return nil

	case activeState:
		for len(chunk) > 0 {
			f, n, err := st.decoder.Consume(chunk)
			if err != nil {
				return c.fail(err)
			}
			chunk = chunk[n:]
			if f == nil {
				break
			}
			if h != nil {
				h.HandleFrame(f)
			}
			// The handler may have closed the connection.
			if c.State() != StateActive {
				return nil
			}
		}
		return nil

	default:
		return ErrNotReadable.WithContext("state", c.State().String())
	}
}

// Close discards all parser, decoder and outbound state. Unsent bytes are
// dropped. Legal from any state.
func (c *Connection) Close() {
	c.release()
	c.state = closedState{}
	c.out.Reset()
}

func (c *Connection) fail(err error) error {
	prev := c.State()
	c.release()
	c.state = errorState{err: err}
	if ce := c.log.Check(zap.DebugLevel, "connection failed"); ce != nil {
		ce.Write(append(ErrorFields(err),
			zap.Stringer("state", prev),
			zap.Uint16("gen", c.gen))...)
	}
	return err
}

func (c *Connection) release() {
	if st, ok := c.state.(upgradingState); ok {
		st.parser.Release()
	}
}

// ErrorFields renders err with its code and context for structured logs.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{
		zap.Error(err),
		zap.Stringer("code", api.CodeOf(err)),
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			fields = append(fields, zap.Any(k, v))
		}
	}
	return fields
}
