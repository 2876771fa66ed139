// File: server/options.go
// Package server defines functional options for Shard.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/uringws/control"
	"github.com/momentics/uringws/protocol"
)

// ShardOption customizes shard initialization.
type ShardOption func(*Shard)

// WithLogger sets the shard logger. Connections log through a child logger.
func WithLogger(l *zap.Logger) ShardOption {
	return func(s *Shard) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics binds the shard to process-wide collectors.
func WithMetrics(m *control.Metrics) ShardOption {
	return func(s *Shard) {
		if m != nil {
			s.metrics = m.ForShard(s.id)
		}
	}
}

// WithMaxConns bounds the slot table. Sockets with fd >= n are refused.
func WithMaxConns(n int) ShardOption {
	return func(s *Shard) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithProtocolConfig sets the upgrade table and frame limits.
func WithProtocolConfig(cfg *protocol.Config) ShardOption {
	return func(s *Shard) {
		if cfg != nil {
			s.proto = cfg
		}
	}
}

// WithBatchSize overrides how many completions Run reaps per wait.
func WithBatchSize(n int) ShardOption {
	return func(s *Shard) {
		if n > 0 {
			s.batch = n
		}
	}
}
