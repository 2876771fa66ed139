// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral constructor options.

package reactor

import "github.com/momentics/uringws/pool"

const (
	defaultReadBuffer = 16 << 10
	defaultMaxEvents  = 256
)

type options struct {
	readBuffer int
	maxEvents  int
	slabs      *pool.SlabPool
}

// Option customizes a ring.
type Option func(*options)

// WithReadBuffer sets the per-socket receive buffer size.
func WithReadBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBuffer = n
		}
	}
}

// WithMaxEvents bounds the readiness events fetched per wait.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithSlabPool shares receive buffers between rings. It overrides
// WithReadBuffer with the pool's slab size.
func WithSlabPool(p *pool.SlabPool) Option {
	return func(o *options) {
		o.slabs = p
	}
}

func buildOptions(opts []Option) options {
	o := options{readBuffer: defaultReadBuffer, maxEvents: defaultMaxEvents}
	for _, fn := range opts {
		fn(&o)
	}
	if o.slabs == nil {
		o.slabs = pool.NewSlabPool(o.readBuffer)
	}
	o.readBuffer = o.slabs.Size()
	return o
}
