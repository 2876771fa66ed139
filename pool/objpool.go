// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// SlabPool hands out fixed-size receive buffers. Slabs are pooled by
// pointer so Put does not allocate.
type SlabPool struct {
	size int
	p    *SyncPool[*[]byte]
}

var _ ObjectPool[[]byte] = (*SlabPool)(nil)

// NewSlabPool creates a pool of size-byte slabs.
func NewSlabPool(size int) *SlabPool {
	return &SlabPool{
		size: size,
		p: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
	}
}

// Size returns the slab length.
func (sp *SlabPool) Size() int { return sp.size }

// Get returns a slab of exactly Size bytes. Contents are unspecified.
func (sp *SlabPool) Get() []byte {
	return (*sp.p.Get())[:sp.size]
}

// Put recycles b. Slabs of a different capacity are dropped.
func (sp *SlabPool) Put(b []byte) {
	if cap(b) != sp.size {
		return
	}
	b = b[:sp.size]
	sp.p.Put(&b)
}
