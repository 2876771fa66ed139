// File: pool/sendbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound chunk queue for partial and scatter-gather writes.

package pool

import (
	"fmt"

	"github.com/eapache/queue"
)

type chunk struct {
	buf []byte
	off int
}

func (c *chunk) remaining() []byte { return c.buf[c.off:] }

// SendBuf is an ordered queue of byte chunks awaiting transmission.
// The front chunk always has at least one unsent byte.
//
// New data goes to a ring-backed tail. Chunks re-queued after a short
// write are kept in a small stack in front of the ring, so the send
// order stays front to back without shifting the ring.
//
// A SendBuf is owned by a single event loop and is not safe for
// concurrent use.
type SendBuf struct {
	head     []*chunk // re-queued chunks, last element is the front
	tail     *queue.Queue
	buffered int
}

// NewSendBuf returns an empty queue.
func NewSendBuf() *SendBuf {
	return &SendBuf{tail: queue.New()}
}

// PushBack enqueues b after all pending data. Empty chunks are ignored.
// The queue takes ownership of b.
func (s *SendBuf) PushBack(b []byte) {
	if len(b) == 0 {
		return
	}
	s.tail.Add(&chunk{buf: b})
	s.buffered += len(b)
}

// PushFront re-queues b ahead of all pending data. Empty chunks are ignored.
func (s *SendBuf) PushFront(b []byte) {
	if len(b) == 0 {
		return
	}
	s.head = append(s.head, &chunk{buf: b})
	s.buffered += len(b)
}

// Front returns the unsent part of the front chunk without consuming it.
func (s *SendBuf) Front() ([]byte, bool) {
	c := s.front()
	if c == nil {
		return nil, false
	}
	return c.remaining(), true
}

// Advance marks n bytes of the front chunk as sent and evicts the chunk
// once it is fully consumed. Advancing an empty queue, or past the front
// chunk, is a caller bug and panics.
func (s *SendBuf) Advance(n int) {
	c := s.front()
	if c == nil {
		panic("pool: advance on empty SendBuf")
	}
	left := len(c.buf) - c.off
	if n < 0 || n > left {
		panic(fmt.Sprintf("pool: advance %d exceeds front chunk remaining %d", n, left))
	}
	c.off += n
	s.buffered -= n
	if c.off == len(c.buf) {
		s.popFront()
	}
}

// Discard consumes n bytes across chunk boundaries, as needed after a
// vectored write. n larger than Buffered panics.
func (s *SendBuf) Discard(n int) {
	if n < 0 || n > s.buffered {
		panic(fmt.Sprintf("pool: discard %d exceeds buffered %d", n, s.buffered))
	}
	for n > 0 {
		front, _ := s.Front()
		step := len(front)
		if step > n {
			step = n
		}
		s.Advance(step)
		n -= step
	}
}

// Vectors returns views of up to max pending chunks in send order.
// max <= 0 returns all of them.
func (s *SendBuf) Vectors(max int) [][]byte {
	total := s.Len()
	if max <= 0 || max > total {
		max = total
	}
	out := make([][]byte, 0, max)
	for i := len(s.head) - 1; i >= 0 && len(out) < max; i-- {
		out = append(out, s.head[i].remaining())
	}
	for i := 0; i < s.tail.Length() && len(out) < max; i++ {
		out = append(out, s.tail.Get(i).(*chunk).remaining())
	}
	return out
}

// Len returns the number of pending chunks.
func (s *SendBuf) Len() int {
	return len(s.head) + s.tail.Length()
}

// Buffered returns the number of unsent bytes.
func (s *SendBuf) Buffered() int {
	return s.buffered
}

// Reset drops all pending data.
func (s *SendBuf) Reset() {
	for i := range s.head {
		s.head[i] = nil
	}
	s.head = s.head[:0]
	s.tail = queue.New()
	s.buffered = 0
}

func (s *SendBuf) front() *chunk {
	if n := len(s.head); n > 0 {
		return s.head[n-1]
	}
	if s.tail.Length() > 0 {
		return s.tail.Peek().(*chunk)
	}
	return nil
}

func (s *SendBuf) popFront() {
	if n := len(s.head); n > 0 {
		s.head[n-1] = nil
		s.head = s.head[:n-1]
		return
	}
	s.tail.Remove()
}
