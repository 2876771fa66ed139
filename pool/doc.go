// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer primitives for the IO path: the per-connection outbound chunk
// queue and fixed-size receive slabs.
// A SendBuf belongs to one event loop; SlabPool is safe for concurrent use.
package pool
