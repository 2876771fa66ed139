//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/transport/uring"
)

// New returns api.ErrNotSupported on this platform.
func New(opts ...Option) (uring.Ring, error) {
	_ = buildOptions(opts)
	return nil, api.ErrNotSupported
}

// Listen returns api.ErrNotSupported on this platform.
func Listen(addr string, reusePort bool) (int32, error) {
	return -1, api.ErrNotSupported
}

// LocalPort returns api.ErrNotSupported on this platform.
func LocalPort(fd int32) (int, error) {
	return 0, api.ErrNotSupported
}
