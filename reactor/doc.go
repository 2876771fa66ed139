// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a readiness-based completion ring: epoll(7)
// readiness is turned into io_uring-style completions, so a shard can be
// driven the same way on kernels or sandboxes without io_uring.
package reactor
