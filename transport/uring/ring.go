// File: transport/uring/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-substrate contracts consumed by the shard dispatcher.

package uring

import (
	"time"

	"golang.org/x/sys/unix"
)

// Completion is one finished operation.
// Res uses the io_uring convention: >= 0 is the result, < 0 a negated errno.
type Completion struct {
	UserData UserData
	Res      int32
	// Data holds received bytes for Recv completions. It is owned by the
	// substrate and stays valid until the next Recv is submitted for the fd.
	Data []byte
}

// Err converts a negative Res into the matching errno.
func (c Completion) Err() error {
	if c.Res >= 0 {
		return nil
	}
	return unix.Errno(-c.Res)
}

// Submitter queues operations. Each call returns immediately; the outcome
// arrives later as a Completion carrying the supplied UserData.
type Submitter interface {
	Accept(listenFD int32, ud UserData) error
	Recv(fd int32, ud UserData) error
	// Send transmits a prefix of buf. buf must stay untouched until the
	// matching completion is observed.
	Send(fd int32, buf []byte, ud UserData) error
	Close(fd int32, ud UserData) error
}

// Ring is a Submitter that also reaps completions.
type Ring interface {
	Submitter
	// Wait fills out with up to len(out) completions, blocking at most
	// timeout when none are ready. A negative timeout blocks indefinitely.
	Wait(out []Completion, timeout time.Duration) (int, error)
	// Shutdown releases the ring. Sockets stay open; their owners close them.
	Shutdown() error
}
