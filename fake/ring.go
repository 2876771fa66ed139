// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the completion ring.

package fake

import (
	"sync"
	"time"

	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/transport/uring"
)

// Submission is one recorded call on Ring.
type Submission struct {
	Op       uring.Op
	FD       int32
	UserData uring.UserData
	// Data is a copy of the Send buffer.
	Data []byte
}

// Ring is an in-memory uring.Ring. Submissions are recorded and never
// completed on their own; tests inject completions with Complete.
type Ring struct {
	mu        sync.Mutex
	subs      []Submission
	ready     []uring.Completion
	notify    chan struct{}
	submitErr error
	closed    bool
}

var _ uring.Ring = (*Ring)(nil)

// NewRing creates an empty fake ring.
func NewRing() *Ring {
	return &Ring{notify: make(chan struct{}, 1)}
}

// Accept implements uring.Submitter.
func (r *Ring) Accept(listenFD int32, ud uring.UserData) error {
	return r.record(Submission{Op: uring.OpAccept, FD: listenFD, UserData: ud})
}

// Recv implements uring.Submitter.
func (r *Ring) Recv(fd int32, ud uring.UserData) error {
	return r.record(Submission{Op: uring.OpRecv, FD: fd, UserData: ud})
}

// Send implements uring.Submitter.
func (r *Ring) Send(fd int32, buf []byte, ud uring.UserData) error {
	data := make([]byte, len(buf))
	copy(data, buf)
	return r.record(Submission{Op: uring.OpSend, FD: fd, UserData: ud, Data: data})
}

// Close implements uring.Submitter.
func (r *Ring) Close(fd int32, ud uring.UserData) error {
	return r.record(Submission{Op: uring.OpClose, FD: fd, UserData: ud})
}

func (r *Ring) record(s Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.ErrRingClosed
	}
	if r.submitErr != nil {
		return r.submitErr
	}
	r.subs = append(r.subs, s)
	return nil
}

// Wait implements uring.Ring. It returns queued completions, waiting up to
// timeout for one to be injected.
func (r *Ring) Wait(out []uring.Completion, timeout time.Duration) (int, error) {
	if n, ok, err := r.take(out); ok {
		return n, err
	}
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-r.notify:
	case <-expired:
	}
	n, _, err := r.take(out)
	return n, err
}

func (r *Ring) take(out []uring.Completion) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, true, api.ErrRingClosed
	}
	n := copy(out, r.ready)
	r.ready = r.ready[n:]
	return n, n > 0, nil
}

// Shutdown implements uring.Ring. Pending completions are discarded.
func (r *Ring) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.ready = nil
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Complete queues completions for the next Wait.
func (r *Ring) Complete(cs ...uring.Completion) {
	r.mu.Lock()
	r.ready = append(r.ready, cs...)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// SetSubmitError makes every following submission fail with err.
// A nil err restores normal behavior.
func (r *Ring) SetSubmitError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitErr = err
}

// Submissions returns all recorded submissions in order.
func (r *Ring) Submissions() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Submission, len(r.subs))
	copy(out, r.subs)
	return out
}

// Drain returns recorded submissions and forgets them.
func (r *Ring) Drain() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.subs
	r.subs = nil
	return out
}

// Last returns the most recent submission of kind op.
func (r *Ring) Last(op uring.Op) (Submission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].Op == op {
			return r.subs[i], true
		}
	}
	return Submission{}, false
}
