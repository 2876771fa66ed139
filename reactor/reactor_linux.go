//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based completion ring.
//
// Submitted operations are parked per descriptor and performed once epoll
// reports the descriptor ready; the outcome is queued as a completion with
// io_uring result semantics (>= 0 result, < 0 negated errno). Close runs
// close(2) at submission and cancels everything parked on the descriptor.

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/uringws/api"
	"github.com/momentics/uringws/transport/uring"
)

type parked struct {
	ud    uring.UserData
	armed bool
	data  []byte
}

type fdState struct {
	fd         int32
	registered bool
	events     uint32
	accept     parked
	recv       parked
	send       parked
	buf        []byte
}

// linuxRing is not safe for concurrent use; it belongs to one shard.
type linuxRing struct {
	epfd   int
	opts   options
	fds    map[int32]*fdState
	ready  []uring.Completion
	events []unix.EpollEvent
	closed bool
}

var _ uring.Ring = (*linuxRing)(nil)

// New constructs an epoll-backed uring.Ring.
func New(opts ...Option) (uring.Ring, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &linuxRing{
		epfd:   epfd,
		opts:   o,
		fds:    make(map[int32]*fdState),
		events: make([]unix.EpollEvent, o.maxEvents),
	}, nil
}

// Accept parks an accept4(2) on listenFD.
func (r *linuxRing) Accept(listenFD int32, ud uring.UserData) error {
	return r.park(listenFD, func(st *fdState) { st.accept = parked{ud: ud, armed: true} })
}

// Recv parks a read into the descriptor's buffer.
func (r *linuxRing) Recv(fd int32, ud uring.UserData) error {
	return r.park(fd, func(st *fdState) { st.recv = parked{ud: ud, armed: true} })
}

// Send parks a write of buf.
func (r *linuxRing) Send(fd int32, buf []byte, ud uring.UserData) error {
	return r.park(fd, func(st *fdState) { st.send = parked{ud: ud, armed: true, data: buf} })
}

// Close closes fd immediately and cancels operations parked on it.
func (r *linuxRing) Close(fd int32, ud uring.UserData) error {
	if r.closed {
		return api.ErrRingClosed
	}
	if st, ok := r.fds[fd]; ok {
		for _, p := range []*parked{&st.accept, &st.recv, &st.send} {
			if p.armed {
				r.complete(p.ud, -int32(unix.ECANCELED), nil)
				*p = parked{}
			}
		}
		if st.registered {
			_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		}
		if st.buf != nil {
			r.opts.slabs.Put(st.buf)
		}
		delete(r.fds, fd)
	}
	var res int32
	if err := unix.Close(int(fd)); err != nil {
		res = errnoRes(err)
	}
	r.complete(ud, res, nil)
	return nil
}

// Wait returns queued completions, or waits up to timeout for readiness.
func (r *linuxRing) Wait(out []uring.Completion, timeout time.Duration) (int, error) {
	if r.closed {
		return 0, api.ErrRingClosed
	}
	if len(r.ready) > 0 {
		return r.reap(out), nil
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := r.events[i]
		st, ok := r.fds[ev.Fd]
		if !ok {
			continue
		}
		readable := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0
		writable := ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0
		if readable && st.accept.armed {
			r.doAccept(st)
		}
		if readable && st.recv.armed {
			r.doRecv(st)
		}
		if writable && st.send.armed {
			r.doSend(st)
		}
		if err := r.arm(st); err != nil {
			r.failAll(st, err)
		}
	}
	return r.reap(out), nil
}

// Shutdown releases the epoll descriptor. Sockets are left to their owners.
func (r *linuxRing) Shutdown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.ready = nil
	return unix.Close(r.epfd)
}

func (r *linuxRing) park(fd int32, set func(*fdState)) error {
	if r.closed {
		return api.ErrRingClosed
	}
	if fd < 0 {
		return api.ErrInvalidArgument
	}
	st, ok := r.fds[fd]
	if !ok {
		st = &fdState{fd: fd}
		r.fds[fd] = st
	}
	set(st)
	return r.arm(st)
}

// arm keeps the epoll interest set equal to the parked operations.
// Descriptors with nothing parked are removed so a hung-up peer does not
// keep waking the loop.
func (r *linuxRing) arm(st *fdState) error {
	var want uint32
	if st.accept.armed || st.recv.armed {
		want |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if st.send.armed {
		want |= unix.EPOLLOUT
	}
	switch {
	case want == 0 && st.registered:
		st.registered = false
		st.events = 0
		return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(st.fd), nil)
	case want == 0:
		return nil
	case !st.registered:
		ev := unix.EpollEvent{Events: want, Fd: st.fd}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(st.fd), &ev); err != nil {
			return err
		}
		st.registered = true
		st.events = want
	case want != st.events:
		ev := unix.EpollEvent{Events: want, Fd: st.fd}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(st.fd), &ev); err != nil {
			return err
		}
		st.events = want
	}
	return nil
}

func (r *linuxRing) doAccept(st *fdState) {
	nfd, _, err := unix.Accept4(int(st.fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if isRetry(err) {
		return
	}
	res := int32(nfd)
	if err != nil {
		res = errnoRes(err)
	}
	r.complete(st.accept.ud, res, nil)
	st.accept = parked{}
}

func (r *linuxRing) doRecv(st *fdState) {
	if st.buf == nil {
		st.buf = r.opts.slabs.Get()
	}
	n, err := unix.Read(int(st.fd), st.buf)
	if isRetry(err) {
		return
	}
	if err != nil {
		r.complete(st.recv.ud, errnoRes(err), nil)
	} else {
		r.complete(st.recv.ud, int32(n), st.buf[:n])
	}
	st.recv = parked{}
}

func (r *linuxRing) doSend(st *fdState) {
	n, err := unix.SendmsgN(int(st.fd), st.send.data, nil, nil, unix.MSG_NOSIGNAL)
	if isRetry(err) {
		return
	}
	res := int32(n)
	if err != nil {
		res = errnoRes(err)
	}
	r.complete(st.send.ud, res, nil)
	st.send = parked{}
}

// failAll completes every parked operation with err when the descriptor
// can no longer be watched.
func (r *linuxRing) failAll(st *fdState, err error) {
	for _, p := range []*parked{&st.accept, &st.recv, &st.send} {
		if p.armed {
			r.complete(p.ud, errnoRes(err), nil)
			*p = parked{}
		}
	}
	st.registered = false
	st.events = 0
}

func (r *linuxRing) complete(ud uring.UserData, res int32, data []byte) {
	r.ready = append(r.ready, uring.Completion{UserData: ud, Res: res, Data: data})
}

func (r *linuxRing) reap(out []uring.Completion) int {
	n := copy(out, r.ready)
	rest := copy(r.ready, r.ready[n:])
	for i := rest; i < len(r.ready); i++ {
		r.ready[i] = uring.Completion{}
	}
	r.ready = r.ready[:rest]
	return n
}

func isRetry(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func errnoRes(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
