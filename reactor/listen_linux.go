//go:build linux
// +build linux

// File: reactor/listen_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking listening sockets for shards.

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const listenBacklog = 4096

// Listen opens a non-blocking TCP listener on addr and returns its
// descriptor. With reusePort every shard can bind its own listener on the
// same address and let the kernel spread connections across them.
func Listen(addr string, reusePort bool) (int32, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, err
	}
	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcp.IP.To4(); ip4 != nil || tcp.IP == nil {
		s4 := &unix.SockaddrInet4{Port: tcp.Port}
		copy(s4.Addr[:], ip4)
		sa = s4
	} else {
		family = unix.AF_INET6
		s6 := &unix.SockaddrInet6{Port: tcp.Port}
		copy(s6.Addr[:], tcp.IP.To16())
		sa = s6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (int32, error) {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("%s %s: %w", op, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fail("setsockopt SO_REUSEPORT", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fail("listen", err)
	}
	return int32(fd), nil
}

// LocalPort returns the port a listener descriptor is bound to.
func LocalPort(fd int32) (int, error) {
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("unexpected socket address %T", sa)
	}
}
