/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package listen

import (
	"fmt"
	"net"
	"os"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
)

// Raw is a non-blocking listening socket driven by a readiness multiplexer.
// Accept never blocks: with no pending connection it returns errs.ErrWouldBlock.
type Raw struct {
	fd   int
	addr *net.TCPAddr
}

func NewRaw(c Config) (*Raw, error) {
	c, err := c.normalize()
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveTCPAddr(c.Network, c.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.Address, err)
	}

	family := unix.AF_INET
	if c.Network == internal.NetTCP6 || (addr.IP != nil && addr.IP.To4() == nil) {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err = setup(fd, family, addr, c); err != nil {
		return nil, errors.Wrap(err, os.NewSyscallError("close", unix.Close(fd)))
	}

	r := &Raw{fd: fd, addr: addr}
	if sa, e := unix.Getsockname(fd); e == nil {
		if bound := toTCPAddr(sa); bound != nil {
			r.addr = bound
		}
	}
	return r, nil
}

func setup(fd, family int, addr *net.TCPAddr, c Config) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}
	if c.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEPORT", err)
		}
	}
	// a blocking accept woken by readiness can stall the whole loop
	// when the peer withdraws the connection before accept runs
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	if err := unix.Bind(fd, toSockaddr(family, addr)); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, c.Backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func (v *Raw) FD() int {
	return v.fd
}

func (v *Raw) Addr() net.Addr {
	return v.addr
}

func (v *Raw) Accept() (*conn.Connect, error) {
	for {
		nfd, sa, err := unix.Accept4(v.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return nil, errs.ErrWouldBlock
			default:
				return nil, fmt.Errorf("%w: %w", errs.ErrAccept, os.NewSyscallError("accept4", err))
			}
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1) //nolint: errcheck

		var peer net.Addr
		if a := toTCPAddr(sa); a != nil {
			peer = a
		}
		return conn.New(conn.NewFD(nfd), peer), nil
	}
}

func (v *Raw) Close() error {
	return os.NewSyscallError("close", unix.Close(v.fd))
}

func toSockaddr(family int, addr *net.TCPAddr) unix.Sockaddr {
	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if ip := addr.IP.To16(); ip != nil {
			copy(sa.Addr[:], ip)
		}
		return sa
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip := addr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	return sa
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]).To16(), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}
