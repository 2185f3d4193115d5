/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package multiplex

import (
	"fmt"
	"os"
	"time"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
)

const (
	epollRead  = unix.EPOLLIN | unix.EPOLLRDHUP
	epollWrite = unix.EPOLLOUT

	minEvents = 16
	maxEvents = 4096
)

type (
	entry struct {
		handle   Handle
		interest Interest
		mode     Mode
	}

	_epoll struct {
		fd     int
		events []unix.EpollEvent
		table  map[int32]entry
	}
)

func NewEpoll(size int) (Multiplexer, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	size = min(max(size, minEvents), maxEvents)
	return &_epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, size),
		table:  make(map[int32]entry, size),
	}, nil
}

func epollMask(in Interest, m Mode) uint32 {
	var mask uint32
	if in&Read != 0 {
		mask |= epollRead
	}
	if in&Write != 0 {
		mask |= epollWrite
	}
	if m == Edge {
		mask |= unix.EPOLLET
	}
	return mask
}

func epollKind(ev uint32) Kind {
	var k Kind
	if ev&unix.EPOLLERR != 0 {
		k |= Error
	}
	if ev&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		k |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		k |= Writable
	}
	// both directions are gone, nothing more may be written
	if ev&unix.EPOLLHUP != 0 {
		k |= Hangup
	}
	return k
}

func (v *_epoll) Register(h Handle, in Interest, m Mode) error {
	fd := h.FD()
	if fd < 0 {
		return fmt.Errorf("epoll register: invalid descriptor %d", fd)
	}
	key := int32(fd)
	if _, ok := v.table[key]; ok {
		return errs.ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(in, m), Fd: key}
	if err := unix.EpollCtl(v.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	v.table[key] = entry{handle: h, interest: in, mode: m}
	return nil
}

func (v *_epoll) Modify(h Handle, in Interest) error {
	key := int32(h.FD())
	e, ok := v.table[key]
	if !ok {
		return errs.ErrNotRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(in, e.mode), Fd: key}
	if err := unix.EpollCtl(v.fd, unix.EPOLL_CTL_MOD, int(key), &ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	e.interest = in
	v.table[key] = e
	return nil
}

func (v *_epoll) Deregister(h Handle) error {
	key := int32(h.FD())
	if _, ok := v.table[key]; !ok {
		return nil
	}
	delete(v.table, key)
	err := unix.EpollCtl(v.fd, unix.EPOLL_CTL_DEL, int(key), nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return os.NewSyscallError("epoll_ctl del", err)
}

func (v *_epoll) Wait(timeout time.Duration) ([]Ready, error) {
	n, err := unix.EpollWait(v.fd, v.events, internal.Millis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}
	if n <= 0 {
		return nil, nil
	}

	list := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		e, ok := v.table[v.events[i].Fd]
		if !ok {
			continue
		}
		if k := epollKind(v.events[i].Events); k != 0 {
			list = append(list, Ready{Handle: e.handle, Kind: k})
		}
	}

	if n == len(v.events) && n < maxEvents {
		v.events = make([]unix.EpollEvent, min(n*2, maxEvents))
	}
	return list, nil
}

func (v *_epoll) Len() int {
	return len(v.table)
}

func (v *_epoll) Close() error {
	clear(v.table)
	return os.NewSyscallError("close", unix.Close(v.fd))
}
