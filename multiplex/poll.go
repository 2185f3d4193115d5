/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package multiplex

import (
	"fmt"
	"os"
	"slices"
	"time"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
)

// _poll rebuilds the pollfd set on every wait, so it only knows level-triggered readiness.
type _poll struct {
	table map[int]entry
	order []int
	fds   []unix.PollFd
}

func NewPoll() Multiplexer {
	return &_poll{
		table: make(map[int]entry),
	}
}

func pollMask(in Interest) int16 {
	var mask int16
	if in&Read != 0 {
		mask |= unix.POLLIN | unix.POLLRDHUP
	}
	if in&Write != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

func pollKind(ev int16) Kind {
	var k Kind
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		k |= Error
	}
	if ev&(unix.POLLIN|unix.POLLPRI|unix.POLLRDHUP) != 0 {
		k |= Readable
	}
	if ev&unix.POLLOUT != 0 {
		k |= Writable
	}
	if ev&unix.POLLHUP != 0 {
		k |= Hangup
	}
	return k
}

func (v *_poll) Register(h Handle, in Interest, m Mode) error {
	if m == Edge {
		return fmt.Errorf("poll: %w", errs.ErrUnsupportedMode)
	}
	fd := h.FD()
	if fd < 0 {
		return fmt.Errorf("poll register: invalid descriptor %d", fd)
	}
	if _, ok := v.table[fd]; ok {
		return errs.ErrAlreadyRegistered
	}
	v.table[fd] = entry{handle: h, interest: in, mode: m}
	v.order = append(v.order, fd)
	return nil
}

func (v *_poll) Modify(h Handle, in Interest) error {
	fd := h.FD()
	e, ok := v.table[fd]
	if !ok {
		return errs.ErrNotRegistered
	}
	e.interest = in
	v.table[fd] = e
	return nil
}

func (v *_poll) Deregister(h Handle) error {
	fd := h.FD()
	if _, ok := v.table[fd]; !ok {
		return nil
	}
	delete(v.table, fd)
	if i := slices.Index(v.order, fd); i >= 0 {
		v.order = slices.Delete(v.order, i, i+1)
	}
	return nil
}

func (v *_poll) Wait(timeout time.Duration) ([]Ready, error) {
	v.fds = v.fds[:0]
	for _, fd := range v.order {
		v.fds = append(v.fds, unix.PollFd{
			Fd:     int32(fd),
			Events: pollMask(v.table[fd].interest),
		})
	}

	n, err := unix.Poll(v.fds, internal.Millis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, os.NewSyscallError("poll", err)
	}
	if n <= 0 {
		return nil, nil
	}

	list := make([]Ready, 0, n)
	for _, p := range v.fds {
		if p.Revents == 0 {
			continue
		}
		e, ok := v.table[int(p.Fd)]
		if !ok {
			continue
		}
		if k := pollKind(p.Revents); k != 0 {
			list = append(list, Ready{Handle: e.handle, Kind: k})
		}
	}
	return list, nil
}

func (v *_poll) Len() int {
	return len(v.table)
}

func (v *_poll) Close() error {
	clear(v.table)
	v.order = nil
	return nil
}
