/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package memory is an in-process multiplexer with simulated sockets.
// Level registrations are reported while the condition holds, edge
// registrations once per transition from "nothing to read" to "readable",
// which makes edge-triggered starvation reproducible without timing.
package memory

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/multiplex"
)

type (
	source interface {
		multiplex.Handle
		readable() bool
		failed() bool
		hungUp() bool
	}

	entry struct {
		handle   multiplex.Handle
		src      source
		interest multiplex.Interest
		mode     multiplex.Mode
		rArmed   bool
		wArmed   bool
	}

	Poller struct {
		mux     sync.Mutex
		nextFD  int
		table   map[int]*entry
		sources map[int]source
		notify  chan struct{}
		waits   int
	}
)

var _ multiplex.Multiplexer = (*Poller)(nil)

func New() *Poller {
	return &Poller{
		nextFD:  1000,
		table:   make(map[int]*entry),
		sources: make(map[int]source),
		notify:  make(chan struct{}, 1),
	}
}

// attach must be called with mux held.
func (v *Poller) attach(src source) {
	v.sources[src.FD()] = src
}

func (v *Poller) allocFD() int {
	v.nextFD++
	return v.nextFD
}

// edge must be called with mux held after src became readable or failed.
func (v *Poller) edge(fd int) {
	if e, ok := v.table[fd]; ok {
		e.rArmed = true
	}
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *Poller) Register(h multiplex.Handle, in multiplex.Interest, m multiplex.Mode) error {
	v.mux.Lock()
	defer v.mux.Unlock()

	src, ok := v.sources[h.FD()]
	if !ok {
		return fmt.Errorf("memory register: unknown descriptor %d", h.FD())
	}
	if _, ok = v.table[src.FD()]; ok {
		return errs.ErrAlreadyRegistered
	}
	v.table[src.FD()] = &entry{
		handle:   h,
		src:      src,
		interest: in,
		mode:     m,
		rArmed:   src.readable() || src.failed(),
		wArmed:   true,
	}
	return nil
}

// Modify re-arms edge registrations the same way EPOLL_CTL_MOD does.
func (v *Poller) Modify(h multiplex.Handle, in multiplex.Interest) error {
	v.mux.Lock()
	defer v.mux.Unlock()

	e, ok := v.table[h.FD()]
	if !ok {
		return errs.ErrNotRegistered
	}
	e.interest = in
	e.rArmed = e.src.readable() || e.src.failed()
	e.wArmed = true
	return nil
}

func (v *Poller) Deregister(h multiplex.Handle) error {
	v.mux.Lock()
	defer v.mux.Unlock()

	delete(v.table, h.FD())
	return nil
}

func (v *Poller) collect() []multiplex.Ready {
	v.mux.Lock()
	defer v.mux.Unlock()

	var list []multiplex.Ready
	for _, fd := range slices.Sorted(maps.Keys(v.table)) {
		e := v.table[fd]
		var k multiplex.Kind

		if e.src.failed() {
			if e.mode == multiplex.Level || e.rArmed {
				k |= multiplex.Error
			}
		} else if e.interest&multiplex.Read != 0 {
			switch e.mode {
			case multiplex.Level:
				if e.src.readable() {
					k |= multiplex.Readable
				}
			case multiplex.Edge:
				if e.rArmed {
					k |= multiplex.Readable
				}
			}
		}
		if e.src.hungUp() && (e.mode == multiplex.Level || e.rArmed) {
			k |= multiplex.Hangup
		}
		if e.interest&multiplex.Write != 0 && !e.src.failed() {
			if e.mode == multiplex.Level || e.wArmed {
				k |= multiplex.Writable
			}
		}

		if e.mode == multiplex.Edge {
			e.rArmed = false
			if e.interest&multiplex.Write != 0 {
				e.wArmed = false
			}
		}
		if k != 0 {
			list = append(list, multiplex.Ready{Handle: e.handle, Kind: k})
		}
	}
	return list
}

// Wait never blocks past timeout; a zero timeout only checks current readiness.
func (v *Poller) Wait(timeout time.Duration) ([]multiplex.Ready, error) {
	v.mux.Lock()
	v.waits++
	v.mux.Unlock()

	if list := v.collect(); len(list) > 0 || timeout == 0 {
		return list, nil
	}

	var tc <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		tc = t.C
	}
	select {
	case <-v.notify:
	case <-tc:
	}
	return v.collect(), nil
}

// Waits counts calls to Wait.
func (v *Poller) Waits() int {
	v.mux.Lock()
	defer v.mux.Unlock()
	return v.waits
}

func (v *Poller) Len() int {
	v.mux.Lock()
	defer v.mux.Unlock()
	return len(v.table)
}

func (v *Poller) Close() error {
	v.mux.Lock()
	defer v.mux.Unlock()
	clear(v.table)
	return nil
}
