/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package multiplex reports which registered handles can make progress
// without blocking. Callers depend on Multiplexer only, the OS facility
// behind it is picked by Backend name.
package multiplex

import (
	"fmt"
	"strings"
	"time"
)

type Interest uint8

const (
	Read Interest = 1 << iota
	Write

	ReadWrite = Read | Write
)

func (i Interest) String() string {
	switch i {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read|write"
	default:
		return "none"
	}
}

type Mode uint8

const (
	Level Mode = iota
	Edge
)

func (m Mode) String() string {
	if m == Edge {
		return "edge"
	}
	return "level"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "level", "lt":
		return Level, nil
	case "edge", "et":
		return Edge, nil
	default:
		return Level, fmt.Errorf("invalid trigger mode %q, use: level, edge", s)
	}
}

// Kind is a set of readiness flags reported for one handle.
type Kind uint8

const (
	Readable Kind = 1 << iota
	Writable
	Error
	Hangup
)

func (k Kind) Has(f Kind) bool {
	return k&f != 0
}

func (k Kind) String() string {
	var parts []string
	for _, v := range []struct {
		k Kind
		s string
	}{{Readable, "readable"}, {Writable, "writable"}, {Error, "error"}, {Hangup, "hangup"}} {
		if k.Has(v.k) {
			parts = append(parts, v.s)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type (
	// Handle is anything with a descriptor that can be watched.
	Handle interface {
		FD() int
	}

	Ready struct {
		Handle Handle
		Kind   Kind
	}

	Multiplexer interface {
		// Register fails with errs.ErrAlreadyRegistered if h already has a live registration.
		Register(h Handle, in Interest, m Mode) error
		// Modify changes the interest of a live registration, keeping its mode.
		Modify(h Handle, in Interest) error
		// Deregister is a no-op for unknown handles.
		Deregister(h Handle) error
		// Wait blocks until a handle is ready or timeout elapses; a negative timeout waits forever.
		Wait(timeout time.Duration) ([]Ready, error)
		Len() int
		Close() error
	}
)

type Backend string

const (
	BackendEpoll Backend = "epoll"
	BackendPoll  Backend = "poll"
)

func (b Backend) Validate() error {
	switch b {
	case BackendEpoll, BackendPoll:
		return nil
	default:
		return fmt.Errorf("invalid multiplexer backend %q, use: epoll, poll", string(b))
	}
}

// Supports reports whether the backend can deliver readiness in mode m.
func (b Backend) Supports(m Mode) bool {
	return m == Level || b != BackendPoll
}

// New creates a multiplexer. size is a hint for the number of events handled per wake.
func New(b Backend, size int) (Multiplexer, error) {
	switch b {
	case BackendEpoll:
		return NewEpoll(size)
	case BackendPoll:
		return NewPoll(), nil
	default:
		return nil, b.Validate()
	}
}
