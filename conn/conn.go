/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package conn

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.osspkg.com/echod/errs"
)

type State uint32

const (
	StateAccepted State = iota
	StateRegistered
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type (
	// Stream is the duplex byte stream behind a connection.
	Stream interface {
		io.Reader
		io.Writer
		io.Closer
	}

	// Descriptor is implemented by streams backed by an OS file descriptor.
	Descriptor interface {
		FD() int
	}

	// Flusher is implemented by non-blocking streams that keep
	// output the kernel did not accept yet.
	Flusher interface {
		Pending() int
		Flush() error
	}
)

var lastID atomic.Uint64

// Connect is one accepted connection. It is owned by exactly one servicer
// at a time, only Close and State are safe to call from elsewhere.
type Connect struct {
	id     uint64
	stream Stream
	peer   string
	state  atomic.Uint32
	once   sync.Once
}

func New(s Stream, peer net.Addr) *Connect {
	c := &Connect{
		id:     lastID.Add(1),
		stream: s,
	}
	if peer != nil {
		c.peer = peer.String()
	}
	return c
}

// FromNet wraps a connection accepted by a net.Listener.
func FromNet(c net.Conn) *Connect {
	return New(c, c.RemoteAddr())
}

func (v *Connect) ID() uint64 {
	return v.id
}

// FD returns the descriptor of the stream or -1.
func (v *Connect) FD() int {
	if d, ok := v.stream.(Descriptor); ok {
		return d.FD()
	}
	return -1
}

func (v *Connect) Peer() string {
	return v.peer
}

func (v *Connect) Stream() Stream {
	return v.stream
}

func (v *Connect) State() State {
	return State(v.state.Load())
}

func (v *Connect) IsClosed() bool {
	return v.State() >= StateClosing
}

// MarkRegistered records that a multiplexer holds the connection.
// A closing or closed connection can never be registered again.
func (v *Connect) MarkRegistered() error {
	for {
		cur := v.state.Load()
		if State(cur) >= StateClosing {
			return errs.ErrClosed
		}
		if v.state.CompareAndSwap(cur, uint32(StateRegistered)) {
			return nil
		}
	}
}

func (v *Connect) Read(b []byte) (int, error) {
	if v.IsClosed() {
		return 0, errs.ErrClosed
	}
	return v.stream.Read(b)
}

func (v *Connect) Write(b []byte) (int, error) {
	if v.IsClosed() {
		return 0, errs.ErrClosed
	}
	return v.stream.Write(b)
}

// Pending is the number of bytes accepted by Write but not yet handed to the kernel.
func (v *Connect) Pending() int {
	if f, ok := v.stream.(Flusher); ok && !v.IsClosed() {
		return f.Pending()
	}
	return 0
}

func (v *Connect) Flush() error {
	if v.IsClosed() {
		return errs.ErrClosed
	}
	if f, ok := v.stream.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the handle. Only the first call does any work and
// reports the close error, later calls return nil.
func (v *Connect) Close() (err error) {
	v.once.Do(func() {
		v.state.Store(uint32(StateClosing))
		err = v.stream.Close()
		v.state.Store(uint32(StateClosed))
	})
	return
}
