/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package memory

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"syscall"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/errs"
)

// Pipe is a simulated accepted socket. Read/Write/Close are the server
// side, Send/CloseWrite/Reset/Received act as the remote peer.
type Pipe struct {
	p      *Poller
	fd     int
	in     []byte
	out    bytes.Buffer
	eof    bool
	hup    bool
	reset  bool
	closed bool
}

func (v *Poller) Pipe() *Pipe {
	v.mux.Lock()
	defer v.mux.Unlock()
	p := &Pipe{p: v, fd: v.allocFD()}
	v.attach(p)
	return p
}

func (v *Pipe) FD() int {
	return v.fd
}

func (v *Pipe) readable() bool {
	return len(v.in) > 0 || v.eof
}

func (v *Pipe) failed() bool {
	return v.reset
}

func (v *Pipe) hungUp() bool {
	return v.hup
}

func (v *Pipe) Read(b []byte) (int, error) {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	switch {
	case v.closed:
		return 0, net.ErrClosed
	case v.reset:
		return 0, syscall.ECONNRESET
	case len(v.in) > 0:
		n := copy(b, v.in)
		v.in = v.in[n:]
		return n, nil
	case v.eof:
		return 0, io.EOF
	default:
		return 0, errs.ErrWouldBlock
	}
}

func (v *Pipe) Write(b []byte) (int, error) {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	switch {
	case v.closed:
		return 0, net.ErrClosed
	case v.reset:
		return 0, syscall.EPIPE
	}
	return v.out.Write(b)
}

// Close drops the registration like closing a descriptor removes it from epoll.
func (v *Pipe) Close() error {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	if v.closed {
		return net.ErrClosed
	}
	v.closed = true
	delete(v.p.table, v.fd)
	return nil
}

func (v *Pipe) Send(b []byte) {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	if v.closed || v.eof || len(b) == 0 {
		return
	}
	wasReadable := v.readable()
	v.in = append(v.in, b...)
	if !wasReadable {
		v.p.edge(v.fd)
	}
}

func (v *Pipe) CloseWrite() {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	if v.eof {
		return
	}
	wasReadable := v.readable()
	v.eof = true
	if !wasReadable {
		v.p.edge(v.fd)
	}
}

// Hangup closes both directions of the peer, bytes already sent stay unread.
func (v *Pipe) Hangup() {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	v.eof = true
	v.hup = true
	v.p.edge(v.fd)
}

func (v *Pipe) Reset() {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	v.reset = true
	v.p.edge(v.fd)
}

// Received returns everything the server wrote so far.
func (v *Pipe) Received() []byte {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()
	return bytes.Clone(v.out.Bytes())
}

// Unread is the number of sent bytes the server has not read yet.
func (v *Pipe) Unread() int {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()
	return len(v.in)
}

func (v *Pipe) IsClosed() bool {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()
	return v.closed
}

type addr string

func (a addr) Network() string { return "memory" }
func (a addr) String() string  { return string(a) }

// Listener hands out pipes created by Dial in order.
type Listener struct {
	p       *Poller
	fd      int
	backlog []*Pipe
	closed  bool
}

func (v *Poller) Listener() *Listener {
	v.mux.Lock()
	defer v.mux.Unlock()
	l := &Listener{p: v, fd: v.allocFD()}
	v.attach(l)
	return l
}

func (v *Listener) FD() int {
	return v.fd
}

func (v *Listener) readable() bool {
	return len(v.backlog) > 0
}

func (v *Listener) failed() bool {
	return false
}

func (v *Listener) hungUp() bool {
	return false
}

// Dial queues a new connection and returns its server side pipe, the test drives it as the peer.
func (v *Listener) Dial() *Pipe {
	p := v.p.Pipe()

	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	wasReadable := v.readable()
	v.backlog = append(v.backlog, p)
	if !wasReadable {
		v.p.edge(v.fd)
	}
	return p
}

func (v *Listener) Accept() (*conn.Connect, error) {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	if v.closed {
		return nil, net.ErrClosed
	}
	if len(v.backlog) == 0 {
		return nil, errs.ErrWouldBlock
	}
	p := v.backlog[0]
	v.backlog = v.backlog[1:]
	return conn.New(p, addr("memory:"+strconv.Itoa(p.fd))), nil
}

func (v *Listener) Close() error {
	v.p.mux.Lock()
	defer v.p.mux.Unlock()

	v.closed = true
	delete(v.p.table, v.fd)
	return nil
}
