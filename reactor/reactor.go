/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package reactor runs the single-goroutine event loop: it accepts
// connections, registers them with a multiplexer and echoes on readiness.
// Every method except Stats must be called from the loop goroutine.
package reactor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/echo"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
	"go.osspkg.com/echod/multiplex"
)

const (
	DefaultWaitTimeout = 250 * time.Millisecond
	DefaultAcceptBatch = 64
)

type (
	// Acceptor is a non-blocking listener: Accept returns errs.ErrWouldBlock when nothing is pending.
	Acceptor interface {
		FD() int
		Accept() (*conn.Connect, error)
	}

	Options struct {
		Mode        multiplex.Mode
		WaitTimeout time.Duration
		AcceptBatch int
	}

	Stats struct {
		Accepted uint64
		Active   int64
		Closed   uint64
		Errors   uint64
	}

	Reactor struct {
		listener Acceptor
		mux      multiplex.Multiplexer
		service  *echo.Service
		opt      Options

		conns map[int]*conn.Connect

		accepted atomic.Uint64
		active   atomic.Int64
		closed   atomic.Uint64
		errors   atomic.Uint64
	}
)

func New(l Acceptor, mux multiplex.Multiplexer, svc *echo.Service, opt Options) (*Reactor, error) {
	if l == nil || mux == nil || svc == nil {
		return nil, fmt.Errorf("reactor: listener, multiplexer and service are required")
	}
	opt.WaitTimeout = internal.NotZeroDuration(opt.WaitTimeout, DefaultWaitTimeout)
	opt.AcceptBatch = internal.NotZero(opt.AcceptBatch, DefaultAcceptBatch)

	// the listener stays level-triggered whatever mode connections use
	if err := mux.Register(l, multiplex.Read, multiplex.Level); err != nil {
		return nil, fmt.Errorf("%w: register listener: %w", errs.ErrSetup, err)
	}

	return &Reactor{
		listener: l,
		mux:      mux,
		service:  svc,
		opt:      opt,
		conns:    make(map[int]*conn.Connect),
	}, nil
}

// Run polls until ctx is done or the multiplexer fails. Live connections
// are closed before it returns; the listener and multiplexer belong to the caller.
func (r *Reactor) Run(ctx context.Context) (err error) {
	defer func() {
		err = errors.Wrap(err, r.closeAll())
	}()

	logx.Info("Reactor started", "mode", r.opt.Mode.String(), "wait_timeout", r.opt.WaitTimeout.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err = r.Poll(r.opt.WaitTimeout); err != nil {
			logx.Error("Reactor wait", "err", err)
			return
		}
	}
}

// Poll runs one WAIT -> DISPATCH iteration.
func (r *Reactor) Poll(timeout time.Duration) error {
	list, err := r.mux.Wait(timeout)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrReadiness, err)
	}

	for _, ready := range list {
		if ready.Handle.FD() == r.listener.FD() {
			r.accept()
			continue
		}
		c, ok := r.conns[ready.Handle.FD()]
		// skip events of a descriptor closed and reused earlier in this batch
		if !ok || ready.Handle != multiplex.Handle(c) {
			continue
		}
		r.dispatch(c, ready.Kind)
	}
	return nil
}

func (r *Reactor) accept() {
	for i := 0; i < r.opt.AcceptBatch; i++ {
		c, err := r.listener.Accept()
		if err != nil {
			if !errors.Is(err, errs.ErrWouldBlock) {
				logx.Warn("Reactor accept", "err", err)
			}
			return
		}
		r.accepted.Add(1)

		if err = r.register(c); err != nil {
			logx.Warn("Reactor register connect", "err", err, "peer", c.Peer())
			internal.Log("Reactor close connect", c.Close(), "peer", c.Peer())
			continue
		}
		r.active.Add(1)
		logx.Debug("Reactor connect opened", "peer", c.Peer(), "fd", c.FD())
	}
}

func (r *Reactor) register(c *conn.Connect) error {
	if err := c.MarkRegistered(); err != nil {
		return err
	}
	if _, ok := r.conns[c.FD()]; ok {
		return errs.ErrAlreadyRegistered
	}
	if err := r.mux.Register(c, multiplex.Read, r.opt.Mode); err != nil {
		return err
	}
	r.conns[c.FD()] = c
	return nil
}

func (r *Reactor) dispatch(c *conn.Connect, k multiplex.Kind) {
	if k.Has(multiplex.Error) {
		r.close(c, fmt.Errorf("readiness %s", k))
		return
	}
	// the peer is gone in both directions, unread input is dropped
	if k.Has(multiplex.Hangup) {
		r.close(c, nil)
		return
	}

	if k.Has(multiplex.Writable) {
		if err := c.Flush(); err != nil {
			r.close(c, err)
			return
		}
	}

	if k.Has(multiplex.Readable) {
		var out echo.Outcome
		if r.opt.Mode == multiplex.Edge {
			out = r.service.Drain(c)
		} else {
			out = r.service.Serve(c)
		}
		switch out.Kind {
		case echo.EndOfStream:
			r.close(c, nil)
			return
		case echo.Failed:
			r.close(c, out.Err)
			return
		}
	}

	r.updateInterest(c, k)
}

// updateInterest stops reading while output is pending and resumes once it is flushed.
func (r *Reactor) updateInterest(c *conn.Connect, k multiplex.Kind) {
	var err error
	switch {
	case c.Pending() > 0 && !k.Has(multiplex.Writable):
		err = r.mux.Modify(c, multiplex.Write)
	case c.Pending() == 0 && k.Has(multiplex.Writable):
		err = r.mux.Modify(c, multiplex.Read)
	}
	if err != nil {
		r.close(c, err)
	}
}

// close deregisters and releases c. A nil cause is a normal end of stream.
func (r *Reactor) close(c *conn.Connect, cause error) {
	if _, ok := r.conns[c.FD()]; !ok {
		return
	}
	delete(r.conns, c.FD())

	err := errors.Wrap(r.mux.Deregister(c), c.Close())
	r.active.Add(-1)
	r.closed.Add(1)

	if cause != nil && !errs.IsClosed(cause) {
		r.errors.Add(1)
		logx.Warn("Reactor connect failed", "err", cause, "peer", c.Peer())
	}
	internal.Log("Reactor close connect", err, "peer", c.Peer())
	logx.Debug("Reactor connect closed", "peer", c.Peer())
}

func (r *Reactor) closeAll() (err error) {
	for _, c := range r.conns {
		delete(r.conns, c.FD())
		err = errors.Wrap(err, r.mux.Deregister(c), internal.NormalCloseError(c.Close()))
		r.active.Add(-1)
		r.closed.Add(1)
	}
	return errors.Wrap(err, r.mux.Deregister(r.listener))
}

// Stats is safe to call from any goroutine.
func (r *Reactor) Stats() Stats {
	return Stats{
		Accepted: r.accepted.Load(),
		Active:   r.active.Load(),
		Closed:   r.closed.Load(),
		Errors:   r.errors.Load(),
	}
}
