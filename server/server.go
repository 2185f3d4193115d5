/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.osspkg.com/do"
	"go.osspkg.com/errors"
	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/echo"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
	"go.osspkg.com/echod/listen"
	"go.osspkg.com/echod/multiplex"
	"go.osspkg.com/echod/pool"
	"go.osspkg.com/echod/queue"
	"go.osspkg.com/echod/reactor"
)

const acceptRetryDelay = 10 * time.Millisecond

type (
	Server struct {
		conf    Config
		service *echo.Service
		sync    syncing.Switch
		ready   chan struct{}
		once    sync.Once

		mux     sync.RWMutex
		addr    net.Addr
		reactor *reactor.Reactor
		pool    *pool.Pool
	}

	Stats struct {
		Mode    string
		Reactor reactor.Stats
		Pool    pool.Stats
	}
)

func New(conf Config) (*Server, error) {
	conf = conf.Default()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		conf:    conf,
		service: echo.New(conf.BufferSize, echo.WithIdleTimeout(conf.IdleTimeout)),
		sync:    syncing.NewSwitch(),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound, or once ListenAndServe
// has failed before that. Addr is nil in the second case.
func (v *Server) Ready() <-chan struct{} {
	return v.ready
}

func (v *Server) markReady() {
	v.once.Do(func() { close(v.ready) })
}

func (v *Server) Addr() net.Addr {
	v.mux.RLock()
	defer v.mux.RUnlock()
	return v.addr
}

func (v *Server) Stats() Stats {
	v.mux.RLock()
	defer v.mux.RUnlock()

	st := Stats{Mode: v.conf.Mode}
	if v.reactor != nil {
		st.Reactor = v.reactor.Stats()
	}
	if v.pool != nil {
		st.Pool = v.pool.Stats()
	}
	return st
}

// ListenAndServe blocks until ctx is done or the serving loop fails.
// Setup failures are reported as errs.ErrSetup before anything is served.
// A Server runs once.
func (v *Server) ListenAndServe(ctx context.Context) error {
	if !v.sync.On() {
		return errs.ErrServAlreadyRunning
	}
	defer v.markReady()

	if v.conf.Mode == ModePooled {
		return v.servePooled(ctx)
	}
	return v.serveReactor(ctx)
}

func (v *Server) setup(addr net.Addr, r *reactor.Reactor, p *pool.Pool) {
	v.mux.Lock()
	v.addr, v.reactor, v.pool = addr, r, p
	v.mux.Unlock()

	v.markReady()
	logx.Info("Server started", "mode", v.conf.Mode, "address", addr.String())
}

func (v *Server) serveReactor(ctx context.Context) (err error) {
	trigger, _ := multiplex.ParseMode(v.conf.Trigger) //nolint: errcheck

	l, err := listen.NewRaw(v.conf.listen())
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, err)
	}
	mux, err := multiplex.New(multiplex.Backend(v.conf.Backend), v.conf.Backlog)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, errors.Wrap(err, l.Close()))
	}
	defer func() {
		err = errors.Wrap(err, mux.Close(), l.Close())
	}()

	r, err := reactor.New(l, mux, v.service, reactor.Options{
		Mode:        trigger,
		WaitTimeout: v.conf.WaitTimeout,
		AcceptBatch: v.conf.AcceptBatch,
	})
	if err != nil {
		return err
	}

	v.setup(l.Addr(), r, nil)
	err = r.Run(ctx)
	logx.Info("Server stopped", "mode", v.conf.Mode, "address", l.Addr().String())
	return
}

func (v *Server) servePooled(ctx context.Context) error {
	l, err := listen.New(ctx, v.conf.listen())
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, err)
	}

	q, err := queue.New[*conn.Connect](v.conf.QueueCapacity)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, errors.Wrap(err, l.Close()))
	}
	p, err := pool.New(q, v.conf.Workers, v.handle)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, errors.Wrap(err, l.Close()))
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	do.Async(func() {
		defer close(stopped)
		<-ctx.Done()
		internal.Log("Server close listener", l.Close())
		// wakes the acceptor if it is parked in Push on a full queue
		q.Close()
	}, func(e error) {
		logx.Error("Server listener watcher panic", "err", errors.Unwrap(e), "full", e)
	})
	defer func() {
		cancel()
		<-stopped
		p.Shutdown()
		logx.Info("Server stopped", "mode", v.conf.Mode, "address", l.Addr().String())
	}()

	if err = p.Start(ctx); err != nil {
		return err
	}
	v.setup(l.Addr(), nil, p)

	return v.acceptLoop(ctx, l, q)
}

func (v *Server) acceptLoop(ctx context.Context, l net.Listener, q *queue.Queue[*conn.Connect]) error {
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errs.IsTemporary(err) {
				logx.Warn("Server accept", "err", err)
				time.Sleep(acceptRetryDelay)
				continue
			}
			return fmt.Errorf("%w: %w", errs.ErrAccept, err)
		}

		c := conn.FromNet(nc)
		logx.Debug("Server connect opened", "peer", c.Peer())

		// blocks while every worker is busy and the queue is full
		if err = q.Push(c); err != nil {
			internal.Log("Server close connect", c.Close(), "peer", c.Peer())
			return nil
		}
	}
}

func (v *Server) handle(_ context.Context, c *conn.Connect) {
	out := v.service.Run(c)
	if out.Kind == echo.Failed {
		internal.Log("Server echo", out.Err, "peer", c.Peer())
	}
	logx.Debug("Server connect closed", "peer", c.Peer(), "bytes", out.Bytes)
}
