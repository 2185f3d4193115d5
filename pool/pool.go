/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
	"go.osspkg.com/echod/queue"
)

// Handler services one connection to completion. The pool closes the
// connection after it returns, even if it panics.
type Handler func(ctx context.Context, c *conn.Connect)

type (
	Pool struct {
		queue   *queue.Queue[*conn.Connect]
		size    int
		handler Handler

		wg     syncing.Group
		sync   syncing.Switch
		cancel context.CancelFunc

		mux    sync.Mutex
		active map[int]*conn.Connect

		busy   atomic.Int64
		served atomic.Uint64
	}

	Stats struct {
		Workers int
		Busy    int
		Served  uint64
		Queued  int
	}
)

func New(q *queue.Queue[*conn.Connect], size int, h Handler) (*Pool, error) {
	if q == nil {
		return nil, fmt.Errorf("worker pool: queue is empty")
	}
	if h == nil {
		return nil, fmt.Errorf("worker pool: handler is empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("worker pool: size must be positive, got %d", size)
	}
	return &Pool{
		queue:   q,
		size:    size,
		handler: h,
		wg:      syncing.NewGroup(),
		sync:    syncing.NewSwitch(),
		active:  make(map[int]*conn.Connect, size),
	}, nil
}

// Start launches the workers once. They run until Shutdown.
func (p *Pool) Start(ctx context.Context) error {
	if !p.sync.On() {
		return errs.ErrServAlreadyRunning
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 1; i <= p.size; i++ {
		id := i
		p.wg.Background(func() {
			p.work(ctx, id)
		})
	}
	logx.Debug("Worker pool started", "workers", p.size, "queue", p.queue.Cap())
	return nil
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		c, err := p.queue.Pop()
		if err != nil {
			return
		}
		p.serve(ctx, id, c)
	}
}

func (p *Pool) serve(ctx context.Context, id int, c *conn.Connect) {
	if !p.acquire(id, c) {
		internal.Log("Worker close connect", c.Close(), "worker", id, "peer", c.Peer())
		return
	}

	defer func() {
		if e := recover(); e != nil {
			logx.Error("Worker panic", "err", fmt.Errorf("%+v", e), "worker", id, "peer", c.Peer())
		}
		p.release(id)
		internal.Log("Worker close connect", c.Close(), "worker", id, "peer", c.Peer())
	}()

	p.handler(ctx, c)
}

func (p *Pool) acquire(id int, c *conn.Connect) bool {
	p.mux.Lock()
	defer p.mux.Unlock()

	if !p.sync.IsOn() {
		return false
	}
	p.active[id] = c
	p.busy.Add(1)
	return true
}

func (p *Pool) release(id int) {
	p.mux.Lock()
	defer p.mux.Unlock()

	delete(p.active, id)
	p.busy.Add(-1)
	p.served.Add(1)
}

// Shutdown stops accepting work, closes queued and in-flight connections
// and waits for every worker to return.
func (p *Pool) Shutdown() {
	if !p.sync.Off() {
		return
	}
	p.queue.Close()
	if p.cancel != nil {
		p.cancel()
	}

	for _, c := range p.queue.Drain() {
		internal.Log("Worker pool close queued connect", c.Close(), "peer", c.Peer())
	}

	p.mux.Lock()
	for id, c := range p.active {
		internal.Log("Worker pool close active connect", c.Close(), "worker", id, "peer", c.Peer())
	}
	p.mux.Unlock()

	p.wg.Wait()
	logx.Debug("Worker pool stopped", "served", p.served.Load())
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers: p.size,
		Busy:    int(p.busy.Load()),
		Served:  p.served.Load(),
		Queued:  p.queue.Len(),
	}
}
