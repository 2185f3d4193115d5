/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package pool_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/pool"
	"go.osspkg.com/echod/queue"
)

type nopStream struct {
	closed atomic.Int32
}

func (*nopStream) Read([]byte) (int, error)    { return 0, nil }
func (*nopStream) Write(b []byte) (int, error) { return len(b), nil }
func (s *nopStream) Close() error {
	s.closed.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUnit_New(t *testing.T) {
	q, _ := queue.New[*conn.Connect](1)
	h := func(context.Context, *conn.Connect) {}

	_, err := pool.New(nil, 1, h)
	casecheck.True(t, err != nil)
	_, err = pool.New(q, 0, h)
	casecheck.True(t, err != nil)
	_, err = pool.New(q, 1, nil)
	casecheck.True(t, err != nil)
}

func TestUnit_ServesAndClosesEveryConnection(t *testing.T) {
	q, _ := queue.New[*conn.Connect](4)

	var (
		mux     sync.Mutex
		seen    = map[uint64]bool{}
		busy    atomic.Int32
		maxBusy atomic.Int32
	)
	p, err := pool.New(q, 2, func(_ context.Context, c *conn.Connect) {
		n := busy.Add(1)
		for {
			m := maxBusy.Load()
			if n <= m || maxBusy.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mux.Lock()
		seen[c.ID()] = true
		mux.Unlock()
		busy.Add(-1)
	})
	casecheck.NoError(t, err)
	casecheck.NoError(t, p.Start(context.Background()))
	casecheck.True(t, errors.Is(p.Start(context.Background()), errs.ErrServAlreadyRunning))

	streams := make([]*nopStream, 10)
	for i := range streams {
		streams[i] = &nopStream{}
		casecheck.NoError(t, q.Push(conn.New(streams[i], nil)))
	}

	waitFor(t, func() bool { return p.Stats().Served == uint64(len(streams)) })
	p.Shutdown()

	casecheck.Equal(t, len(streams), len(seen))
	casecheck.True(t, maxBusy.Load() <= 2)
	for _, s := range streams {
		casecheck.Equal(t, int32(1), s.closed.Load())
	}
	casecheck.Equal(t, 0, p.Stats().Busy)
}

func TestUnit_PanicKeepsWorkerAlive(t *testing.T) {
	q, _ := queue.New[*conn.Connect](4)

	var calls atomic.Int32
	p, _ := pool.New(q, 1, func(context.Context, *conn.Connect) {
		if calls.Add(1) == 1 {
			panic("handler failure")
		}
	})
	casecheck.NoError(t, p.Start(context.Background()))
	defer p.Shutdown()

	first, second := &nopStream{}, &nopStream{}
	casecheck.NoError(t, q.Push(conn.New(first, nil)))
	casecheck.NoError(t, q.Push(conn.New(second, nil)))

	waitFor(t, func() bool { return p.Stats().Served == 2 })
	casecheck.Equal(t, int32(2), calls.Load())
	casecheck.Equal(t, int32(1), first.closed.Load())
	casecheck.Equal(t, int32(1), second.closed.Load())
}

func TestUnit_ShutdownClosesInFlightAndQueued(t *testing.T) {
	q, _ := queue.New[*conn.Connect](4)

	started := make(chan struct{}, 1)
	p, _ := pool.New(q, 1, func(_ context.Context, c *conn.Connect) {
		started <- struct{}{}
		_, _ = c.Read(make([]byte, 1)) // blocks until the pool closes c
	})
	casecheck.NoError(t, p.Start(context.Background()))

	server, client := net.Pipe()
	defer client.Close() //nolint: errcheck
	casecheck.NoError(t, q.Push(conn.FromNet(server)))

	queued := &nopStream{}
	casecheck.NoError(t, q.Push(conn.New(queued, nil)))

	<-started
	casecheck.Equal(t, 1, p.Stats().Busy)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not join the workers")
	}
	casecheck.Equal(t, int32(1), queued.closed.Load())
	casecheck.True(t, errors.Is(q.Push(conn.New(&nopStream{}, nil)), errs.ErrQueueClosed))
}
