/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package reactor_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echod/echo"
	"go.osspkg.com/echod/listen"
	"go.osspkg.com/echod/multiplex"
	"go.osspkg.com/echod/multiplex/memory"
	"go.osspkg.com/echod/reactor"
)

func newMemory(t *testing.T, mode multiplex.Mode, bufSize int) (*memory.Poller, *memory.Listener, *reactor.Reactor) {
	m := memory.New()
	l := m.Listener()
	r, err := reactor.New(l, m, echo.New(bufSize), reactor.Options{Mode: mode})
	casecheck.NoError(t, err)
	return m, l, r
}

func TestUnit_MemoryEcho(t *testing.T) {
	m, l, r := newMemory(t, multiplex.Level, 0)

	p := l.Dial()
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, 2, m.Len())
	casecheck.Equal(t, uint64(1), r.Stats().Accepted)

	p.Send([]byte("hello"))
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, "hello", string(p.Received()))
	casecheck.Equal(t, int64(1), r.Stats().Active)
}

func TestUnit_MemoryEdgeDrainsWithSmallBuffer(t *testing.T) {
	_, l, r := newMemory(t, multiplex.Edge, 4)

	p := l.Dial()
	casecheck.NoError(t, r.Poll(0))

	p.Send([]byte("0123456789abcdef"))
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, 0, p.Unread())
	casecheck.Equal(t, "0123456789abcdef", string(p.Received()))

	p.Send([]byte("xy"))
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, "0123456789abcdefxy", string(p.Received()))
}

func TestUnit_MemoryLevelServesOneReadPerWake(t *testing.T) {
	_, l, r := newMemory(t, multiplex.Level, 4)

	p := l.Dial()
	casecheck.NoError(t, r.Poll(0))

	p.Send([]byte("aaaabbbb"))
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, 4, p.Unread())
	casecheck.Equal(t, "aaaa", string(p.Received()))

	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, 0, p.Unread())
	casecheck.Equal(t, "aaaabbbb", string(p.Received()))
}

func TestUnit_MemoryEndOfStreamReleases(t *testing.T) {
	m, l, r := newMemory(t, multiplex.Edge, 0)

	p := l.Dial()
	casecheck.NoError(t, r.Poll(0))

	p.Send([]byte("bye"))
	p.CloseWrite()
	casecheck.NoError(t, r.Poll(0))

	casecheck.Equal(t, "bye", string(p.Received()))
	casecheck.True(t, p.IsClosed())
	casecheck.Equal(t, 1, m.Len())

	st := r.Stats()
	casecheck.Equal(t, int64(0), st.Active)
	casecheck.Equal(t, uint64(1), st.Closed)
	casecheck.Equal(t, uint64(0), st.Errors)
}

func TestUnit_MemoryHangupClosesWithoutEcho(t *testing.T) {
	m, l, r := newMemory(t, multiplex.Level, 0)

	p := l.Dial()
	casecheck.NoError(t, r.Poll(0))

	p.Send([]byte("unread"))
	p.Hangup()
	casecheck.NoError(t, r.Poll(0))

	casecheck.True(t, p.IsClosed())
	casecheck.Equal(t, 0, len(p.Received()))
	casecheck.Equal(t, 1, m.Len())
	casecheck.Equal(t, uint64(0), r.Stats().Errors)
}

func TestUnit_MemoryResetCloses(t *testing.T) {
	m, l, r := newMemory(t, multiplex.Level, 0)

	a := l.Dial()
	b := l.Dial()
	casecheck.NoError(t, r.Poll(0))
	casecheck.Equal(t, 3, m.Len())

	a.Reset()
	b.Send([]byte("still here"))
	casecheck.NoError(t, r.Poll(0))

	casecheck.True(t, a.IsClosed())
	casecheck.True(t, !b.IsClosed())
	casecheck.Equal(t, "still here", string(b.Received()))
	casecheck.Equal(t, 2, m.Len())
	casecheck.Equal(t, uint64(1), r.Stats().Errors)
}

func TestUnit_MemoryRunStopsOnContext(t *testing.T) {
	m := memory.New()
	l := m.Listener()
	r, err := reactor.New(l, m, echo.New(0), reactor.Options{WaitTimeout: 10 * time.Millisecond})
	casecheck.NoError(t, err)

	p := l.Dial()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	casecheck.NoError(t, r.Run(ctx))
	casecheck.True(t, p.IsClosed())
	casecheck.Equal(t, 0, m.Len())
	casecheck.True(t, m.Waits() > 1)
}

func runEpoll(t *testing.T, mode multiplex.Mode, backend multiplex.Backend) (string, func()) {
	l, err := listen.NewRaw(listen.Config{Address: "127.0.0.1:0"})
	casecheck.NoError(t, err)

	mux, err := multiplex.New(backend, 64)
	casecheck.NoError(t, err)

	r, err := reactor.New(l, mux, echo.New(16), reactor.Options{Mode: mode, WaitTimeout: 20 * time.Millisecond})
	casecheck.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	return l.Addr().String(), func() {
		cancel()
		casecheck.NoError(t, <-done)
		casecheck.NoError(t, mux.Close())
		casecheck.NoError(t, l.Close())
	}
}

func TestUnit_EpollEcho(t *testing.T) {
	cases := []struct {
		name    string
		mode    multiplex.Mode
		backend multiplex.Backend
	}{
		{name: "epoll level", mode: multiplex.Level, backend: multiplex.BackendEpoll},
		{name: "epoll edge", mode: multiplex.Edge, backend: multiplex.BackendEpoll},
		{name: "poll level", mode: multiplex.Level, backend: multiplex.BackendPoll},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, stop := runEpoll(t, tc.mode, tc.backend)
			defer stop()

			var wg sync.WaitGroup
			results := make(chan error, 5)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// longer than the service buffer so edge mode must drain
					results <- echoOnce(addr, fmt.Sprintf("client-%02d:%s", i, "0123456789abcdef0123456789"))
				}(i)
			}
			wg.Wait()
			close(results)
			for err := range results {
				casecheck.NoError(t, err)
			}
		})
	}
}

func echoOnce(addr, msg string) error {
	cli, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return err
	}
	defer cli.Close() //nolint: errcheck
	if err = cli.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if _, err = cli.Write([]byte(msg)); err != nil {
		return err
	}
	got := make([]byte, len(msg))
	if _, err = io.ReadFull(cli, got); err != nil {
		return err
	}
	if string(got) != msg {
		return fmt.Errorf("got %q, want %q", got, msg)
	}
	return nil
}
