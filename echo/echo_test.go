/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package echo_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/echo"
	"go.osspkg.com/echod/errs"
)

// mockStream returns in, then tail (errs.ErrWouldBlock, io.EOF or a failure).
type mockStream struct {
	in   []byte
	tail error
	out  bytes.Buffer
}

func (m *mockStream) Read(b []byte) (int, error) {
	if len(m.in) == 0 {
		return 0, m.tail
	}
	n := copy(b, m.in)
	m.in = m.in[n:]
	return n, nil
}

func (m *mockStream) Write(b []byte) (int, error) {
	return m.out.Write(b)
}

func (m *mockStream) Close() error { return nil }

func TestUnit_ServeOutcomes(t *testing.T) {
	failure := errors.New("boom")
	tests := []struct {
		name string
		in   string
		tail error
		want echo.Kind
	}{
		{name: "data", in: "abc", tail: errs.ErrWouldBlock, want: echo.MoreData},
		{name: "drained", in: "", tail: errs.ErrWouldBlock, want: echo.Drained},
		{name: "eof", in: "", tail: io.EOF, want: echo.EndOfStream},
		{name: "failure", in: "", tail: failure, want: echo.Failed},
	}
	svc := echo.New(8)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockStream{in: []byte(tt.in), tail: tt.tail}
			out := svc.Serve(conn.New(s, nil))
			casecheck.Equal(t, tt.want, out.Kind)
			casecheck.Equal(t, tt.in, s.out.String())
		})
	}
}

func TestUnit_ServeBoundedByBuffer(t *testing.T) {
	s := &mockStream{in: []byte("0123456789"), tail: errs.ErrWouldBlock}
	out := echo.New(4).Serve(conn.New(s, nil))
	casecheck.Equal(t, echo.MoreData, out.Kind)
	casecheck.Equal(t, 4, out.Bytes)
	casecheck.Equal(t, "0123", s.out.String())
}

func TestUnit_DrainUntilWouldBlock(t *testing.T) {
	s := &mockStream{in: []byte("0123456789"), tail: errs.ErrWouldBlock}
	out := echo.New(4).Drain(conn.New(s, nil))
	casecheck.Equal(t, echo.Drained, out.Kind)
	casecheck.Equal(t, 10, out.Bytes)
	casecheck.Equal(t, "0123456789", s.out.String())
}

func TestUnit_RunUntilEOF(t *testing.T) {
	s := &mockStream{in: []byte("hello world"), tail: io.EOF}
	out := echo.New(3).Run(conn.New(s, nil))
	casecheck.Equal(t, echo.EndOfStream, out.Kind)
	casecheck.True(t, out.Done())
	casecheck.Equal(t, "hello world", s.out.String())
}

func TestUnit_RunIdleTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close() //nolint: errcheck

	svc := echo.New(16, echo.WithIdleTimeout(50*time.Millisecond))
	done := make(chan echo.Outcome, 1)
	go func() { done <- svc.Run(conn.FromNet(a)) }()

	select {
	case out := <-done:
		casecheck.Equal(t, echo.Failed, out.Kind)
		casecheck.True(t, errs.IsClosed(out.Err))
	case <-time.After(5 * time.Second):
		t.Fatal("idle timeout did not fire")
	}
}
