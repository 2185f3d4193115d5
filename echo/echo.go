/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package echo

import (
	"fmt"
	"io"
	"time"

	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/pool"

	"go.osspkg.com/echod/conn"
	"go.osspkg.com/echod/errs"
)

const DefaultBufferSize = 4096

type Kind int

const (
	// MoreData means bytes were echoed and more may be readable right now.
	MoreData Kind = iota
	// Drained means nothing more can be read without blocking.
	Drained
	EndOfStream
	Failed
)

func (k Kind) String() string {
	switch k {
	case MoreData:
		return "more_data"
	case Drained:
		return "drained"
	case EndOfStream:
		return "end_of_stream"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Outcome struct {
	Kind  Kind
	Bytes int
	Err   error
}

// Done reports whether the connection must be closed.
func (o Outcome) Done() bool {
	return o.Kind == EndOfStream || o.Kind == Failed
}

type chunk struct {
	B []byte
}

func (*chunk) Reset() {}

type (
	Service struct {
		bufferSize  int
		idleTimeout time.Duration
		get         func() *chunk
		put         func(*chunk)
	}

	Option func(s *Service)

	readDeadline interface {
		SetReadDeadline(t time.Time) error
	}
)

// WithIdleTimeout bounds how long Run waits for the next read.
// It applies only to streams that support read deadlines.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.idleTimeout = d
	}
}

func New(bufferSize int, opts ...Option) *Service {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := pool.New[*chunk](func() *chunk {
		return &chunk{B: make([]byte, bufferSize)}
	})
	s := &Service{
		bufferSize: bufferSize,
		get:        p.Get,
		put:        p.Put,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) BufferSize() int {
	return s.bufferSize
}

// Serve performs one bounded read and writes the bytes back verbatim.
func (s *Service) Serve(c *conn.Connect) Outcome {
	buf := s.get()
	defer s.put(buf)

	n, err := c.Read(buf.B)
	if n > 0 {
		if werr := writeAll(c, buf.B[:n]); werr != nil {
			return Outcome{Kind: Failed, Bytes: n, Err: werr}
		}
	}

	switch {
	case err == nil:
		return Outcome{Kind: MoreData, Bytes: n}
	case errors.Is(err, errs.ErrWouldBlock):
		return Outcome{Kind: Drained, Bytes: n}
	case errors.Is(err, io.EOF):
		return Outcome{Kind: EndOfStream, Bytes: n}
	default:
		return Outcome{Kind: Failed, Bytes: n, Err: err}
	}
}

// Drain serves until the stream would block. It stops early while output
// is pending so the caller can wait for the socket to become writable.
func (s *Service) Drain(c *conn.Connect) Outcome {
	total := 0
	for {
		out := s.Serve(c)
		total += out.Bytes
		out.Bytes = total
		if out.Kind != MoreData || c.Pending() > 0 {
			return out
		}
	}
}

// Run serves a blocking stream until end of stream or error.
func (s *Service) Run(c *conn.Connect) Outcome {
	dl, hasDeadline := c.Stream().(readDeadline)
	hasDeadline = hasDeadline && s.idleTimeout > 0

	total := 0
	for {
		if hasDeadline {
			if err := dl.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				return Outcome{Kind: Failed, Bytes: total, Err: err}
			}
		}
		out := s.Serve(c)
		total += out.Bytes
		out.Bytes = total
		switch out.Kind {
		case MoreData:
			continue
		case Drained:
			return Outcome{Kind: Failed, Bytes: total, Err: fmt.Errorf("echo run: %w", errs.ErrWouldBlock)}
		default:
			return out
		}
	}
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
