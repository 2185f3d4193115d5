/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.osspkg.com/algorithms/control"
	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/data"

	"go.osspkg.com/echod/internal"
)

const DefaultTimeout = 5 * time.Second

type Client struct {
	conf Config
	sem  control.Semaphore
}

func New(c Config) (*Client, error) {
	addr, err := c.Resolve()
	if err != nil {
		return nil, err
	}

	c.Network = addr.Network()
	c.Address = addr.String()
	c.Timeout = internal.NotZeroDuration(c.Timeout, DefaultTimeout)
	if c.MaxConns == 0 {
		c.MaxConns = 1
	}

	return &Client{
		conf: c,
		sem:  control.NewSemaphore(c.MaxConns),
	}, nil
}

func (v *Client) dial(ctx context.Context) (*net.TCPConn, error) {
	dial := net.Dialer{Timeout: v.conf.Timeout}
	conn, err := dial.DialContext(ctx, v.conf.Network, v.conf.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", v.conf.Network, err)
	}
	return conn.(*net.TCPConn), nil
}

// Call opens a fresh connection for handler and closes it afterwards.
// At most MaxConns calls run at the same time.
func (v *Client) Call(ctx context.Context, handler func(ctx context.Context, conn *net.TCPConn) error) (e error) {
	v.sem.Acquire()
	defer func() { v.sem.Release() }()

	conn, err := v.dial(ctx)
	if err != nil {
		return err
	}

	stop := internal.DeadlineUpdate(conn, v.conf.Timeout)
	unwatch := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now()) //nolint: errcheck
	})

	defer func() {
		unwatch()
		stop()
		e = errors.Wrap(e, internal.NormalCloseError(conn.Close()))
	}()

	e = handler(ctx, conn)
	return
}

// Echo sends payload and reads back exactly as many bytes.
func (v *Client) Echo(ctx context.Context, payload []byte) ([]byte, error) {
	var out []byte
	err := v.Call(ctx, func(_ context.Context, conn *net.TCPConn) error {
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		buff := data.NewBuffer(len(payload))
		if _, err := io.CopyN(buff, conn, int64(len(payload))); err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		out = []byte(buff.String())
		return nil
	})
	return out, err
}

// Stream copies r to the server, half-closes the connection and copies the
// reply to w until the server closes its side.
func (v *Client) Stream(ctx context.Context, r io.Reader, w io.Writer) (n int64, err error) {
	err = v.Call(ctx, func(_ context.Context, conn *net.TCPConn) error {
		errC := make(chan error, 1)
		go func() {
			var e error
			n, e = io.Copy(w, conn)
			errC <- e
		}()

		if _, e := io.Copy(conn, r); e != nil {
			return errors.Wrap(fmt.Errorf("send: %w", e), conn.CloseRead(), <-errC)
		}
		if e := conn.CloseWrite(); e != nil {
			return errors.Wrap(fmt.Errorf("half close: %w", e), conn.CloseRead(), <-errC)
		}
		if e := <-errC; e != nil {
			return fmt.Errorf("receive: %w", e)
		}
		return nil
	})
	return
}
