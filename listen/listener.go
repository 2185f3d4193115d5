/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package listen

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	reuseport "github.com/libp2p/go-reuseport"
	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echod/address"
	"go.osspkg.com/echod/internal"
)

const DefaultBacklog = 128

type Config struct {
	Network   string `yaml:"network"`
	Address   string `yaml:"address"`
	Backlog   int    `yaml:"backlog,omitempty"`
	ReusePort bool   `yaml:"reuse_port,omitempty"`
}

func (c Config) normalize() (Config, error) {
	if len(c.Network) == 0 {
		c.Network = internal.NetTCP
	}
	if err := internal.IsPassableNetwork(c.Network); err != nil {
		return c, err
	}
	c.Address = address.Normalize(c.Address)
	c.Backlog = internal.NotZero(c.Backlog, DefaultBacklog)
	return c, nil
}

// New opens a blocking-style net.Listener for the pooled strategy.
// The runtime already sets SO_REUSEADDR, SO_REUSEPORT is added on request.
// The runtime listens with the system maximum backlog, so the configured
// one is applied afterwards.
func New(ctx context.Context, c Config) (net.Listener, error) {
	c, err := c.normalize()
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	if c.ReusePort {
		lc.Control = reuseport.Control
	}

	l, err := lc.Listen(ctx, c.Network, c.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", c.Network, c.Address, err)
	}
	if err = setBacklog(l, c.Backlog); err != nil {
		return nil, errors.Wrap(err, l.Close())
	}
	return l, nil
}

// setBacklog repeats listen(2) on a listening socket, Linux then only updates the accept queue limit.
func setBacklog(l net.Listener, backlog int) error {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return fmt.Errorf("listener %T has no descriptor", l)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("listener descriptor: %w", err)
	}
	var lerr error
	if err = rc.Control(func(fd uintptr) {
		lerr = unix.Listen(int(fd), backlog)
	}); err != nil {
		return fmt.Errorf("listener descriptor: %w", err)
	}
	return os.NewSyscallError("listen", lerr)
}
