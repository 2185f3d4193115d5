/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"fmt"
	"net"
	"time"

	"go.osspkg.com/echod/internal"
)

type Config struct {
	Network  string        `yaml:"network"`
	Address  string        `yaml:"address"`
	MaxConns uint64        `yaml:"max_conns,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

func (c Config) Resolve() (*net.TCPAddr, error) {
	if len(c.Network) == 0 {
		c.Network = internal.NetTCP
	}
	if err := internal.IsPassableNetwork(c.Network); err != nil {
		return nil, err
	}
	addr, err := net.ResolveTCPAddr(c.Network, c.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", c.Network, c.Address, err)
	}
	return addr, nil
}
