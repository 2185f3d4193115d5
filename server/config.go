/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"fmt"
	"time"

	"go.osspkg.com/echod/echo"
	"go.osspkg.com/echod/errs"
	"go.osspkg.com/echod/internal"
	"go.osspkg.com/echod/listen"
	"go.osspkg.com/echod/multiplex"
	"go.osspkg.com/echod/reactor"
)

const (
	ModeReactor = "reactor"
	ModePooled  = "pooled"

	DefaultWorkers       = 4
	DefaultQueueCapacity = 16
)

type Config struct {
	Address       string        `yaml:"address"`
	Mode          string        `yaml:"mode"`
	Trigger       string        `yaml:"trigger,omitempty"`
	Backend       string        `yaml:"backend,omitempty"`
	Workers       int           `yaml:"workers,omitempty"`
	QueueCapacity int           `yaml:"queue_capacity,omitempty"`
	Backlog       int           `yaml:"backlog,omitempty"`
	BufferSize    int           `yaml:"buffer_size,omitempty"`
	WaitTimeout   time.Duration `yaml:"wait_timeout,omitempty"`
	IdleTimeout   time.Duration `yaml:"idle_timeout,omitempty"`
	AcceptBatch   int           `yaml:"accept_batch,omitempty"`
	ReusePort     bool          `yaml:"reuse_port,omitempty"`
}

// Default fills zero values. Explicit values are kept as they are.
func (c Config) Default() Config {
	if len(c.Mode) == 0 {
		c.Mode = ModeReactor
	}
	if len(c.Backend) == 0 {
		c.Backend = string(multiplex.BackendEpoll)
	}
	c.Workers = internal.NotZero(c.Workers, DefaultWorkers)
	c.QueueCapacity = internal.NotZero(c.QueueCapacity, DefaultQueueCapacity)
	c.Backlog = internal.NotZero(c.Backlog, listen.DefaultBacklog)
	c.BufferSize = internal.NotZero(c.BufferSize, echo.DefaultBufferSize)
	c.WaitTimeout = internal.NotZeroDuration(c.WaitTimeout, reactor.DefaultWaitTimeout)
	c.AcceptBatch = internal.NotZero(c.AcceptBatch, reactor.DefaultAcceptBatch)
	return c
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeReactor, ModePooled:
	default:
		return fmt.Errorf("%w: invalid mode %q, use: %s, %s", errs.ErrSetup, c.Mode, ModeReactor, ModePooled)
	}

	trigger, err := multiplex.ParseMode(c.Trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, err)
	}
	backend := multiplex.Backend(c.Backend)
	if err = backend.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrSetup, err)
	}
	if !backend.Supports(trigger) {
		return fmt.Errorf("%w: %s backend: %w", errs.ErrSetup, backend, errs.ErrUnsupportedMode)
	}

	if c.Workers < 0 || c.QueueCapacity < 0 || c.Backlog < 0 || c.BufferSize < 0 || c.AcceptBatch < 0 {
		return fmt.Errorf("%w: negative sizes are not allowed", errs.ErrSetup)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: negative idle timeout", errs.ErrSetup)
	}
	return nil
}

func (c Config) listen() listen.Config {
	return listen.Config{
		Network:   internal.NetTCP,
		Address:   c.Address,
		Backlog:   c.Backlog,
		ReusePort: c.ReusePort,
	}
}
