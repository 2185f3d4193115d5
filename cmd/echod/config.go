/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"go.osspkg.com/echod/server"
)

const envPrefix = "ECHOD_"

type options struct {
	Server server.Config
	Debug  bool
}

// envName maps a flag name to its environment variable: queue-capacity -> ECHOD_QUEUE_CAPACITY.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// loadOptions merges sources in order: config file, environment, command line.
func loadOptions(args []string, lookupEnv func(string) (string, bool), stderr io.Writer) (options, error) {
	var opt options

	path, err := configPath(args, lookupEnv)
	if err != nil {
		return opt, err
	}
	if len(path) > 0 {
		if opt.Server, err = readConfig(path); err != nil {
			return opt, err
		}
	}

	fs := pflag.NewFlagSet("echod", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("config", path, "path to a yaml config file")

	c := &opt.Server
	fs.StringVar(&c.Address, "address", c.Address, "bind address host:port")
	fs.StringVar(&c.Mode, "mode", c.Mode, "serving strategy: reactor, pooled")
	fs.StringVar(&c.Trigger, "trigger", c.Trigger, "readiness trigger: level, edge")
	fs.StringVar(&c.Backend, "backend", c.Backend, "readiness backend: epoll, poll")
	fs.IntVar(&c.Workers, "workers", c.Workers, "pooled mode worker count")
	fs.IntVar(&c.QueueCapacity, "queue-capacity", c.QueueCapacity, "pooled mode dispatch queue capacity")
	fs.IntVar(&c.Backlog, "backlog", c.Backlog, "listen backlog")
	fs.IntVar(&c.BufferSize, "buffer-size", c.BufferSize, "echo read buffer size in bytes")
	fs.DurationVar(&c.WaitTimeout, "wait-timeout", c.WaitTimeout, "reactor readiness wait timeout")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "pooled mode idle read timeout, 0 disables")
	fs.IntVar(&c.AcceptBatch, "accept-batch", c.AcceptBatch, "connections accepted per listener wake")
	fs.BoolVar(&c.ReusePort, "reuse-port", c.ReusePort, "set SO_REUSEPORT on the listener")
	fs.BoolVar(&opt.Debug, "debug", false, "enable debug logging")

	var envErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if envErr != nil || f.Name == "config" {
			return
		}
		if v, ok := lookupEnv(envName(f.Name)); ok {
			if e := fs.Set(f.Name, v); e != nil {
				envErr = fmt.Errorf("env %s: %w", envName(f.Name), e)
			}
		}
	})
	if envErr != nil {
		return opt, envErr
	}

	if err = fs.Parse(args); err != nil {
		return opt, err
	}
	return opt, nil
}

// configPath finds --config before the full flag set exists, its defaults come from the file.
func configPath(args []string, lookupEnv func(string) (string, bool)) (string, error) {
	fs := pflag.NewFlagSet("echod", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	path, _ := lookupEnv(envName("config"))
	fs.StringVar(&path, "config", path, "")
	if err := fs.Parse(args); err != nil && err != pflag.ErrHelp {
		return "", err
	}
	return path, nil
}

func readConfig(path string) (server.Config, error) {
	var c server.Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode config %s: %w", path, err)
	}
	return c, nil
}
