/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
	"go.osspkg.com/logx"
	"go.osspkg.com/xc"

	"go.osspkg.com/echod/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opt, err := loadOptions(args, os.LookupEnv, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		logx.Error("Load config", "err", err)
		return 1
	}
	if opt.Debug {
		logx.SetLevel(logx.LevelDebug)
	}

	srv, err := server.New(opt.Server)
	if err != nil {
		logx.Error("Create server", "err", err)
		return 1
	}

	if err = srv.ListenAndServe(xc.New()); err != nil {
		logx.Error("Serve", "err", err)
		return 1
	}
	return 0
}
