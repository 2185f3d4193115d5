/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal_test

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echod/internal"
)

func TestUnit_DeadlineUpdate(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close() //nolint: errcheck
	defer b.Close() //nolint: errcheck

	stop := internal.DeadlineUpdate(a, 40*time.Millisecond)

	// the ticker keeps the deadline ahead while the connection is in use
	time.Sleep(100 * time.Millisecond)
	go b.Write([]byte("x")) //nolint: errcheck
	_, err := a.Read(make([]byte, 1))
	casecheck.NoError(t, err)

	stop()
	_, err = a.Read(make([]byte, 1))
	casecheck.True(t, errors.Is(err, os.ErrDeadlineExceeded))
}

func TestUnit_DeadlineUpdateDisabled(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close() //nolint: errcheck
	defer b.Close() //nolint: errcheck

	stop := internal.DeadlineUpdate(a, 0)
	stop()

	go b.Write([]byte("x")) //nolint: errcheck
	_, err := a.Read(make([]byte, 1))
	casecheck.NoError(t, err)
}
