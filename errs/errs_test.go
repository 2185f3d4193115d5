/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package errs_test

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echod/errs"
)

func TestUnit_IsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped eof", err: fmt.Errorf("read: %w", io.EOF), want: true},
		{name: "closed", err: errs.ErrClosed, want: true},
		{name: "reset", err: &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, want: true},
		{name: "pipe", err: syscall.EPIPE, want: true},
		{name: "net closed", err: net.ErrClosed, want: true},
		{name: "refused", err: syscall.ECONNREFUSED, want: false},
		{name: "setup", err: errs.ErrSetup, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			casecheck.Equal(t, tt.want, errs.IsClosed(tt.err))
		})
	}
}

func TestUnit_IsTemporary(t *testing.T) {
	casecheck.True(t, errs.IsTemporary(syscall.EAGAIN))
	casecheck.True(t, errs.IsTemporary(fmt.Errorf("accept: %w", syscall.EMFILE)))
	casecheck.True(t, !errs.IsTemporary(syscall.EBADF))
	casecheck.True(t, !errs.IsTemporary(nil))
}
