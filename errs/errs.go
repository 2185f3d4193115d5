/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package errs

import (
	"io"
	"strings"
	"syscall"

	"go.osspkg.com/errors"
)

var (
	// ErrSetup aborts startup before anything is served: bind, listen or multiplexer creation failed.
	ErrSetup = errors.New("setup failed")
	// ErrAccept is a transient accept failure, no connection is created.
	ErrAccept = errors.New("accept failed")
	// ErrReadiness is a multiplexer wait failure, fatal to the event loop.
	ErrReadiness = errors.New("readiness wait failed")

	ErrClosed             = errors.New("connection closed")
	ErrWouldBlock         = errors.New("operation would block")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrNotRegistered      = errors.New("not registered")
	ErrUnsupportedMode    = errors.New("trigger mode not supported by backend")
	ErrQueueClosed        = errors.New("queue closed")
	ErrQueueFull          = errors.New("queue full")
	ErrServAlreadyRunning = errors.New("server already running")
)

// IsClosed reports whether err is a normal end of a connection
// rather than a failure worth logging.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "i/o timeout") {
		return true
	}
	return false
}

// IsTemporary reports errno values after which a call should simply be retried later.
func IsTemporary(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
