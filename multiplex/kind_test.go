/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package multiplex

import (
	"testing"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"
)

func TestUnit_EpollKind(t *testing.T) {
	tests := []struct {
		ev   uint32
		want Kind
	}{
		{ev: unix.EPOLLIN, want: Readable},
		{ev: unix.EPOLLIN | unix.EPOLLRDHUP, want: Readable},
		{ev: unix.EPOLLOUT, want: Writable},
		{ev: unix.EPOLLHUP, want: Hangup},
		{ev: unix.EPOLLHUP | unix.EPOLLIN | unix.EPOLLRDHUP, want: Readable | Hangup},
		{ev: unix.EPOLLERR | unix.EPOLLHUP, want: Error | Hangup},
	}
	for _, tt := range tests {
		casecheck.Equal(t, tt.want, epollKind(tt.ev), tt.want.String())
	}
}

func TestUnit_PollKind(t *testing.T) {
	tests := []struct {
		ev   int16
		want Kind
	}{
		{ev: unix.POLLIN, want: Readable},
		{ev: unix.POLLHUP, want: Hangup},
		{ev: unix.POLLHUP | unix.POLLIN, want: Readable | Hangup},
		{ev: unix.POLLNVAL, want: Error},
	}
	for _, tt := range tests {
		casecheck.Equal(t, tt.want, pollKind(tt.ev), tt.want.String())
	}
}
