/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package conn

import (
	"io"
	"os"

	"github.com/Allenxuxu/ringbuffer"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echod/errs"
)

const outBufferSize = 4096

// FDStream is a non-blocking socket descriptor. Reads that find nothing
// return errs.ErrWouldBlock, writes never block: whatever the kernel does
// not take is kept until Flush.
type FDStream struct {
	fd  int
	out *ringbuffer.RingBuffer
}

func NewFD(fd int) *FDStream {
	return &FDStream{fd: fd}
}

func (v *FDStream) FD() int {
	return v.fd
}

func (v *FDStream) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(v.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, errs.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (v *FDStream) Write(b []byte) (int, error) {
	if v.Pending() > 0 {
		_, _ = v.buffer().Write(b) //nolint: errcheck
		return len(b), nil
	}

	written := 0
	for written < len(b) {
		n, err := unix.Write(v.fd, b[written:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return written, os.NewSyscallError("write", err)
		}
		written += n
	}

	if written < len(b) {
		_, _ = v.buffer().Write(b[written:]) //nolint: errcheck
	}
	return len(b), nil
}

func (v *FDStream) Pending() int {
	if v.out == nil {
		return 0
	}
	return v.out.Length()
}

// Flush writes pending output until it is gone or the socket would block.
func (v *FDStream) Flush() error {
	for v.Pending() > 0 {
		first, end := v.out.PeekAll()
		chunk := first
		if len(chunk) == 0 {
			chunk = end
		}
		n, err := unix.Write(v.fd, chunk)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		v.out.Retrieve(n)
	}
	return nil
}

func (v *FDStream) Close() error {
	return os.NewSyscallError("close", unix.Close(v.fd))
}

func (v *FDStream) buffer() *ringbuffer.RingBuffer {
	if v.out == nil {
		v.out = ringbuffer.New(outBufferSize)
	}
	return v.out
}
