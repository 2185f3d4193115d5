/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import "time"

type Deadline interface {
	SetDeadline(t time.Time) error
}

// DeadlineUpdate keeps pushing the deadline of conn ttl into the future
// until the returned stop func is called.
func DeadlineUpdate(conn Deadline, ttl time.Duration) func() {
	if ttl <= 0 {
		return func() {}
	}
	if err := conn.SetDeadline(time.Now().Add(ttl)); err != nil {
		return func() {}
	}

	tik := time.NewTicker(ttl / 2)
	closeC := make(chan struct{})

	go func() {
		defer tik.Stop()
		for {
			select {
			case <-closeC:
				return
			case v := <-tik.C:
				if err := conn.SetDeadline(v.Add(ttl)); err != nil {
					return
				}
			}
		}
	}()

	return func() { close(closeC) }
}
