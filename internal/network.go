/*
 *  Copyright (c) 2024 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import "fmt"

const (
	NetTCP  = "tcp"
	NetTCP4 = "tcp4"
	NetTCP6 = "tcp6"
)

func IsPassableNetwork(network string) error {
	switch network {
	case NetTCP, NetTCP4, NetTCP6:
		return nil
	default:
		return fmt.Errorf("invalid network type, use: tcp, tcp4, tcp6")
	}
}
