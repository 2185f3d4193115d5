/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package address

import (
	"net"
	"strings"
)

const (
	DefaultHost   = "127.0.0.1"
	AnyHost       = "0.0.0.0"
	EphemeralPort = "0"
)

// Normalize turns a loosely written bind address into host:port.
// An empty address binds loopback, an empty host binds every interface
// and a missing port asks the kernel for an ephemeral one.
func Normalize(address string) string {
	var host, port string

	switch true {
	case len(address) == 0:
		host = DefaultHost

	case IsValidIP(address):
		host = address

	case address[0] == '[':
		if index := strings.IndexByte(address, ']'); index != -1 {
			host = address[1:index]
			port = strings.TrimPrefix(address[index+1:], ":")
		}
		if !IsValidIP(host) {
			host = "::1"
		}

	case strings.Count(address, ":") == 1:
		index := strings.IndexByte(address, ':')
		host = address[:index]
		port = address[index+1:]

	default:
		host = address
	}

	if len(host) == 0 {
		host = AnyHost
	}

	if !IsValidIP(host) {
		if ips, err := net.LookupIP(host); err == nil && len(ips) > 0 {
			host = ips[0].String()
		}
	}

	if len(port) == 0 {
		port = EphemeralPort
	}

	return net.JoinHostPort(host, port)
}

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// IsIPv6 reports whether the host part of a normalized address is an IPv6 literal.
func IsIPv6(address string) bool {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}
