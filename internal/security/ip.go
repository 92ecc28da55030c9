// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package security holds the outbound-connection safety checks used by the
// webhook dispatcher.
package security

import "net/netip"

// IsSafeIP reports whether an IP address is safe to connect to from the
// server. It rejects loopback, unspecified, multicast, RFC 1918 private
// ranges, link-local (including the cloud metadata address 169.254.169.254),
// carrier-grade NAT, and the private IPv6 ranges. IPv4-mapped IPv6 addresses
// are canonicalized to IPv4 first so ::ffff:127.0.0.1 cannot slip through.
func IsSafeIP(ip netip.Addr) bool {
	if ip.Is4In6() {
		ip = ip.Unmap()
	}

	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}

	if ip.Is4() {
		o := ip.As4()
		switch {
		case o[0] == 10: // 10.0.0.0/8
			return false
		case o[0] == 172 && o[1] >= 16 && o[1] <= 31: // 172.16.0.0/12
			return false
		case o[0] == 192 && o[1] == 168: // 192.168.0.0/16
			return false
		case o[0] == 169 && o[1] == 254: // 169.254.0.0/16
			return false
		case o[0] == 100 && o[1] >= 64 && o[1] <= 127: // 100.64.0.0/10
			return false
		}
		return true
	}

	s := ip.As16()
	hi := uint16(s[0])<<8 | uint16(s[1])
	// Unique local fc00::/7
	if hi&0xfe00 == 0xfc00 {
		return false
	}
	// Link-local fe80::/10
	if hi&0xffc0 == 0xfe80 {
		return false
	}
	// Site-local fec0::/10, deprecated but blocked anyway
	if hi&0xffc0 == 0xfec0 {
		return false
	}

	return true
}
