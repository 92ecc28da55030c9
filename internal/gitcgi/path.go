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

package gitcgi

import "strings"

// ValidRequestPath reports whether a git request path is safe to hand to the
// CGI child. Paths with traversal sequences or characters outside the small
// set git Smart HTTP actually uses are rejected before authentication runs.
func ValidRequestPath(p string) bool {
	if p == "" || strings.Contains(p, "..") {
		return false
	}
	for _, c := range []byte(p) {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '/' ||
			c == '=' || c == '?' || c == '&' || c == '+':
		default:
			return false
		}
	}
	return true
}
