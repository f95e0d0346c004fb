// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import "strings"

// base62Alphabet matches the original's ariadne::ids::base62_impl ordering:
// digits, then uppercase, then lowercase (Modrinth's project/version ID
// encoding). No pack example repo carries a base62 implementation, so this
// is a small hand-rolled routine rather than a borrowed one — see DESIGN.md.
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// toBase62 renders n in the 62-character alphabet above.
func toBase62(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [11]byte // ceil(log62(2^64)) == 11
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(buf[i:])
}

// parseBase62 decodes a base-62 string, as rendered by toBase62. It
// returns ok=false for the empty string or any character outside the
// alphabet (including strings that are not meant to be base62 at all —
// callers use this to detect "is this alias numeric-twin-eligible").
func parseBase62(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(base62Alphabet, s[i])
		if idx < 0 {
			return 0, false
		}
		n = n*62 + uint64(idx)
	}
	return n, true
}
