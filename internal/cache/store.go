// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"time"
)

// Store is the §6 "Cache primitive" collaborator: the minimal surface C3
// and C4 need from the underlying shared cache. Nothing beyond bulk GET,
// NX+TTL SET, plain SET+TTL, and DEL is required — spec.md is explicit
// that "No other primitives are required." rediskv implements this
// against real Redis; cachetest implements it in-process for tests.
type Store interface {
	// MGet reads N keys and returns N optional byte strings in the same
	// order, nil where the key is absent.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// SetNX atomically sets key to value with the given ttl only if key
	// is currently absent, and returns the prior value (nil if none).
	// This is the single-flight lock acquisition primitive (spec.md §6).
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (prior []byte, acquired bool, err error)

	// Set writes key unconditionally with the given ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del deletes the given keys. Deleting an absent key is not an error.
	Del(ctx context.Context, keys ...string) error
}
