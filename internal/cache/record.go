// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"time"

	"github.com/kraklabs/packforge/internal/forgeerr"
)

// Record is C2: the serialized cache record envelope. It carries enough
// metadata to decide freshness without re-fetching the value, mirroring
// the original's RedisValue<T, K, S> (apps/labrinth/src/database/redis.rs).
type Record struct {
	// Key is the record's true primary key. Authoritative over whatever
	// path the record was found under (spec.md §3).
	Key PrimaryKey `json:"key"`

	// Alias is the slug (or other human alias) this value was indexed
	// under, if any.
	Alias *string `json:"alias,omitempty"`

	// IssuedAt is when this record was written.
	IssuedAt time.Time `json:"issued_at"`

	// Value is the opaque cached payload, kept as raw JSON so Record
	// itself doesn't need to be generic over the value type.
	Value json.RawMessage `json:"value"`
}

// Fresh reports whether the record is still within softWindow of now.
func (r Record) Fresh(now time.Time, softWindow time.Duration) bool {
	return now.Sub(r.IssuedAt) < softWindow
}

// Marshal serializes a record to its self-describing textual cache
// representation.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Decode parses a stored cache value into a Record. Any failure —
// malformed JSON, or a value that isn't a Record shape at all — degrades
// to forgeerr.KindCacheMalformed, which callers treat as a miss
// (spec.md §2, §7).
func Decode(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, forgeerr.CacheMalformed("", err)
	}
	if rec.Key == "" {
		return Record{}, forgeerr.CacheMalformed("", nil)
	}
	return rec, nil
}
