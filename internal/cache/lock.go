// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"strings"
	"time"

	"github.com/kraklabs/packforge/internal/forgeerr"
)

// Coordinator is C3: the distributed single-flight coordinator. At most
// one backfill is ever in flight per PrimaryKey across every process
// sharing store, enforced entirely through store's atomic SET-NX-TTL
// (spec.md §4.3, §9 "rely on the atomic set-if-absent + TTL primitive as
// the sole synchronization mechanism").
type Coordinator struct {
	store        Store
	norm         Normalizer
	lockTTL      time.Duration
	pollInterval time.Duration
	followerWait time.Duration
}

// NewCoordinator constructs a Coordinator over store using norm for path
// derivation. lockTTL bounds how long a crashed leader can block
// followers; pollInterval is how often a follower re-checks the lock;
// followerWait is the hard wall-clock budget after which a follower gives
// up with forgeerr.KindCacheTimeout.
func NewCoordinator(store Store, norm Normalizer, lockTTL, pollInterval, followerWait time.Duration) *Coordinator {
	return &Coordinator{
		store:        store,
		norm:         norm,
		lockTTL:      lockTTL,
		pollInterval: pollInterval,
		followerWait: followerWait,
	}
}

// Role is the outcome of TryAcquire.
type Role int

const (
	// Leader means this caller must run the loader and publish the result.
	Leader Role = iota
	// Follower means some other process already holds the lock.
	Follower
)

// TryAcquire performs step 1-2 of the protocol: an atomic set-if-absent
// with a short TTL on key's lock path. The caller becomes Leader if no
// prior lock existed, Follower otherwise.
func (c *Coordinator) TryAcquire(ctx context.Context, key PrimaryKey) (Role, error) {
	lockPath := c.norm.LockPath(string(key))
	_, acquired, err := c.store.SetNX(ctx, lockPath, []byte("1"), c.lockTTL)
	if err != nil {
		return Follower, forgeerr.IOError(err)
	}
	if acquired {
		return Leader, nil
	}
	return Follower, nil
}

// ReleaseLocks deletes the lock paths for key and every syntactic twin
// and slug alias it resolved to. Leaders call this after publishing a
// value (success path) or before propagating a loader error (failure
// path), so followers never starve on a leader that gave up (spec.md
// §4.4 "If a leader's fetch fails, the leader must still delete its
// lock(s) before propagating the error").
func (c *Coordinator) ReleaseLocks(ctx context.Context, key PrimaryKey, alias *string) error {
	paths := []string{c.norm.LockPath(string(key))}
	for _, twin := range Twins(string(key)) {
		paths = append(paths, c.norm.LockPath(twin))
	}
	if alias != nil {
		paths = append(paths, c.norm.LockPath(strings.ToLower(*alias)))
	}
	if err := c.store.Del(ctx, paths...); err != nil {
		return forgeerr.IOError(err)
	}
	return nil
}

// AwaitRelease is step 4 of the protocol for a follower: poll the lock
// path on pollInterval until it clears or followerWait elapses. It
// returns nil as soon as the lock is gone — the caller is then expected
// to re-read the cache, which will observe either the leader's published
// value or (if the leader failed) a miss it may itself try to lead.
func (c *Coordinator) AwaitRelease(ctx context.Context, key PrimaryKey) error {
	lockPath := c.norm.LockPath(string(key))
	deadline := time.Now().Add(c.followerWait)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		vals, err := c.store.MGet(ctx, []string{lockPath})
		if err != nil {
			return forgeerr.IOError(err)
		}
		if len(vals) == 0 || vals[0] == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return forgeerr.CacheTimeout(string(key))
		}

		select {
		case <-ctx.Done():
			return forgeerr.IOError(ctx.Err())
		case <-ticker.C:
		}
	}
}
