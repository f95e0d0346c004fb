// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rediskv adapts github.com/redis/go-redis/v9 to the cache.Store
// interface. It is the production collaborator behind cache.Coordinator
// and cache.Resolver; spec.md §6 deliberately keeps the Cache primitive
// interface narrow enough that this file is the entire adapter.
package rediskv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/packforge/internal/forgeerr"
)

// Client wraps a *redis.Client to satisfy cache.Store.
type Client struct {
	rdb *redis.Client
}

// New parses redisURL (a redis:// or rediss:// DSN, as accepted by
// redis.ParseURL) and returns a ready Client.
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindDependencyUnavailable, "invalid redis url", err)
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// Raw exposes the underlying client for pool-stats registration
// (cmd/cachebench wires rdb.PoolStats() into prometheus directly, mirroring
// the original's register_and_set_metrics).
func (c *Client) Raw() *redis.Client { return c.rdb }

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// MGet implements cache.Store.
func (c *Client) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, forgeerr.IOError(err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = []byte(s)
	}
	return out, nil
}

// SetNX implements cache.Store using a single pipelined SET NX PX + GET,
// exactly as the original's lock-acquisition pipe does (redis::pipe().set
// with NX and PX, followed by get, in one round trip).
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	pipe := c.rdb.Pipeline()
	setCmd := pipe.SetNX(ctx, key, value, ttl)
	getCmd := pipe.Get(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, false, forgeerr.IOError(err)
	}
	acquired, err := setCmd.Result()
	if err != nil {
		return nil, false, forgeerr.IOError(err)
	}
	prior, err := getCmd.Bytes()
	if err != nil && err != redis.Nil {
		return nil, false, forgeerr.IOError(err)
	}
	if acquired {
		return nil, true, nil
	}
	return prior, false, nil
}

// Set implements cache.Store.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return forgeerr.IOError(err)
	}
	return nil
}

// Del implements cache.Store.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return forgeerr.IOError(err)
	}
	return nil
}
