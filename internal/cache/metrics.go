// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors for the single-flight
// coordinator and bulk resolver. Grounded on the original's
// RedisPool::register_and_set_metrics (labrinth_redis_pool_* gauges);
// here supplemented with leader/follower/timeout counters and a lock
// wait histogram, since the original only measured the connection pool,
// not single-flight outcomes (spec.md §8 property 1 and 4 are exactly
// what these counters make observable in production).
type Metrics struct {
	LeadersTotal   prometheus.Counter
	FollowersTotal prometheus.Counter
	TimeoutsTotal  prometheus.Counter
	StalePromoted  prometheus.Counter
	LockWait       prometheus.Histogram
}

// NewMetrics constructs and registers the cache layer's collectors
// against reg. Pass a fresh prometheus.NewRegistry() in tests to avoid
// colliding with a process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeadersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packforge_cache_singleflight_leader_total",
			Help: "Number of times this process became single-flight leader for a key.",
		}),
		FollowersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packforge_cache_singleflight_follower_total",
			Help: "Number of times this process waited as a single-flight follower.",
		}),
		TimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packforge_cache_singleflight_timeout_total",
			Help: "Number of follower waits that exceeded the configured timeout.",
		}),
		StalePromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packforge_cache_stale_promoted_total",
			Help: "Number of stale records returned, either because another process held the lock or because the loader omitted the key.",
		}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "packforge_cache_lock_wait_seconds",
			Help:    "Time a follower spent waiting for a single-flight lock to clear.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LeadersTotal, m.FollowersTotal, m.TimeoutsTotal, m.StalePromoted, m.LockWait)
	}
	return m
}
