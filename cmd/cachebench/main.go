// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements cachebench, a backend-side CLI that exercises
// the bulk resolver (C4) against a real Redis instance: it fires a batch
// of concurrent resolves for overlapping aliases and reports how many
// resulted in a loader invocation, confirming single-flight holds under
// real network latency rather than the in-memory cachetest fake.
//
// Usage:
//
//	cachebench -n 50 -aliases AABB11,slug-x
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/packforge/internal/cache"
	"github.com/kraklabs/packforge/internal/cache/rediskv"
	"github.com/kraklabs/packforge/internal/config"
)

func main() {
	var (
		configPath  = flag.StringP("config", "c", "", "Path to .packforge/config.yaml")
		concurrency = flag.IntP("n", "n", 10, "Number of concurrent resolvers to launch")
		aliasesFlag = flag.String("aliases", "AABB11", "Comma-separated aliases every resolver requests")
		loadDelay   = flag.Duration("load-delay", 50*time.Millisecond, "Simulated loader latency")
		metricsAddr = flag.String("metrics-addr", "", "If set, serve /metrics on this address after the run completes, until the server stops")
		namespace   = flag.String("namespace", "project", "Value namespace to bench against")
		slugNs      = flag.String("slug-namespace", "project_slug", "Slug-index namespace to bench against")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("cachebench.config_failed", "err", err)
		os.Exit(1)
	}

	client, err := rediskv.New(cfg.Cache.RedisURL)
	if err != nil {
		slog.Error("cachebench.redis_failed", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	metrics := cache.NewMetrics(reg)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "packforge_cachebench_redis_pool_total",
	}, func() float64 { return float64(client.Raw().PoolStats().TotalConns) }))

	norm := cache.Normalizer{MetaNamespace: cfg.Cache.MetaNamespace, Namespace: *namespace, SlugNamespace: *slugNs}
	coord := cache.NewCoordinator(client, norm, cfg.Cache.LockTTL, cfg.Cache.FollowerPollInterval, cfg.Cache.FollowerTimeout)
	resolver := cache.NewResolver(client, norm, coord, cfg.Cache.SoftWindow, cfg.Cache.HardWindow, metrics)

	aliases := make([]cache.Alias, 0)
	for _, a := range strings.Split(*aliasesFlag, ",") {
		aliases = append(aliases, cache.Alias(strings.TrimSpace(a)))
	}

	var loaderCalls int32
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		atomic.AddInt32(&loaderCalls, 1)
		time.Sleep(*loadDelay)
		out := make(map[cache.PrimaryKey]cache.LoaderResult, len(missing))
		for _, a := range missing {
			out[cache.PrimaryKey(a)] = cache.LoaderResult{Value: []byte(fmt.Sprintf(`"benched:%s"`, a))}
		}
		return out, nil
	}

	start := time.Now()
	results := make(chan error, *concurrency)
	for i := 0; i < *concurrency; i++ {
		go func() {
			_, err := resolver.Resolve(context.Background(), aliases, loader)
			results <- err
		}()
	}

	var failures int
	for i := 0; i < *concurrency; i++ {
		if err := <-results; err != nil {
			failures++
			slog.Warn("cachebench.resolve_failed", "err", err)
		}
	}

	slog.Info("cachebench.complete",
		"resolvers", *concurrency,
		"loader_calls", atomic.LoadInt32(&loaderCalls),
		"failures", failures,
		"elapsed", time.Since(start),
	)

	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		slog.Info("cachebench.serving_metrics", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			slog.Error("cachebench.metrics_server_failed", "err", err)
		}
	}
}
