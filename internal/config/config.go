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

// Package config loads the .packforge/config.yaml project file shared by
// the packctl launcher CLI and the cachebench backend CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".packforge"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config is the top-level project configuration file.
type Config struct {
	Version  string      `yaml:"version"`
	Cache    CacheConfig `yaml:"cache"`
	Launcher LauncherCfg `yaml:"launcher"`
}

// CacheConfig configures the coordinated cache layer (C1-C4).
type CacheConfig struct {
	// RedisURL is the connection string for the shared, network-replicated
	// cache (e.g. "redis://localhost:6379/0").
	RedisURL string `yaml:"redis_url"`

	// MetaNamespace prefixes every cache path, mirroring the original's
	// RedisPool.meta_namespace (apps/labrinth/src/database/redis.rs) — lets
	// multiple environments share one Redis instance without collisions.
	MetaNamespace string `yaml:"meta_namespace"`

	// SoftWindow is the freshness window (spec.md §3): records older than
	// this are stale and eligible for refresh. Default 30m.
	SoftWindow time.Duration `yaml:"soft_window"`

	// HardWindow is the store-enforced expiry. Must be > SoftWindow. Default 12h.
	HardWindow time.Duration `yaml:"hard_window"`

	// LockTTL bounds how long a crashed leader can block followers. Default 60s.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// FollowerTimeout is the wall-clock budget a follower waits before
	// surfacing forgeerr.KindCacheTimeout. Default 5s.
	FollowerTimeout time.Duration `yaml:"follower_timeout"`

	// FollowerPollInterval is how often a follower re-checks the lock. Default 100ms.
	FollowerPollInterval time.Duration `yaml:"follower_poll_interval"`
}

// LauncherCfg configures the modpack installation engine (C5/C6).
type LauncherCfg struct {
	// ProfilesRoot is the directory under which installed profiles live.
	ProfilesRoot string `yaml:"profiles_root"`

	// DownloadConcurrency bounds how many files the executor fetches at once.
	// spec.md §4.6 calls out a "typical width 8".
	DownloadConcurrency int `yaml:"download_concurrency"`

	// ExpectedGame is the platform identifier manifests must declare
	// (spec.md §3: "a mismatch is a fatal error, not a warning").
	ExpectedGame string `yaml:"expected_game"`
}

// Default returns sensible defaults for local development, matching the
// soft/hard/lock constants spec.md §3-§4.3 calls out as examples.
func Default() *Config {
	return &Config{
		Version: configVersion,
		Cache: CacheConfig{
			RedisURL:             getEnv("PACKFORGE_REDIS_URL", "redis://localhost:6379/0"),
			MetaNamespace:        getEnv("PACKFORGE_CACHE_NAMESPACE", ""),
			SoftWindow:           30 * time.Minute,
			HardWindow:           12 * time.Hour,
			LockTTL:              60 * time.Second,
			FollowerTimeout:      5 * time.Second,
			FollowerPollInterval: 100 * time.Millisecond,
		},
		Launcher: LauncherCfg{
			ProfilesRoot:        getEnv("PACKFORGE_PROFILES_ROOT", "profiles"),
			DownloadConcurrency: 8,
			ExpectedGame:        "minecraft",
		},
	}
}

// Load loads configuration from configPath, or discovers
// .packforge/config.yaml by walking up from the current directory if
// configPath is empty. Values not present in the file keep Default()'s
// values: the file only needs to override what differs from a standalone
// deployment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = os.Getenv("PACKFORGE_CONFIG_PATH")
	}
	if configPath == "" {
		found, err := findConfigFile()
		if err != nil {
			// No config file anywhere in the tree is not fatal: defaults apply.
			return cfg, nil
		}
		configPath = found
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from discovery or explicit flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	if cfg.Cache.HardWindow <= cfg.Cache.SoftWindow {
		return nil, fmt.Errorf("invalid config %s: hard_window (%s) must exceed soft_window (%s)",
			configPath, cfg.Cache.HardWindow, cfg.Cache.SoftWindow)
	}

	return cfg, nil
}

// findConfigFile searches the current directory and its ancestors for
// .packforge/config.yaml, the same upward-walk the teacher's CLI uses to
// find .cie/project.yaml.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, defaultConfigDir, defaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s/%s found", defaultConfigDir, defaultConfigFile)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
