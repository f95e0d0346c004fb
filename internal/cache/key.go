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

// Package cache implements the coordinated cache layer: the key
// normalizer (C1), the serialized cache record envelope (C2), the
// distributed single-flight coordinator (C3), and the bulk resolver
// (C4). It is grounded on apps/labrinth/src/database/redis.rs from the
// modrinth monorepo this spec was distilled from.
package cache

import (
	"strconv"
	"strings"
)

// PrimaryKey is the opaque, stable identifier for a cached entity
// (spec.md §3). Its zero value is never a valid key.
type PrimaryKey string

// Alias is any request-side string naming an entity (spec.md §3).
type Alias string

// Normalizer is C1: it maps aliases onto candidate cache paths and,
// post-resolution, onto the set of aliases a record satisfies.
type Normalizer struct {
	// MetaNamespace prefixes every path (e.g. a deployment identifier),
	// mirroring RedisPool.meta_namespace in the original.
	MetaNamespace string

	// Namespace is the value namespace for this entity kind (e.g. "project").
	Namespace string

	// SlugNamespace is the separate index-space namespace for slug
	// lookups (e.g. "project_slug"). Empty disables slug indexing
	// entirely for this normalizer.
	SlugNamespace string
}

func (n Normalizer) namespacedPath(namespace, key string) string {
	if n.MetaNamespace == "" {
		return namespace + ":" + key
	}
	return n.MetaNamespace + "_" + namespace + ":" + key
}

// ValuePath returns the cache path a record for key is stored under.
func (n Normalizer) ValuePath(key string) string {
	return n.namespacedPath(n.Namespace, key)
}

// SlugIndexPath returns the cache path the slug index entry for slug is
// stored under. Slug index keys are always case-folded (spec.md §4.1).
func (n Normalizer) SlugIndexPath(slug string) string {
	return n.namespacedPath(n.SlugNamespace, strings.ToLower(slug))
}

// LockPath returns the §4.3 lock path for key: the namespaced value path
// of the case-folded key, with a "/lock" suffix.
func (n Normalizer) LockPath(key string) string {
	return n.namespacedPath(n.Namespace, strings.ToLower(key)) + "/lock"
}

// Twins returns the syntactic numeric<->base62 twins of key, excluding
// key itself. A key that is a run of decimal digits yields its base62
// rendering; a key that is valid base62 (and not already covered above)
// yields the decimal rendering of its decoded value. Edge case: "Unknown
// alias forms produce only the single literal candidate path" (spec.md
// §4.1) — a key that is neither decimal nor base62 (e.g. contains a
// hyphen, as modrinth slugs do) yields no twins at all.
func Twins(key string) []string {
	var twins []string
	if n, err := strconv.ParseUint(key, 10, 64); err == nil {
		if b62 := toBase62(n); b62 != key {
			twins = append(twins, b62)
		}
		return twins
	}
	if n, ok := parseBase62(key); ok {
		if dec := strconv.FormatUint(n, 10); dec != key {
			found := false
			for _, t := range twins {
				if t == dec {
					found = true
					break
				}
			}
			if !found {
				twins = append(twins, dec)
			}
		}
	}
	return twins
}

// CandidatePath is one path Expand proposes checking for an alias, in
// priority order (spec.md §4.1: "exact alias first, then syntactic
// twins, then slug-index lookup result if alias is a slug").
type CandidatePath struct {
	Path   string
	IsSlug bool // true if Path is a slug-index path, not a value path
	Twin   bool // true if Path is a numeric/base62 twin of the literal alias
}

// Expand produces, for a single alias, the ordered set of value-namespace
// paths to probe plus (if SlugNamespace is configured) the slug-index
// path that might resolve it to a primary key. Callers resolve the slug
// candidate first (a separate MGET round against the slug namespace, as
// the original does) and feed any hits back in as additional value-path
// aliases before the final value-namespace read — see Resolver.
func (n Normalizer) Expand(alias Alias) []CandidatePath {
	lit := string(alias)
	paths := []CandidatePath{{Path: n.ValuePath(lit)}}
	for _, twin := range Twins(lit) {
		paths = append(paths, CandidatePath{Path: n.ValuePath(twin), Twin: true})
	}
	if n.SlugNamespace != "" {
		paths = append(paths, CandidatePath{Path: n.SlugIndexPath(lit), IsSlug: true})
	}
	return paths
}

// Coalesce returns every alias form satisfied by rec: its primary key,
// that key's numeric/base62 twins, and its slug alias if present. C4
// uses this to remove requesters from the outstanding set once a single
// record has answered several of their aliases (spec.md §8 property 2:
// alias idempotence).
func Coalesce(rec Record) []Alias {
	key := string(rec.Key)
	aliases := []Alias{Alias(key)}
	for _, twin := range Twins(key) {
		aliases = append(aliases, Alias(twin))
	}
	if rec.Alias != nil {
		aliases = append(aliases, Alias(*rec.Alias))
	}
	return aliases
}
