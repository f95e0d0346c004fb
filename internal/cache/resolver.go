// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/packforge/internal/forgeerr"
	"golang.org/x/sync/errgroup"
)

// Loader backfills the entities named by missing. Each entry is an alias
// as the caller supplied it, or the primary key a slug-index entry
// resolved it to (a loader is free to decode a slug, a numeric id, or any
// other alias shape it understands). The result map is
// keyed by each entity's true PrimaryKey, with the alias it was resolved
// through attached when the loader knows one (spec.md §6 "loader
// callback").
type Loader func(ctx context.Context, missing []Alias) (map[PrimaryKey]LoaderResult, error)

// LoaderResult is one entity the loader produced.
type LoaderResult struct {
	Alias *string
	Value []byte
}

// Resolver is C4: the bulk resolver. It turns a batch of aliases into a
// batch of fresh values, guaranteeing that at most one backfill per
// PrimaryKey is in flight across every process sharing the same store
// (spec.md §4.4).
type Resolver struct {
	store       Store
	norm        Normalizer
	coordinator *Coordinator
	softWindow  time.Duration
	hardWindow  time.Duration
	metrics     *Metrics
}

// NewResolver constructs a Resolver. metrics may be nil to disable
// observability.
func NewResolver(store Store, norm Normalizer, coordinator *Coordinator, softWindow, hardWindow time.Duration, metrics *Metrics) *Resolver {
	return &Resolver{
		store:       store,
		norm:        norm,
		coordinator: coordinator,
		softWindow:  softWindow,
		hardWindow:  hardWindow,
		metrics:     metrics,
	}
}

// keyGroup accumulates every pending alias that resolved, via the slug
// index or by being its own literal form, to the same effective primary
// key identity.
type keyGroup struct {
	key     string
	aliases []Alias
	stale   *Record
}

// Resolve answers every alias in aliases, invoking loader at most once
// per distinct key this process ends up leading. Duplicate aliases and
// aliases that turn out to name the same entity are coalesced; the
// returned map is keyed by each entity's true PrimaryKey.
func (r *Resolver) Resolve(ctx context.Context, aliases []Alias, loader Loader) (map[PrimaryKey][]byte, error) {
	pending := dedupeAliases(aliases)
	if len(pending) == 0 {
		return map[PrimaryKey][]byte{}, nil
	}

	result := make(map[PrimaryKey][]byte)

	// --- step 2a: slug-index round -------------------------------------
	resolvedHint := make(map[Alias]string, len(pending))
	for _, a := range pending {
		resolvedHint[a] = string(a)
	}
	if r.norm.SlugNamespace != "" {
		slugPaths := make([]string, 0, len(pending))
		slugPathAlias := make(map[string]Alias, len(pending))
		for _, a := range pending {
			p := r.norm.SlugIndexPath(string(a))
			slugPaths = append(slugPaths, p)
			slugPathAlias[p] = a
		}
		slugVals, err := r.store.MGet(ctx, slugPaths)
		if err != nil {
			return nil, forgeerr.IOError(err)
		}
		for i, v := range slugVals {
			if v == nil {
				continue
			}
			resolvedHint[slugPathAlias[slugPaths[i]]] = string(v)
		}
	}

	// --- step 2b: value-namespace round ---------------------------------
	valuePaths := make(map[string]struct{})
	for _, a := range pending {
		valuePaths[r.norm.ValuePath(string(a))] = struct{}{}
		for _, twin := range Twins(string(a)) {
			valuePaths[r.norm.ValuePath(twin)] = struct{}{}
		}
		if hint := resolvedHint[a]; hint != string(a) {
			valuePaths[r.norm.ValuePath(hint)] = struct{}{}
		}
	}
	paths := make([]string, 0, len(valuePaths))
	for p := range valuePaths {
		paths = append(paths, p)
	}
	vals, err := r.store.MGet(ctx, paths)
	if err != nil {
		return nil, forgeerr.IOError(err)
	}

	recordsByKey := make(map[PrimaryKey]Record)
	for _, raw := range vals {
		if raw == nil {
			continue
		}
		rec, err := Decode(raw)
		if err != nil {
			continue // malformed entries degrade to a miss, spec.md §2
		}
		recordsByKey[rec.Key] = rec
	}

	// --- step 3: freshness partition -------------------------------------
	staleByKey := make(map[PrimaryKey]Record)
	now := time.Now()
	for key, rec := range recordsByKey {
		if rec.Fresh(now, r.softWindow) {
			if satisfiesAny(pending, rec, resolvedHint) {
				result[key] = rec.Value
				removeSatisfied(pending, rec, resolvedHint)
			}
		} else {
			staleByKey[key] = rec
		}
	}
	pending = compactPending(pending)

	if len(pending) == 0 {
		return result, nil
	}

	// --- step 4: lock acquisition, grouped by effective key --------------
	groups := make(map[string]*keyGroup)
	var order []string
	for _, a := range pending {
		k := resolvedHint[a]
		g, ok := groups[k]
		if !ok {
			g = &keyGroup{key: k}
			groups[k] = g
			order = append(order, k)
		}
		g.aliases = append(g.aliases, a)
		if rec, ok := staleByKey[PrimaryKey(k)]; ok {
			recCopy := rec
			g.stale = &recCopy
		}
	}

	var leaderGroups, followerGroups []*keyGroup
	for _, k := range order {
		g := groups[k]
		role, err := r.coordinator.TryAcquire(ctx, PrimaryKey(g.key))
		if err != nil {
			return nil, err
		}
		switch role {
		case Leader:
			r.count(func(m *Metrics) { m.LeadersTotal.Inc() })
			leaderGroups = append(leaderGroups, g)
		case Follower:
			r.count(func(m *Metrics) { m.FollowersTotal.Inc() })
			followerGroups = append(followerGroups, g)
		}
	}

	var mu sync.Mutex
	grp, gctx := errgroup.WithContext(ctx)

	if len(leaderGroups) > 0 {
		grp.Go(func() error {
			missing := make([]Alias, len(leaderGroups))
			for i, g := range leaderGroups {
				missing[i] = Alias(g.key)
			}
			loaded, loadErr := loader(gctx, missing)

			// Every led key's lock must clear regardless of outcome, or
			// followers of a failed leader starve (spec.md §4.4).
			releaseAll := func() error {
				for _, g := range leaderGroups {
					var alias *string
					if rec, ok := loaded[PrimaryKey(g.key)]; ok {
						alias = rec.Alias
					}
					if err := r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), alias); err != nil {
						return err
					}
				}
				return nil
			}

			if loadErr != nil {
				_ = releaseAll()
				return forgeerr.LoaderFailed(loadErr)
			}

			mu.Lock()
			for key, lr := range loaded {
				rec := Record{Key: key, Alias: lr.Alias, IssuedAt: time.Now(), Value: lr.Value}
				raw, merr := rec.Marshal()
				if merr != nil {
					mu.Unlock()
					_ = releaseAll()
					return forgeerr.CacheMalformed(r.norm.ValuePath(string(key)), merr)
				}
				if err := r.store.Set(gctx, r.norm.ValuePath(string(key)), raw, r.hardWindow); err != nil {
					mu.Unlock()
					_ = releaseAll()
					return forgeerr.IOError(err)
				}
				if lr.Alias != nil {
					if err := r.store.Set(gctx, r.norm.SlugIndexPath(*lr.Alias), []byte(key), r.hardWindow); err != nil {
						mu.Unlock()
						_ = releaseAll()
						return forgeerr.IOError(err)
					}
				}
				result[key] = lr.Value
			}
			for _, g := range leaderGroups {
				if _, ok := loaded[PrimaryKey(g.key)]; ok || g.stale == nil {
					continue
				}
				result[g.stale.Key] = g.stale.Value
				r.count(func(m *Metrics) { m.StalePromoted.Inc() })
			}
			mu.Unlock()

			return releaseAll()
		})
	}

	for _, g := range followerGroups {
		g := g
		grp.Go(func() error {
			// A follower that already has a stale value on hand returns it
			// immediately rather than waiting on someone else's lock —
			// stale-while-revalidate, not stale-only-as-last-resort
			// (spec.md §8 scenario D).
			if g.stale != nil {
				mu.Lock()
				result[g.stale.Key] = g.stale.Value
				mu.Unlock()
				r.count(func(m *Metrics) { m.StalePromoted.Inc() })
				return nil
			}

			waitStart := time.Now()
			err := r.coordinator.AwaitRelease(gctx, PrimaryKey(g.key))
			r.count(func(m *Metrics) { m.LockWait.Observe(time.Since(waitStart).Seconds()) })
			if err != nil {
				if forgeerr.Is(err, forgeerr.KindCacheTimeout) {
					r.count(func(m *Metrics) { m.TimeoutsTotal.Inc() })
				}
				return err
			}

			rec, found, rerr := r.reread(gctx, g.key)
			if rerr != nil {
				return rerr
			}
			if found {
				mu.Lock()
				result[rec.Key] = rec.Value
				mu.Unlock()
				return nil
			}

			// The leader released without publishing: it failed. Make a
			// single bounded attempt to lead the key ourselves rather than
			// surfacing an error for a transient crash (spec.md §4.4 "may
			// retry as a new leader").
			role, err := r.coordinator.TryAcquire(gctx, PrimaryKey(g.key))
			if err != nil {
				return err
			}
			if role != Leader {
				return nil // someone else is now leading; caller simply misses this round
			}
			loaded, loadErr := loader(gctx, []Alias{Alias(g.key)})
			if loadErr != nil {
				_ = r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), nil)
				return forgeerr.LoaderFailed(loadErr)
			}
			lr, ok := loaded[PrimaryKey(g.key)]
			if !ok {
				return r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), nil)
			}
			rec2 := Record{Key: PrimaryKey(g.key), Alias: lr.Alias, IssuedAt: time.Now(), Value: lr.Value}
			raw, merr := rec2.Marshal()
			if merr != nil {
				_ = r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), lr.Alias)
				return forgeerr.CacheMalformed(r.norm.ValuePath(g.key), merr)
			}
			if err := r.store.Set(gctx, r.norm.ValuePath(g.key), raw, r.hardWindow); err != nil {
				_ = r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), lr.Alias)
				return forgeerr.IOError(err)
			}
			if lr.Alias != nil {
				if err := r.store.Set(gctx, r.norm.SlugIndexPath(*lr.Alias), []byte(g.key), r.hardWindow); err != nil {
					_ = r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), lr.Alias)
					return forgeerr.IOError(err)
				}
			}
			mu.Lock()
			result[rec2.Key] = rec2.Value
			mu.Unlock()
			return r.coordinator.ReleaseLocks(gctx, PrimaryKey(g.key), lr.Alias)
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *Resolver) reread(ctx context.Context, key string) (Record, bool, error) {
	vals, err := r.store.MGet(ctx, []string{r.norm.ValuePath(key)})
	if err != nil {
		return Record{}, false, forgeerr.IOError(err)
	}
	if len(vals) == 0 || vals[0] == nil {
		return Record{}, false, nil
	}
	rec, err := Decode(vals[0])
	if err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (r *Resolver) count(f func(*Metrics)) {
	if r.metrics != nil {
		f(r.metrics)
	}
}

func dedupeAliases(aliases []Alias) []Alias {
	seen := make(map[Alias]struct{}, len(aliases))
	out := make([]Alias, 0, len(aliases))
	for _, a := range aliases {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func satisfiesAny(pending []Alias, rec Record, hint map[Alias]string) bool {
	for _, a := range pending {
		if satisfies(a, rec, hint) {
			return true
		}
	}
	return false
}

func satisfies(a Alias, rec Record, hint map[Alias]string) bool {
	if string(a) == string(rec.Key) {
		return true
	}
	if hint[a] == string(rec.Key) {
		return true
	}
	for _, twin := range Twins(string(rec.Key)) {
		if string(a) == twin {
			return true
		}
	}
	if rec.Alias != nil && strings.EqualFold(string(a), *rec.Alias) {
		return true
	}
	return false
}

func removeSatisfied(pending []Alias, rec Record, hint map[Alias]string) {
	for i, a := range pending {
		if satisfies(a, rec, hint) {
			pending[i] = ""
		}
	}
}

func compactPending(pending []Alias) []Alias {
	out := pending[:0]
	for _, a := range pending {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
