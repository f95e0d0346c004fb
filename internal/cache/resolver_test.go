// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/packforge/internal/cache"
	"github.com/kraklabs/packforge/internal/cache/cachetest"
)

func newResolver(store *cachetest.Store, norm cache.Normalizer) *cache.Resolver {
	coord := cache.NewCoordinator(store, norm, 60*time.Second, 5*time.Millisecond, 200*time.Millisecond)
	return cache.NewResolver(store, norm, coord, 30*time.Minute, 12*time.Hour, nil)
}

// scenario A: cold cache, single alias, loader invoked exactly once.
func TestResolveColdCacheInvokesLoaderOnce(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project", SlugNamespace: "project_slug"}
	r := newResolver(store, norm)

	var calls int32
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		atomic.AddInt32(&calls, 1)
		require.ElementsMatch(t, []cache.Alias{"AABB11"}, missing)
		alias := "slug-x"
		return map[cache.PrimaryKey]cache.LoaderResult{
			"AABB11": {Alias: &alias, Value: []byte(`"payload"`)},
		}, nil
	}

	out, err := r.Resolve(context.Background(), []cache.Alias{"AABB11"}, loader)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []byte(`"payload"`), out["AABB11"])
}

// scenario B: warm slug index, cold value — both aliases resolve to the
// same key and the loader is invoked exactly once despite two requesters.
func TestResolveSlugIndexCollapsesToOneLoad(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project", SlugNamespace: "project_slug"}
	require.NoError(t, store.Set(context.Background(), norm.SlugIndexPath("slug-x"), []byte("K42"), 0))

	r := newResolver(store, norm)
	var calls int32
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		atomic.AddInt32(&calls, 1)
		alias := "slug-x"
		return map[cache.PrimaryKey]cache.LoaderResult{
			"K42": {Alias: &alias, Value: []byte(`"payload"`)},
		}, nil
	}

	out, err := r.Resolve(context.Background(), []cache.Alias{"K42", "slug-x"}, loader)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []byte(`"payload"`), out["K42"])
}

// scenario C: a fresh record short-circuits the loader entirely.
func TestResolveFreshHitSkipsLoader(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}
	rec := cache.Record{Key: "K42", IssuedAt: time.Now(), Value: []byte(`"cached"`)}
	raw, err := rec.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), norm.ValuePath("K42"), raw, 0))

	r := newResolver(store, norm)
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		t.Fatal("loader should not be invoked for a fresh hit")
		return nil, nil
	}

	out, err := r.Resolve(context.Background(), []cache.Alias{"K42"}, loader)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"cached"`), out["K42"])
}

// scenario D: a second resolver observes the first's lock and waits for
// it to clear rather than invoking the loader itself.
func TestResolveFollowerWaitsForLeader(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}

	leaderCoord := cache.NewCoordinator(store, norm, 60*time.Second, 5*time.Millisecond, 500*time.Millisecond)
	followerCoord := cache.NewCoordinator(store, norm, 60*time.Second, 5*time.Millisecond, 500*time.Millisecond)

	role, err := leaderCoord.TryAcquire(context.Background(), "K42")
	require.NoError(t, err)
	require.Equal(t, cache.Leader, role)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		rec := cache.Record{Key: "K42", IssuedAt: time.Now(), Value: []byte(`"payload"`)}
		raw, _ := rec.Marshal()
		_ = store.Set(context.Background(), norm.ValuePath("K42"), raw, 0)
		_ = leaderCoord.ReleaseLocks(context.Background(), "K42", nil)
	}()

	require.NoError(t, followerCoord.AwaitRelease(context.Background(), "K42"))
	<-done

	vals, err := store.MGet(context.Background(), []string{norm.ValuePath("K42")})
	require.NoError(t, err)
	require.NotNil(t, vals[0])
}

// a stale record still present when this process becomes leader is
// refreshed by the loader, not returned verbatim.
func TestResolveStaleRecordRefreshedByLeader(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}
	stale := cache.Record{Key: "K42", IssuedAt: time.Now().Add(-time.Hour), Value: []byte(`"stale"`)}
	raw, err := stale.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), norm.ValuePath("K42"), raw, 0))

	r := newResolver(store, norm)
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		return map[cache.PrimaryKey]cache.LoaderResult{
			"K42": {Value: []byte(`"fresh"`)},
		}, nil
	}

	out, err := r.Resolve(context.Background(), []cache.Alias{"K42"}, loader)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"fresh"`), out["K42"])
}

// when the loader omits a led key from its result, a stale record still
// present is used as a last-resort fallback instead of returning nothing.
func TestResolveStaleRecordFallsBackWhenLoaderOmitsKey(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}
	stale := cache.Record{Key: "K42", IssuedAt: time.Now().Add(-time.Hour), Value: []byte(`"stale"`)}
	raw, err := stale.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), norm.ValuePath("K42"), raw, 0))

	r := newResolver(store, norm)
	loader := func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		return map[cache.PrimaryKey]cache.LoaderResult{}, nil
	}

	out, err := r.Resolve(context.Background(), []cache.Alias{"K42"}, loader)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"stale"`), out["K42"])
}

// scenario D: a stale record plus lock contention returns the stale
// value immediately, without invoking the loader or waiting.
func TestResolveStaleWithLockContentionReturnsImmediately(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}
	stale := cache.Record{Key: "K42", IssuedAt: time.Now().Add(-45 * time.Minute), Value: []byte(`"stale"`)}
	raw, err := stale.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), norm.ValuePath("K42"), raw, 0))

	otherCoord := cache.NewCoordinator(store, norm, time.Minute, 5*time.Millisecond, time.Second)
	role, err := otherCoord.TryAcquire(context.Background(), "K42")
	require.NoError(t, err)
	require.Equal(t, cache.Leader, role)

	r := newResolver(store, norm)
	start := time.Now()
	out, err := r.Resolve(context.Background(), []cache.Alias{"K42"}, func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		t.Fatal("loader should not be invoked when a stale fallback exists")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []byte(`"stale"`), out["K42"])
}

func TestResolveEmptyInputIsNoop(t *testing.T) {
	store := cachetest.New()
	norm := cache.Normalizer{Namespace: "project"}
	r := newResolver(store, norm)

	out, err := r.Resolve(context.Background(), nil, func(ctx context.Context, missing []cache.Alias) (map[cache.PrimaryKey]cache.LoaderResult, error) {
		t.Fatal("loader should not be invoked for empty input")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}
