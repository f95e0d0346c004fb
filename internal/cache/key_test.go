// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/packforge/internal/cache"
)

func TestTwinsDecimalToBase62(t *testing.T) {
	twins := cache.Twins("42")
	assert.Len(t, twins, 1)
	assert.Equal(t, "g", twins[0])
}

func TestTwinsBase62ToDecimal(t *testing.T) {
	twins := cache.Twins("g")
	assert.Contains(t, twins, "42")
}

func TestTwinsUnknownFormYieldsNone(t *testing.T) {
	assert.Empty(t, cache.Twins("slug-with-hyphens"))
}

func TestNormalizerPaths(t *testing.T) {
	n := cache.Normalizer{MetaNamespace: "prod", Namespace: "project", SlugNamespace: "project_slug"}
	assert.Equal(t, "prod_project:AABB11", n.ValuePath("AABB11"))
	assert.Equal(t, "prod_project_slug:slug-x", n.SlugIndexPath("Slug-X"))
	assert.Equal(t, "prod_project:aabb11/lock", n.LockPath("AABB11"))
}

func TestNormalizerExpandIncludesTwinsAndSlug(t *testing.T) {
	n := cache.Normalizer{Namespace: "project", SlugNamespace: "project_slug"}
	candidates := n.Expand("42")

	var sawTwin, sawSlug bool
	for _, c := range candidates {
		if c.Twin {
			sawTwin = true
		}
		if c.IsSlug {
			sawSlug = true
		}
	}
	assert.True(t, sawTwin)
	assert.True(t, sawSlug)
}

func TestCoalesceIncludesTwinsAndAlias(t *testing.T) {
	alias := "slug-x"
	rec := cache.Record{Key: "42", Alias: &alias}
	aliases := cache.Coalesce(rec)

	asStrings := make([]string, len(aliases))
	for i, a := range aliases {
		asStrings[i] = string(a)
	}
	assert.Contains(t, asStrings, "42")
	assert.Contains(t, asStrings, "g")
	assert.Contains(t, asStrings, "slug-x")
}
