// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/packforge/internal/forgeerr"
	"github.com/kraklabs/packforge/pkg/pack"
)

func buildArchive(t *testing.T, manifest string, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("modrinth.index.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)

	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

const validManifest = `{
  "formatVersion": 1,
  "game": "minecraft",
  "name": "Test Pack",
  "versionId": "1.0.0",
  "files": [
    {
      "path": "mods/x.jar",
      "downloads": ["https://example.com/x.jar"],
      "hashes": {"sha1": "deadbeef"}
    }
  ],
  "dependencies": {"minecraft": "1.20.1"}
}`

func TestParsePlanValidManifest(t *testing.T) {
	r := buildArchive(t, validManifest, map[string]string{
		"overrides/config/settings.txt": "value=1",
	})

	plan, err := pack.ParsePlan(r, r.Size(), "minecraft")
	require.NoError(t, err)
	assert.Equal(t, "Test Pack", plan.Manifest.Name)
	assert.Len(t, plan.Manifest.Files, 1)
	require.Len(t, plan.Overrides, 1)
	assert.Equal(t, "config/settings.txt", plan.Overrides[0].RelativePath)

	require.Len(t, plan.Manifest.Toolchain, 1)
	assert.Equal(t, "minecraft", plan.Manifest.Toolchain[0].Project)
	assert.Equal(t, "1.20.1", plan.Manifest.Toolchain[0].Version)
}

func TestManifestDependenciesObjectRoundTrips(t *testing.T) {
	raw := []byte(`{
	  "formatVersion": 1,
	  "game": "minecraft",
	  "name": "Test Pack",
	  "versionId": "1.0.0",
	  "files": [],
	  "dependencies": {"minecraft": "1.20.1", "fabric-loader": "0.15.0"}
	}`)

	m, err := pack.ParseManifest(raw)
	require.NoError(t, err)
	require.Len(t, m.Toolchain, 2)
	assert.Equal(t, "fabric-loader", m.Toolchain[0].Project)
	assert.Equal(t, "0.15.0", m.Toolchain[0].Version)
	assert.Equal(t, "minecraft", m.Toolchain[1].Project)
	assert.Equal(t, "1.20.1", m.Toolchain[1].Version)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	deps, ok := roundTripped["dependencies"].(map[string]any)
	require.True(t, ok, "dependencies must re-encode as a JSON object")
	assert.Equal(t, "1.20.1", deps["minecraft"])
	assert.Equal(t, "0.15.0", deps["fabric-loader"])
}

func TestParsePlanPlatformMismatch(t *testing.T) {
	manifest := `{"formatVersion":1,"game":"terraria","name":"x","versionId":"1","files":[{"path":"a","downloads":["u"],"hashes":{"sha1":"x"}}],"dependencies":{}}`
	r := buildArchive(t, manifest, nil)

	_, err := pack.ParsePlan(r, r.Size(), "minecraft")
	require.Error(t, err)
	assert.True(t, forgeerr.Is(err, forgeerr.KindPlatformMismatch))
}

func TestParsePlanMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.Close())
	r := bytes.NewReader(buf.Bytes())

	_, err := pack.ParsePlan(r, r.Size(), "minecraft")
	require.Error(t, err)
	assert.True(t, forgeerr.Is(err, forgeerr.KindManifestInvalid))
}

// scenario F: a manifest-declared override path that escapes the profile
// root is rejected at parse time, before any file is written.
func TestParsePlanRejectsPathEscape(t *testing.T) {
	r := buildArchive(t, validManifest, map[string]string{
		"overrides/../evil": "nope",
	})

	_, err := pack.ParsePlan(r, r.Size(), "minecraft")
	require.Error(t, err)
	assert.True(t, forgeerr.Is(err, forgeerr.KindPathEscape))
}

// inMemoryManifestSource builds a Plan directly from an already-parsed
// Manifest and Overrides, the seam a future CurseForge-profile importer
// would implement without ever producing a .mrpack zip archive.
type inMemoryManifestSource struct {
	plan *pack.Plan
}

func (s inMemoryManifestSource) Plan() (*pack.Plan, error) { return s.plan, nil }

func TestManifestSourceSeamSupportsNonArchiveConstruction(t *testing.T) {
	var source pack.ManifestSource = inMemoryManifestSource{
		plan: &pack.Plan{
			Manifest: pack.Manifest{
				Game: "minecraft",
				Name: "Synthesized Pack",
				Files: []pack.PackFile{
					{Path: "mods/x.jar", Downloads: []string{"https://example.com/x.jar"}, Hashes: pack.FileHashes{"sha1": "deadbeef"}},
				},
			},
			Overrides: []pack.OverrideEntry{
				{RelativePath: "config/settings.txt", Content: []byte("value=1")},
			},
		},
	}

	plan, err := source.Plan()
	require.NoError(t, err)
	assert.Equal(t, "Synthesized Pack", plan.Manifest.Name)
	require.Len(t, plan.Overrides, 1)
	assert.Equal(t, "config/settings.txt", plan.Overrides[0].RelativePath)
}

func TestArchiveManifestSourceDelegatesToParsePlan(t *testing.T) {
	r := buildArchive(t, validManifest, nil)

	source := pack.NewArchiveManifestSource(r, r.Size(), "minecraft")
	plan, err := source.Plan()
	require.NoError(t, err)
	assert.Equal(t, "Test Pack", plan.Manifest.Name)
}

func TestParsePlanRejectsFileWithNoHashes(t *testing.T) {
	manifest := `{"formatVersion":1,"game":"minecraft","name":"x","versionId":"1","files":[{"path":"a","downloads":["u"],"hashes":{}}],"dependencies":{}}`
	r := buildArchive(t, manifest, nil)

	_, err := pack.ParsePlan(r, r.Size(), "minecraft")
	require.Error(t, err)
	assert.True(t, forgeerr.Is(err, forgeerr.KindManifestInvalid))
}
