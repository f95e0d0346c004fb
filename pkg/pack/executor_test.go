// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/packforge/pkg/pack"
)

type fakeMutator struct {
	root string
	meta pack.ProfileMeta
}

func (f *fakeMutator) Edit(ctx context.Context, profileRoot string, mutate func(*pack.ProfileMeta)) error {
	mutate(&f.meta)
	return nil
}

func (f *fakeMutator) FullPath(ctx context.Context, profileRoot string) (string, error) {
	return f.root, nil
}

type fakeFetcher struct {
	bodies map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.bodies[url], nil
}

type fakeRuntime struct{ called bool }

func (f *fakeRuntime) Install(ctx context.Context, profileRoot string, toolchain []pack.ToolchainComponent) error {
	f.called = true
	return nil
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// scenario E: cold install, one file, completes with matching hash and
// Installed state.
func TestExecutorInstallCold(t *testing.T) {
	root := t.TempDir()
	body := []byte("jar-bytes")
	digest := sha1Hex(body)

	manifest := pack.Manifest{
		Game: "minecraft",
		Name: "Test Pack",
		Files: []pack.PackFile{
			{
				Path:      "mods/x.jar",
				Downloads: []string{"https://example.com/x.jar"},
				Hashes:    pack.FileHashes{"sha1": digest},
			},
		},
	}
	plan := &pack.Plan{Manifest: manifest}

	mutator := &fakeMutator{root: root}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"https://example.com/x.jar": body}}
	runtime := &fakeRuntime{}
	exec := pack.NewExecutor(fetcher, mutator, runtime, 4)

	err := exec.Install(context.Background(), plan, "profile", "client", nil)
	require.NoError(t, err)

	installed, err := os.ReadFile(filepath.Join(root, "mods/x.jar"))
	require.NoError(t, err)
	assert.Equal(t, body, installed)
	assert.Equal(t, pack.StageInstalled, mutator.meta.Stage)
	assert.True(t, runtime.called)
}

func TestExecutorInstallHashMismatchFails(t *testing.T) {
	root := t.TempDir()
	manifest := pack.Manifest{
		Game: "minecraft",
		Files: []pack.PackFile{
			{
				Path:      "mods/x.jar",
				Downloads: []string{"https://example.com/x.jar"},
				Hashes:    pack.FileHashes{"sha1": "0000000000000000000000000000000000000000"},
			},
		},
	}
	plan := &pack.Plan{Manifest: manifest}

	mutator := &fakeMutator{root: root}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"https://example.com/x.jar": []byte("not-matching")}}
	exec := pack.NewExecutor(fetcher, mutator, &fakeRuntime{}, 4)

	err := exec.Install(context.Background(), plan, "profile", "client", nil)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "mods/x.jar"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutorSkipsUnsupportedSide(t *testing.T) {
	root := t.TempDir()
	body := []byte("server-only")
	digest := sha1Hex(body)
	manifest := pack.Manifest{
		Game: "minecraft",
		Files: []pack.PackFile{
			{
				Path:      "mods/server.jar",
				Downloads: []string{"https://example.com/server.jar"},
				Hashes:    pack.FileHashes{"sha1": digest},
				Env:       &pack.SideEnv{Client: pack.EnvUnsupported, Server: pack.EnvRequired},
			},
		},
	}
	plan := &pack.Plan{Manifest: manifest}

	mutator := &fakeMutator{root: root}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"https://example.com/server.jar": body}}
	exec := pack.NewExecutor(fetcher, mutator, &fakeRuntime{}, 4)

	require.NoError(t, exec.Install(context.Background(), plan, "profile", "client", nil))
	_, statErr := os.Stat(filepath.Join(root, "mods/server.jar"))
	assert.True(t, os.IsNotExist(statErr))
}

// scenario G (supplementing §8 property 7): uninstall removes every
// installed destination and tolerates files already absent.
func TestExecutorUninstallCompleteness(t *testing.T) {
	root := t.TempDir()
	body := []byte("jar-bytes")
	digest := sha1Hex(body)
	manifest := pack.Manifest{
		Game: "minecraft",
		Files: []pack.PackFile{
			{Path: "mods/x.jar", Downloads: []string{"https://example.com/x.jar"}, Hashes: pack.FileHashes{"sha1": digest}},
			{Path: "mods/already-gone.jar", Downloads: []string{"https://example.com/gone.jar"}, Hashes: pack.FileHashes{"sha1": digest}},
		},
	}
	plan := &pack.Plan{Manifest: manifest}

	mutator := &fakeMutator{root: root}
	fetcher := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/x.jar":    body,
		"https://example.com/gone.jar": body,
	}}
	exec := pack.NewExecutor(fetcher, mutator, &fakeRuntime{}, 4)
	require.NoError(t, exec.Install(context.Background(), plan, "profile", "client", nil))

	require.NoError(t, os.Remove(filepath.Join(root, "mods/already-gone.jar")))

	require.NoError(t, exec.Uninstall(context.Background(), plan, "profile"))

	_, err := os.Stat(filepath.Join(root, "mods/x.jar"))
	assert.True(t, os.IsNotExist(err))
}
