// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const profileMetaFileName = ".packforge-profile.json"

// LocalMutator is a filesystem-backed ProfileMutator: profiles are
// directories under Root, and their mutable metadata lives in a single
// JSON file alongside the installed content. It exists so packctl has a
// concrete collaborator to drive the executor against; spec.md §1 keeps
// "the launcher's process-supervision surface" (the thing that would
// actually track a rich profile registry) explicitly out of scope.
type LocalMutator struct {
	Root string

	mu sync.Mutex
}

// NewLocalMutator constructs a LocalMutator rooted at root.
func NewLocalMutator(root string) *LocalMutator {
	return &LocalMutator{Root: root}
}

// FullPath implements ProfileMutator.
func (m *LocalMutator) FullPath(ctx context.Context, profile string) (string, error) {
	return filepath.Join(m.Root, profile), nil
}

// Edit implements ProfileMutator: it loads the profile's metadata file (if
// any), applies mutate, and persists the result.
func (m *LocalMutator) Edit(ctx context.Context, profile string, mutate func(*ProfileMeta)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	full, err := m.FullPath(ctx, profile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	metaPath := filepath.Join(full, profileMetaFileName)
	var meta ProfileMeta
	if raw, err := os.ReadFile(metaPath); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}

	mutate(&meta)

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return fmt.Errorf("write profile metadata: %w", err)
	}
	return nil
}

// ReadMeta loads a profile's metadata without mutating it, for status
// reporting.
func (m *LocalMutator) ReadMeta(profile string) (ProfileMeta, error) {
	full, err := m.FullPath(context.Background(), profile)
	if err != nil {
		return ProfileMeta{}, err
	}
	raw, err := os.ReadFile(filepath.Join(full, profileMetaFileName))
	if err != nil {
		return ProfileMeta{}, err
	}
	var meta ProfileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ProfileMeta{}, err
	}
	return meta, nil
}

// NoopRuntime satisfies RuntimeInstaller without performing any
// installation. It is the default for packctl until a real JVM/runtime
// provisioner (out of scope per spec.md §1) is wired in.
type NoopRuntime struct{}

// Install implements RuntimeInstaller.
func (NoopRuntime) Install(ctx context.Context, profileRoot string, toolchain []ToolchainComponent) error {
	return nil
}
