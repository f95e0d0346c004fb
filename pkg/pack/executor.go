// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/packforge/internal/forgeerr"
	"github.com/kraklabs/packforge/internal/progress"
	"github.com/kraklabs/packforge/pkg/pack/contentcache"
)

// ProfileStage names the installer-visible lifecycle stage of a profile
// (spec.md §4.6 "Mark profile state PackInstalling").
type ProfileStage string

const (
	StageInstalling ProfileStage = "installing"
	StageInstalled  ProfileStage = "installed"
)

// ProfileMutator is the §6 "profile mutation collaborator": the executor
// treats it as opaque, calling Edit to record stage/toolchain changes and
// FullPath to resolve the profile's absolute install root.
type ProfileMutator interface {
	Edit(ctx context.Context, profileRoot string, mutate func(*ProfileMeta)) error
	FullPath(ctx context.Context, profileRoot string) (string, error)
}

// ProfileMeta is the subset of profile attributes the executor mutates.
type ProfileMeta struct {
	Stage     ProfileStage
	Name      string
	Toolchain []ToolchainComponent
	IconPath  string
}

// RuntimeInstaller is the §4.6 step 6 "runtime-install collaborator",
// explicitly out of scope per spec.md §1 (it performs the actual
// Minecraft/JVM installation once files are in place).
type RuntimeInstaller interface {
	Install(ctx context.Context, profileRoot string, toolchain []ToolchainComponent) error
}

// Executor is C6: it materializes a Plan into a profile directory, or
// reverses one. Concurrency width, the shared fetcher, and the progress
// bus are all injected so a caller controls resource sharing across
// concurrent installs (spec.md §5).
type Executor struct {
	Fetcher     Fetcher
	Mutator     ProfileMutator
	Runtime     RuntimeInstaller
	Concurrency int
}

// NewExecutor constructs an Executor with sane defaults; concurrency <= 0
// falls back to 8, matching the original's typical fetch_semaphore width.
func NewExecutor(fetcher Fetcher, mutator ProfileMutator, runtime RuntimeInstaller, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Executor{Fetcher: fetcher, Mutator: mutator, Runtime: runtime, Concurrency: concurrency}
}

// downloadFraction and overrideFraction split an install's progress
// budget between the two phases that actually move bytes (spec.md §4.6
// "file-download phase shares a fixed fraction ... override-extraction
// phase shares another fixed fraction"), leaving the remainder for setup
// and the runtime-install step.
const (
	downloadFraction = 0.70
	overrideFraction = 0.25
)

// Install materializes plan into profileRoot: toolchain metadata first,
// then every downloadable file concurrently, then every override, then
// the runtime install. side is "client" or "server" (spec.md §4.5).
func (e *Executor) Install(ctx context.Context, plan *Plan, profileRoot, side string, bus progress.Bus) error {
	if bus == nil {
		bus = progress.Noop{}
	}

	if err := e.Mutator.Edit(ctx, profileRoot, func(m *ProfileMeta) {
		m.Stage = StageInstalling
		m.Name = plan.Manifest.Name
		m.Toolchain = plan.Manifest.Toolchain
	}); err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "marking profile installing", err)
	}

	fullPath, err := e.Mutator.FullPath(ctx, profileRoot)
	if err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "resolving profile path", err)
	}

	idx, err := contentcache.Load(fullPath, nil)
	if err != nil {
		return err
	}

	installable := make([]PackFile, 0, len(plan.Manifest.Files))
	for _, f := range plan.Manifest.Files {
		if f.SideSupported(side) {
			installable = append(installable, f)
		}
	}

	if err := e.installFiles(ctx, installable, fullPath, idx, bus); err != nil {
		return err
	}

	iconPromoted, err := e.installOverrides(ctx, plan.Overrides, fullPath, idx, bus)
	if err != nil {
		return err
	}

	if err := idx.Save(ctx); err != nil {
		return err
	}

	if err := e.Mutator.Edit(ctx, profileRoot, func(m *ProfileMeta) {
		if iconPromoted != "" && m.IconPath == "" {
			m.IconPath = iconPromoted
		}
	}); err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "recording promoted icon", err)
	}

	if e.Runtime != nil {
		if err := e.Runtime.Install(ctx, fullPath, plan.Manifest.Toolchain); err != nil {
			return err // profile stays StageInstalling, per spec.md §7
		}
	}

	if err := e.Mutator.Edit(ctx, profileRoot, func(m *ProfileMeta) {
		m.Stage = StageInstalled
	}); err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "marking profile installed", err)
	}

	// Setup and the runtime install own whatever share the two phases
	// did not emit, so one install's deltas sum to 1.0.
	remaining := 1.0
	if len(installable) > 0 {
		remaining -= downloadFraction
	}
	if len(plan.Overrides) > 0 {
		remaining -= overrideFraction
	}
	bus.Emit(progress.Event{BarID: "install", Delta: remaining, Message: "install complete"})

	return nil
}

func (e *Executor) installFiles(ctx context.Context, files []PackFile, profileRoot string, idx *contentcache.Index, bus progress.Bus) error {
	if len(files) == 0 {
		return nil
	}
	perFile := downloadFraction / float64(len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)

	for _, f := range files {
		f := f
		g.Go(func() error {
			dest, err := safeJoin(profileRoot, f.Path)
			if err != nil {
				return err
			}

			body, algorithm, digest, err := fetchAndVerify(gctx, e.Fetcher, f)
			if err != nil {
				return err
			}

			if err := writeFileAtomic(dest, body); err != nil {
				return forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("writing %s", f.Path), err)
			}

			idx.Record(f.Path, algorithm, digest)
			bus.Emit(progress.Event{BarID: "install", Delta: perFile, Message: fmt.Sprintf("downloaded %s", f.Path)})
			return nil
		})
	}

	return g.Wait()
}

func (e *Executor) installOverrides(ctx context.Context, overrides []OverrideEntry, profileRoot string, idx *contentcache.Index, bus progress.Bus) (string, error) {
	var iconPromoted string
	if len(overrides) == 0 {
		return "", nil
	}
	perFile := overrideFraction / float64(len(overrides))

	for _, o := range overrides {
		dest, err := safeJoin(profileRoot, o.RelativePath)
		if err != nil {
			return "", err
		}
		if err := writeFileAtomic(dest, o.Content); err != nil {
			return "", forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("writing override %s", o.RelativePath), err)
		}
		digest, err := contentcache.Digest("sha256", o.Content)
		if err == nil {
			idx.Record(o.RelativePath, "sha256", digest)
		}
		if o.RelativePath == "icon.png" {
			iconPromoted = dest
		}
		bus.Emit(progress.Event{BarID: "install", Delta: perFile, Message: fmt.Sprintf("extracted %s", o.RelativePath)})
	}
	return iconPromoted, nil
}

// Repair re-executes plan against an existing profile. Files whose
// content-cache digest already matches are skipped; everything else is
// re-fetched or re-extracted exactly as Install would (spec.md §4.6
// "Repair (re-entry)").
func (e *Executor) Repair(ctx context.Context, plan *Plan, profileRoot, side string, bus progress.Bus) error {
	fullPath, err := e.Mutator.FullPath(ctx, profileRoot)
	if err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "resolving profile path", err)
	}
	idx, err := contentcache.Load(fullPath, nil)
	if err != nil {
		return err
	}

	var stale []PackFile
	for _, f := range plan.Manifest.Files {
		if !f.SideSupported(side) {
			continue
		}
		if current, ok := readCurrent(fullPath, f.Path); ok && idx.Matches(f.Path, current) {
			continue
		}
		stale = append(stale, f)
	}

	if err := e.installFiles(ctx, stale, fullPath, idx, bus); err != nil {
		return err
	}

	var staleOverrides []OverrideEntry
	for _, o := range plan.Overrides {
		if current, ok := readCurrent(fullPath, o.RelativePath); ok && idx.Matches(o.RelativePath, current) {
			continue
		}
		staleOverrides = append(staleOverrides, o)
	}
	if _, err := e.installOverrides(ctx, staleOverrides, fullPath, idx, bus); err != nil {
		return err
	}

	return idx.Save(ctx)
}

// Uninstall deletes every destination path plan.Manifest.Files and
// plan.Overrides declare (spec.md §4.6 "remove_all_related_files").
// Absent files are tolerated; any other error aborts the sweep.
func (e *Executor) Uninstall(ctx context.Context, plan *Plan, profileRoot string) error {
	fullPath, err := e.Mutator.FullPath(ctx, profileRoot)
	if err != nil {
		return forgeerr.Wrap(forgeerr.KindIOError, "resolving profile path", err)
	}
	idx, err := contentcache.Load(fullPath, nil)
	if err != nil {
		return err
	}

	for _, f := range plan.Manifest.Files {
		if err := removeIfPresent(fullPath, f.Path); err != nil {
			return err
		}
		idx.Forget(f.Path)
	}
	for _, o := range plan.Overrides {
		if err := removeIfPresent(fullPath, o.RelativePath); err != nil {
			return err
		}
		idx.Forget(o.RelativePath)
	}

	return idx.Save(ctx)
}

func removeIfPresent(profileRoot, relPath string) error {
	dest, err := safeJoin(profileRoot, relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("removing %s", relPath), err)
	}
	return nil
}

func readCurrent(profileRoot, relPath string) ([]byte, bool) {
	dest, err := safeJoin(profileRoot, relPath)
	if err != nil {
		return nil, false
	}
	content, err := os.ReadFile(dest)
	if err != nil {
		return nil, false
	}
	return content, true
}

// safeJoin resolves relPath against profileRoot and rejects the result if
// it would land outside profileRoot (spec.md §8 property 6 "path
// confinement").
func safeJoin(profileRoot, relPath string) (string, error) {
	dest := filepath.Join(profileRoot, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(profileRoot, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", forgeerr.PathEscape(relPath)
	}
	return dest, nil
}

func writeFileAtomic(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".packforge-tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
