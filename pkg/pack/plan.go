// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/kraklabs/packforge/internal/forgeerr"
)

// overridePrefixes are the archive prefixes that stage a file onto the
// profile root verbatim rather than declaring it as a download, ordered
// as the original checks them (spec.md §4.5).
var overridePrefixes = []string{"overrides/", "client-overrides/", "server-overrides/"}

// Plan is C5: a validated, ready-to-execute description of a single
// install, repair, or uninstall operation, built once from a manifest
// archive and then handed to Executor. Building a Plan never touches the
// filesystem outside the archive itself.
type Plan struct {
	Manifest  Manifest
	Overrides []OverrideEntry
}

// ManifestSource produces a Plan. archiveManifestSource (backed by
// ParsePlan) is the only archive format this spec implements, but a
// CurseForge-profile importer (supplemented from curseforge_profile.rs,
// out of scope as a parser) would satisfy this interface without a
// .mrpack file on disk — it only needs to produce a *Plan.
type ManifestSource interface {
	Plan() (*Plan, error)
}

// archiveManifestSource is the ManifestSource backing every real
// packctl invocation: a .mrpack-shaped zip archive read via ParsePlan.
type archiveManifestSource struct {
	r            io.ReaderAt
	size         int64
	expectedGame string
}

// NewArchiveManifestSource wraps a manifest archive as a ManifestSource.
func NewArchiveManifestSource(r io.ReaderAt, size int64, expectedGame string) ManifestSource {
	return &archiveManifestSource{r: r, size: size, expectedGame: expectedGame}
}

// Plan implements ManifestSource.
func (s *archiveManifestSource) Plan() (*Plan, error) {
	return ParsePlan(s.r, s.size, s.expectedGame)
}

// ParsePlan reads a manifest archive (an .mrpack-shaped zip: a
// "modrinth.index.json" manifest entry plus an override tree) and
// produces a validated Plan. expectedGame is checked against the
// manifest's Game field (spec.md §4.5 "Platform mismatch" edge case).
func ParsePlan(r io.ReaderAt, size int64, expectedGame string) (*Plan, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindManifestInvalid, "not a valid zip archive", err)
	}

	manifestFile, err := findManifestEntry(zr)
	if err != nil {
		return nil, err
	}

	raw, err := readZipEntry(manifestFile)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindManifestInvalid, "failed to read manifest entry", err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindManifestInvalid, "manifest is not valid JSON", err)
	}

	if manifest.Game != expectedGame {
		return nil, forgeerr.PlatformMismatch(expectedGame, manifest.Game)
	}

	if err := validateManifest(manifest); err != nil {
		return nil, err
	}

	overrides, err := extractOverrides(zr)
	if err != nil {
		return nil, err
	}

	return &Plan{Manifest: manifest, Overrides: overrides}, nil
}

func findManifestEntry(zr *zip.Reader) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == "modrinth.index.json" {
			return f, nil
		}
	}
	return nil, forgeerr.New(forgeerr.KindManifestInvalid, "no pack manifest found in archive")
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// validateManifest enforces the per-file invariants of spec.md §4.5: a
// PackFile must have a non-empty path that stays inside the profile root,
// at least one download source, and at least one hash.
func validateManifest(m Manifest) error {
	if len(m.Files) == 0 {
		return forgeerr.New(forgeerr.KindManifestInvalid, "manifest declares no files")
	}
	seen := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		if f.Path == "" {
			return forgeerr.New(forgeerr.KindManifestInvalid, "file entry with empty path")
		}
		if _, dup := seen[f.Path]; dup {
			return forgeerr.New(forgeerr.KindManifestInvalid, fmt.Sprintf("duplicate file path %q", f.Path))
		}
		seen[f.Path] = struct{}{}
		if _, err := safeRelativePath(f.Path); err != nil {
			return err
		}
		if len(f.Downloads) == 0 {
			return forgeerr.New(forgeerr.KindManifestInvalid, fmt.Sprintf("file %q declares no download sources", f.Path))
		}
		if len(f.Hashes) == 0 {
			return forgeerr.New(forgeerr.KindManifestInvalid, fmt.Sprintf("file %q declares no hashes", f.Path))
		}
	}
	return nil
}

// SideSupported reports whether f should be installed for the given side
// (spec.md §4.5 "A file whose env marks it Unsupported ... is skipped
// entirely"). side is "client" or "server".
func (f PackFile) SideSupported(side string) bool {
	if f.Env == nil {
		return true
	}
	var support EnvSupport
	switch side {
	case "server":
		support = f.Env.Server
	default:
		support = f.Env.Client
	}
	return support != EnvUnsupported
}

// extractOverrides walks every archive entry under a recognized override
// prefix, strips that prefix, and rejects any path that would escape the
// profile root once joined (spec.md §7 KindPathEscape).
func extractOverrides(zr *zip.Reader) ([]OverrideEntry, error) {
	var entries []OverrideEntry
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel, ok := stripOverridePrefix(f.Name)
		if !ok {
			continue
		}
		safe, err := safeRelativePath(rel)
		if err != nil {
			return nil, err
		}
		content, err := readZipEntry(f)
		if err != nil {
			return nil, forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("reading override %q", f.Name), err)
		}
		entries = append(entries, OverrideEntry{RelativePath: safe, Content: content})
	}
	return entries, nil
}

func stripOverridePrefix(name string) (string, bool) {
	for _, prefix := range overridePrefixes {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix), true
		}
	}
	return "", false
}

// safeRelativePath rejects any archive-declared path that, once cleaned,
// escapes the profile root via ".." segments or an absolute path —
// exactly the class of archive entry a malicious or corrupt manifest
// could use to write outside the profile (forgeerr.KindPathEscape).
func safeRelativePath(rel string) (string, error) {
	if rel == "" {
		return "", forgeerr.PathEscape(rel)
	}
	cleaned := path.Clean(rel)
	if cleaned == "." || path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", forgeerr.PathEscape(rel)
	}
	return cleaned, nil
}
