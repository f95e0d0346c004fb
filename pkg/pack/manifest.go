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

// Package pack implements the modpack installation engine: the pack plan
// (C5) and pack executor (C6). It is grounded on
// packages/app-lib/src/api/pack/install_mrpack.rs and
// packages/app-lib/src/pack/install_from.rs from the modrinth monorepo
// this spec was distilled from, restated in terms of a manifest format
// rather than Modrinth's specific wire types.
package pack

import (
	"encoding/json"
	"sort"
	"time"
)

// EnvSupport is one side's support level for a file (spec.md §3).
type EnvSupport string

const (
	EnvRequired    EnvSupport = "required"
	EnvOptional    EnvSupport = "optional"
	EnvUnsupported EnvSupport = "unsupported"
)

// SideEnv records client/server support for a PackFile.
type SideEnv struct {
	Client EnvSupport `json:"client,omitempty"`
	Server EnvSupport `json:"server,omitempty"`
}

// FileHashes carries every digest the manifest declares for a file, keyed
// by algorithm name ("sha1", "sha512", ...). At least one must be present
// for a file to be installable (spec.md §4.5 edge case).
type FileHashes map[string]string

// PackFile is one manifest-declared, hash-addressed download (spec.md §3).
type PackFile struct {
	// Path is the destination relative to the profile root, forward-slash
	// separated regardless of host OS.
	Path string `json:"path"`
	// Downloads is an ordered list of source URLs; the executor tries them
	// in order until one verifies (spec.md §4.6 "loader callback" analog
	// for transport, here a plain mirror list per the original's
	// fetch_mirrors).
	Downloads []string   `json:"downloads"`
	Hashes    FileHashes `json:"hashes"`
	Env       *SideEnv   `json:"env,omitempty"`
	// FileSize is carried from the manifest but not read by the executor:
	// hashes are authoritative for verification, and progress is split
	// equally per file.
	FileSize int64 `json:"fileSize,omitempty"`
}

// OverrideEntry is one file staged from the manifest's override tree
// (spec.md §3) rather than downloaded — it ships inside the pack archive
// itself under an "overrides/" or a platform-specific "<side>-overrides/"
// prefix.
type OverrideEntry struct {
	// RelativePath is relative to the profile root after the override
	// prefix has been stripped. It is re-validated at write time to
	// reject any path that would escape the profile root
	// (forgeerr.KindPathEscape, spec.md §7).
	RelativePath string
	Content      []byte
}

// ToolchainComponent names one element of the loader/runtime toolchain a
// profile needs (spec.md §3 "Loader toolchain").
type ToolchainComponent struct {
	Project string `json:"project"` // e.g. "minecraft", "fabric-loader", "forge"
	Version string `json:"version"`
}

// Manifest is the Pack Manifest (spec.md §3): the complete, declarative
// description of a profile a Pack Plan is built from. It is grounded on
// PackFormat in install_from.rs. On the wire, "dependencies" is a JSON
// object mapping dependency id to version (spec.md §6, SPEC_FULL.md §2),
// e.g. {"minecraft": "1.20.1", "fabric-loader": "0.15.0"} — the same
// shape as the original's dependencies: HashMap<ModLoader, String>.
// Toolchain holds that map decoded into an ordered component list; see
// manifestWire below for the conversion.
type Manifest struct {
	FormatVersion int
	Game          string
	Name          string
	VersionID     string
	Summary       string
	Files         []PackFile
	Toolchain     []ToolchainComponent
}

// manifestWire is Manifest's on-the-wire shape: "dependencies" is a JSON
// object, not an array, so it round-trips through a map rather than
// through ToolchainComponent directly.
type manifestWire struct {
	FormatVersion int               `json:"formatVersion"`
	Game          string            `json:"game"`
	Name          string            `json:"name"`
	VersionID     string            `json:"versionId"`
	Summary       string            `json:"summary,omitempty"`
	Files         []PackFile        `json:"files"`
	Dependencies  map[string]string `json:"dependencies"`
}

// UnmarshalJSON implements json.Unmarshaler, decoding "dependencies" as a
// dependency-id -> version object into Toolchain. Component order is not
// significant on the wire, so the map is flattened in sorted-key order
// for deterministic output.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var w manifestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ids := make([]string, 0, len(w.Dependencies))
	for id := range w.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	toolchain := make([]ToolchainComponent, 0, len(ids))
	for _, id := range ids {
		toolchain = append(toolchain, ToolchainComponent{Project: id, Version: w.Dependencies[id]})
	}

	m.FormatVersion = w.FormatVersion
	m.Game = w.Game
	m.Name = w.Name
	m.VersionID = w.VersionID
	m.Summary = w.Summary
	m.Files = w.Files
	m.Toolchain = toolchain
	return nil
}

// MarshalJSON implements json.Marshaler, the inverse of UnmarshalJSON:
// Toolchain collapses back into a "dependencies" object so persisted
// ProfileState round-trips through the same shape a manifest archive
// declares.
func (m Manifest) MarshalJSON() ([]byte, error) {
	deps := make(map[string]string, len(m.Toolchain))
	for _, c := range m.Toolchain {
		deps[c.Project] = c.Version
	}
	return json.Marshal(manifestWire{
		FormatVersion: m.FormatVersion,
		Game:          m.Game,
		Name:          m.Name,
		VersionID:     m.VersionID,
		Summary:       m.Summary,
		Files:         m.Files,
		Dependencies:  deps,
	})
}

// ParseManifest decodes raw JSON into a Manifest without validating its
// semantic content — that is Plan's job, since "game" may need inspection
// before the rest of the manifest is even worth parsing strictly.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ProfileState is a serializable record of what was installed (spec.md
// §3). Nothing in this package writes or reads it: Executor.Repair and
// Executor.Uninstall work from a Plan.
type ProfileState struct {
	ProfileRoot string               `json:"profileRoot"`
	Manifest    Manifest             `json:"manifest"`
	InstalledAt time.Time            `json:"installedAt"`
	Files       []InstalledFileState `json:"files"`
}

// InstalledFileState is what the executor recorded about one installed
// file, enough to detect drift without re-downloading (spec.md §4.6
// "profile mutation collaborator").
type InstalledFileState struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
	FromCache bool   `json:"fromCache"`
}
