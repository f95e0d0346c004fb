// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolchain models the loader/runtime toolchain a profile
// depends on (spec.md §3 "Loader toolchain", §6 "loader callback"). It is
// grounded on packages/daedalus/src/minecraft.rs, which resolves the same
// component list (game version, loader, loader version) against a
// metadata index before a profile can launch.
package toolchain

import (
	"context"
	"fmt"

	"github.com/kraklabs/packforge/internal/forgeerr"
	"github.com/kraklabs/packforge/pkg/pack"
)

// Component names one resolvable piece of a profile's launch toolchain.
type Component struct {
	Project string
	Version string
}

// Resolved is what a Resolver produces for a single Component: enough to
// materialize it locally (a set of files) without the executor needing
// to know anything about loader internals.
type Resolved struct {
	Component Component
	Files     []pack.PackFile
	// MainClass and Arguments are opaque passthrough data a launcher uses
	// at run time; the installer itself never interprets them.
	MainClass string
	Arguments []string
}

// Resolver looks up the concrete file set and launch metadata for a
// toolchain component. spec.md §6 keeps this collaborator abstract since
// every loader ecosystem (Fabric, Forge, Quilt, NeoForge, vanilla) has its
// own metadata format; only daedalus' shape is assumed here: a
// project+version pair resolves to a file list.
type Resolver interface {
	Resolve(ctx context.Context, component Component) (Resolved, error)
}

// Chain resolves every component in order, since a loader component
// (e.g. "fabric-loader") typically needs the preceding one (e.g.
// "minecraft") to already have resolved its game version before its own
// metadata lookup can be formed.
func Chain(ctx context.Context, resolver Resolver, components []Component) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(components))
	for _, c := range components {
		r, err := resolver.Resolve(ctx, c)
		if err != nil {
			return nil, forgeerr.Wrap(forgeerr.KindDependencyUnavailable,
				fmt.Sprintf("resolving toolchain component %s@%s", c.Project, c.Version), err)
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

// FromManifest converts a Manifest's declared toolchain entries into the
// Component list Chain expects.
func FromManifest(m pack.Manifest) []Component {
	components := make([]Component, 0, len(m.Toolchain)+1)
	components = append(components, Component{Project: "minecraft", Version: gameVersion(m)})
	for _, dep := range m.Toolchain {
		if dep.Project == "minecraft" {
			continue
		}
		components = append(components, Component{Project: dep.Project, Version: dep.Version})
	}
	return components
}

func gameVersion(m pack.Manifest) string {
	for _, dep := range m.Toolchain {
		if dep.Project == "minecraft" {
			return dep.Version
		}
	}
	return ""
}
