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

// Package main implements packctl, the launcher-side CLI for the
// modpack installation engine.
//
// Usage:
//
//	packctl install <pack.mrpack> <profile>   Install a manifest archive into a new profile
//	packctl repair <pack.mrpack> <profile>    Re-run a plan against an existing profile
//	packctl uninstall <pack.mrpack> <profile> Remove everything a plan installed
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/packforge/internal/config"
	"github.com/kraklabs/packforge/internal/progress"
	"github.com/kraklabs/packforge/pkg/pack"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .packforge/config.yaml")
		side        = flag.String("side", "client", "Install side: client or server")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress output")
	)
	flag.SetInterspersed(false)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("packctl version %s (%s)\n", version, commit)
		return
	}
	if *noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	args := flag.Args()
	if len(args) < 3 {
		flag.Usage()
		os.Exit(2)
	}
	cmdName, archivePath, profile := args[0], args[1], args[2]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}

	if err := run(cmdName, archivePath, profile, *side, *quiet, cfg); err != nil {
		fail(err)
	}
}

func run(cmdName, archivePath, profile, side string, quiet bool, cfg *config.Config) error {
	ctx := context.Background()

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting archive: %w", err)
	}

	source := pack.NewArchiveManifestSource(f, info.Size(), cfg.Launcher.ExpectedGame)
	plan, err := source.Plan()
	if err != nil {
		return fmt.Errorf("parsing pack plan: %w", err)
	}

	mutator := pack.NewLocalMutator(cfg.Launcher.ProfilesRoot)
	executor := pack.NewExecutor(pack.NewHTTPFetcher(), mutator, pack.NoopRuntime{}, cfg.Launcher.DownloadConcurrency)

	var bus progress.Bus = progress.Noop{}
	if !quiet {
		term := progress.NewTerminal()
		defer term.Finish()
		bus = term
	}

	switch cmdName {
	case "install":
		color.Green("installing %s into profile %q", plan.Manifest.Name, profile)
		return executor.Install(ctx, plan, profile, side, bus)
	case "repair":
		color.Yellow("repairing profile %q against %s", profile, plan.Manifest.Name)
		return executor.Repair(ctx, plan, profile, side, bus)
	case "uninstall":
		color.Red("removing everything %s installed into profile %q", plan.Manifest.Name, profile)
		return executor.Uninstall(ctx, plan, profile)
	default:
		return fmt.Errorf("unknown command %q", cmdName)
	}
}

func fail(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "packctl: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `packctl - modpack installation engine CLI

Usage:
  packctl install <pack.mrpack> <profile>
  packctl repair <pack.mrpack> <profile>
  packctl uninstall <pack.mrpack> <profile>

Options:
  --side string      Install side: client or server (default "client")
  -c, --config       Path to .packforge/config.yaml
  -q, --quiet        Suppress progress output
  --no-color         Disable color output (respects NO_COLOR env var)
  -V, --version      Show version and exit
`)
}
