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

// Package progress implements the §6 "Progress event bus" collaborator
// the pack executor (C6) reports through: (bar_id, delta_fraction,
// optional message), where the sum of all deltas for one install equals
// 1.0. Modeled on the teacher's ProgressCallback(current, total, phase)
// (pkg/ingestion/local_pipeline.go), generalized from absolute
// current/total counters to normalized fractional deltas since C6 must
// compose two phases (downloads, overrides) that each own a fixed share
// of the bar rather than one flat counter.
package progress

import (
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Event is a single progress update.
type Event struct {
	BarID   string
	Delta   float64 // fraction of the whole this event advances, e.g. 0.01
	Message string
}

// Bus receives progress events. Implementations must be safe for
// concurrent use: the pack executor emits from multiple download workers.
type Bus interface {
	Emit(e Event)
}

// Noop discards every event. It is the default when a caller doesn't care
// about progress (e.g. non-interactive repair/uninstall).
type Noop struct{}

// Emit implements Bus.
func (Noop) Emit(Event) {}

// Recorder accumulates events in memory, for tests asserting the total
// per bar sums to 1.0 (spec.md §6) and for callers that want to replay
// progress after the fact.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	totals map[string]float64
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{totals: make(map[string]float64)}
}

// Emit implements Bus.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.totals[e.BarID] += e.Delta
}

// Events returns a copy of every recorded event, in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Total returns the running sum of Delta for a given bar ID.
func (r *Recorder) Total(barID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[barID]
}

// Terminal renders progress to a terminal using schollz/progressbar,
// the same library the teacher's CLI drives from its own
// ProgressCallback (cmd/cie/index.go: NewProgressBar / phaseDescription).
// Each distinct BarID gets its own bar scaled to 100 (percent), finished
// and replaced when a new BarID appears.
type Terminal struct {
	mu      sync.Mutex
	current string
	bar     *progressbar.ProgressBar
	percent float64
}

// NewTerminal constructs a Bus that draws one progress bar at a time.
func NewTerminal() *Terminal {
	return &Terminal{}
}

// Emit implements Bus.
func (t *Terminal) Emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.BarID != t.current {
		if t.bar != nil {
			_ = t.bar.Finish()
		}
		t.current = e.BarID
		t.percent = 0
		t.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(e.BarID),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	t.percent += e.Delta * 100
	if t.percent > 100 {
		t.percent = 100
	}
	_ = t.bar.Set(int(t.percent))
	if e.Message != "" {
		t.bar.Describe(e.Message)
	}
}

// Finish closes out whatever bar is currently open. Callers should defer
// this after handing a *Terminal to an install so the terminal cursor is
// left in a clean state even on error.
func (t *Terminal) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		_ = t.bar.Finish()
	}
}
