// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/packforge/internal/progress"
)

func TestRecorderAccumulatesPerBar(t *testing.T) {
	r := progress.NewRecorder()
	r.Emit(progress.Event{BarID: "downloads", Delta: 0.3})
	r.Emit(progress.Event{BarID: "downloads", Delta: 0.4, Message: "fetching mod.jar"})
	r.Emit(progress.Event{BarID: "overrides", Delta: 0.25})

	assert.InDelta(t, 0.7, r.Total("downloads"), 1e-9)
	assert.InDelta(t, 0.25, r.Total("overrides"), 1e-9)
	assert.Len(t, r.Events(), 3)
}

func TestRecorderEventsPreserveOrder(t *testing.T) {
	r := progress.NewRecorder()
	r.Emit(progress.Event{BarID: "downloads", Delta: 0.1, Message: "first"})
	r.Emit(progress.Event{BarID: "downloads", Delta: 0.1, Message: "second"})

	events := r.Events()
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)
}

func TestRecorderIsSafeForConcurrentEmit(t *testing.T) {
	r := progress.NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(progress.Event{BarID: "downloads", Delta: 0.01})
		}()
	}
	wg.Wait()

	assert.InDelta(t, 0.5, r.Total("downloads"), 1e-9)
	assert.Len(t, r.Events(), 50)
}

func TestNoopDiscardsEverything(t *testing.T) {
	var bus progress.Bus = progress.Noop{}
	assert.NotPanics(t, func() {
		bus.Emit(progress.Event{BarID: "downloads", Delta: 1.0})
	})
}

func TestTerminalSwitchesBarsWithoutPanicking(t *testing.T) {
	term := progress.NewTerminal()
	assert.NotPanics(t, func() {
		term.Emit(progress.Event{BarID: "downloads", Delta: 0.5})
		term.Emit(progress.Event{BarID: "overrides", Delta: 0.5, Message: "extracting overrides"})
		term.Emit(progress.Event{BarID: "overrides", Delta: 0.6})
		term.Finish()
	})
}
