package progress

import (
	"time"

	"pulldiag/internal/lsp"
)

// Stage describes a step of one pull item.
type Stage string

const (
	// StageRequest covers the round trip to the server.
	StageRequest Stage = "request"
	// StageParse covers decoding the report.
	StageParse Stage = "parse"
	// StageMerge covers applying the report on the owner loop.
	StageMerge Stage = "merge"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the item is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the item is in flight.
	StatusWorking Status = "working"
	// StatusDone indicates the stage completed.
	StatusDone Status = "done"
	// StatusError indicates the stage failed.
	StatusError Status = "error"
	// StatusSkipped indicates the item was dropped without error.
	StatusSkipped Status = "skipped"
)

// Event reports progress for one (resource, server) pull item.
type Event struct {
	Resource lsp.DocumentURI
	Server   string
	Stage    Stage
	Status   Status
	Err      error
	Elapsed  time.Duration
	// Diagnostics is the number of entries stored for Resource after a
	// merge. Only set for StageMerge/StatusDone.
	Diagnostics int
}

// Sink consumes progress events. Implementations must not block.
type Sink interface {
	OnEvent(Event)
}

// Timings accumulates durations per stage.
type Timings struct {
	stages map[Stage]time.Duration
	counts map[Stage]int
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
		t.counts = make(map[Stage]int)
	}
}

// Add records one more completed stage.
func (t *Timings) Add(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] += dur
	t.counts[stage]++
}

// Duration returns the total recorded for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	return t.stages[stage]
}

// Count returns how many completions were recorded for stage.
func (t Timings) Count(stage Stage) int {
	return t.counts[stage]
}

// Mean returns the average duration of stage.
func (t Timings) Mean(stage Stage) time.Duration {
	n := t.counts[stage]
	if n == 0 {
		return 0
	}
	return t.stages[stage] / time.Duration(n)
}
