package progress

import (
	"slices"
	"sync"
)

// ChannelSink forwards events into a channel. Events are dropped when the
// channel is full so that producers never stall.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	select {
	case s.Ch <- evt:
	default:
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) OnEvent(Event) {}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) OnEvent(evt Event) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(evt)
		}
	}
}

// Collector keeps every event and the stage timings.
type Collector struct {
	mu      sync.Mutex
	events  []Event
	timings Timings
}

func (c *Collector) OnEvent(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	if evt.Status == StatusDone {
		c.timings.Add(evt.Stage, evt.Elapsed)
	}
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// Count returns how many events match stage and status.
func (c *Collector) Count(stage Stage, status Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.Stage == stage && evt.Status == status {
			n++
		}
	}
	return n
}

// Timings returns a snapshot of the accumulated stage timings.
func (c *Collector) Timings() Timings {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out Timings
	for stage, dur := range c.timings.stages {
		out.ensure()
		out.stages[stage] = dur
		out.counts[stage] = c.timings.counts[stage]
	}
	return out
}
