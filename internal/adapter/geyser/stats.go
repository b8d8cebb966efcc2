package geyser

import (
	"sync/atomic"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Stats is a snapshot of the plugin's counters.
type Stats struct {
	// Observed counts records extracted and handed to the pipeline, by kind.
	Observed map[string]uint64 `json:"observed"`
	// Skipped counts notifications for kinds whose capability is off.
	Skipped map[string]uint64 `json:"skipped"`
	// Fatal counts notifications rejected by the extractor, by kind.
	Fatal map[string]uint64 `json:"fatal"`

	Filtered   uint64 `json:"filtered"`
	SinkErrors uint64 `json:"sink_errors"`
	Dropped    uint64 `json:"dropped"`

	// Watermarks holds the highest slot seen at each commitment status.
	Watermarks map[string]uint64 `json:"watermarks"`
}

type kindCounter map[geyser.EventKind]*atomic.Uint64

func newKindCounter() kindCounter {
	c := make(kindCounter, len(geyser.AllKinds))
	for _, k := range geyser.AllKinds {
		c[k] = new(atomic.Uint64)
	}
	return c
}

func (c kindCounter) inc(kind geyser.EventKind) {
	if n, ok := c[kind]; ok {
		n.Add(1)
	}
}

func (c kindCounter) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(c))
	for k, n := range c {
		out[k.String()] = n.Load()
	}
	return out
}

// watermarks tracks the highest processed, confirmed and rooted slot.
// Slot notifications may arrive out of order; a mark never moves back.
type watermarks map[geyser.SlotStatus]*atomic.Uint64

func newWatermarks() watermarks {
	return watermarks{
		geyser.SlotProcessed: new(atomic.Uint64),
		geyser.SlotConfirmed: new(atomic.Uint64),
		geyser.SlotRooted:    new(atomic.Uint64),
	}
}

func (w watermarks) advance(status geyser.SlotStatus, slot uint64) {
	mark, ok := w[status]
	if !ok {
		return
	}
	for {
		cur := mark.Load()
		if slot <= cur || mark.CompareAndSwap(cur, slot) {
			return
		}
	}
}

func (w watermarks) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(w))
	for status, mark := range w {
		out[status.String()] = mark.Load()
	}
	return out
}

type counters struct {
	observed   kindCounter
	skipped    kindCounter
	fatal      kindCounter
	watermarks watermarks

	filtered   atomic.Uint64
	sinkErrors atomic.Uint64
	dropped    atomic.Uint64
}

func newCounters() *counters {
	return &counters{
		observed:   newKindCounter(),
		skipped:    newKindCounter(),
		fatal:      newKindCounter(),
		watermarks: newWatermarks(),
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Observed:   c.observed.snapshot(),
		Skipped:    c.skipped.snapshot(),
		Fatal:      c.fatal.snapshot(),
		Filtered:   c.filtered.Load(),
		SinkErrors: c.sinkErrors.Load(),
		Dropped:    c.dropped.Load(),
		Watermarks: c.watermarks.snapshot(),
	}
}
