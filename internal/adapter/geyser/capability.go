package geyser

import (
	"github.com/marko911/pulse-geyser/internal/config"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// CapabilitySet records which event kinds the plugin wants. It is computed
// once at load and never changes afterwards, so a host may cache answers.
type CapabilitySet struct {
	enabled map[geyser.EventKind]bool
}

// NewCapabilitySet builds the set from the notifications section.
func NewCapabilitySet(n config.NotificationsConfig) CapabilitySet {
	enabled := make(map[geyser.EventKind]bool, len(geyser.AllKinds))
	for _, k := range geyser.AllKinds {
		enabled[k] = n.Enabled(k)
	}
	return CapabilitySet{enabled: enabled}
}

// Enabled reports whether kind is wanted. Unknown kinds and the zero set
// report false.
func (c CapabilitySet) Enabled(kind geyser.EventKind) bool {
	return c.enabled[kind]
}

// Kinds returns the enabled kinds in stable order.
func (c CapabilitySet) Kinds() []geyser.EventKind {
	var kinds []geyser.EventKind
	for _, k := range geyser.AllKinds {
		if c.enabled[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
