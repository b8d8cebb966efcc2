// Package processor turns versioned host payloads into canonical records.
//
// Every extractor enumerates the payload versions it understands and fails
// closed on anything else. Which of the understood versions are still
// accepted is decided by a VersionPolicy, so retiring an old wire shape is a
// configuration change rather than a code change.
package processor

import (
	"fmt"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// VersionPolicy holds the minimum accepted payload version per event kind.
// Versions below the floor are retired; versions above the newest one the
// union knows are unknown.
type VersionPolicy struct {
	floors map[geyser.EventKind]geyser.Version
}

// DefaultVersionPolicy accepts the newest account, transaction and block
// shapes and every entry shape.
func DefaultVersionPolicy() VersionPolicy {
	return VersionPolicy{
		floors: map[geyser.EventKind]geyser.Version{
			geyser.KindAccountUpdate: geyser.V0_0_3,
			geyser.KindSlotStatus:    geyser.V0_0_1,
			geyser.KindTransaction:   geyser.V0_0_2,
			geyser.KindEntry:         geyser.V0_0_1,
			geyser.KindBlockMetadata: geyser.V0_0_3,
		},
	}
}

// PermissiveVersionPolicy accepts every version the union knows.
func PermissiveVersionPolicy() VersionPolicy {
	floors := make(map[geyser.EventKind]geyser.Version, len(geyser.AllKinds))
	for _, k := range geyser.AllKinds {
		floors[k] = geyser.V0_0_1
	}
	return VersionPolicy{floors: floors}
}

// WithFloor returns a copy of p with the floor for kind replaced.
func (p VersionPolicy) WithFloor(kind geyser.EventKind, v geyser.Version) (VersionPolicy, error) {
	if !kind.Valid() {
		return p, fmt.Errorf("unknown event kind: %d", int32(kind))
	}
	if v == 0 || v > geyser.LatestVersion(kind) {
		return p, fmt.Errorf("floor %s for %s: %w", v, kind, geyser.ErrUnknownVersion)
	}

	floors := make(map[geyser.EventKind]geyser.Version, len(p.floors)+1)
	for k, f := range p.floors {
		floors[k] = f
	}
	floors[kind] = v
	return VersionPolicy{floors: floors}, nil
}

// Floor returns the minimum accepted version for kind.
func (p VersionPolicy) Floor(kind geyser.EventKind) geyser.Version {
	if f, ok := p.floors[kind]; ok {
		return f
	}
	return geyser.V0_0_1
}

// Check fails with an UnsupportedVersionError if v is not accepted for kind.
func (p VersionPolicy) Check(kind geyser.EventKind, v geyser.Version) error {
	if v == 0 || v > geyser.LatestVersion(kind) {
		return &UnsupportedVersionError{Kind: kind, Version: v}
	}
	if v < p.Floor(kind) {
		return &UnsupportedVersionError{Kind: kind, Version: v, Retired: true}
	}
	return nil
}

// Normalizer holds the extractors for every event kind. It is stateless
// apart from its policy and safe for concurrent use.
type Normalizer struct {
	policy VersionPolicy
}

// NewNormalizer creates a Normalizer enforcing policy.
func NewNormalizer(policy VersionPolicy) *Normalizer {
	if policy.floors == nil {
		policy = DefaultVersionPolicy()
	}
	return &Normalizer{policy: policy}
}

// Policy returns the version policy in force.
func (n *Normalizer) Policy() VersionPolicy {
	return n.policy
}
