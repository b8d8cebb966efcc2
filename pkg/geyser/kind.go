// Package geyser defines the payload shapes a validator host hands to a
// notification plugin. Every event kind is a closed union over the wire
// versions the host has shipped; versions are only ever appended.
package geyser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventKind identifies a notification category.
type EventKind int32

const (
	KindAccountUpdate EventKind = iota + 1
	KindSlotStatus
	KindTransaction
	KindEntry
	KindBlockMetadata
)

// AllKinds lists every event kind in a stable order.
var AllKinds = []EventKind{
	KindAccountUpdate,
	KindSlotStatus,
	KindTransaction,
	KindEntry,
	KindBlockMetadata,
}

var kindNames = map[EventKind]string{
	KindAccountUpdate: "account_update",
	KindSlotStatus:    "slot_status",
	KindTransaction:   "transaction",
	KindEntry:         "entry",
	KindBlockMetadata: "block_metadata",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event_kind(%d)", int32(k))
}

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseEventKind converts a kind name ("account_update", "entry", ...) to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind: %q", s)
}

func (k EventKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown event kind: %d", int32(k))
	}
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Version is the wire version discriminant of a payload.
type Version uint8

const (
	V0_0_1 Version = iota + 1
	V0_0_2
	V0_0_3
	V0_0_4
)

// ErrUnknownVersion is returned when a version tag is outside the union.
var ErrUnknownVersion = errors.New("unknown payload version")

func (v Version) String() string {
	return fmt.Sprintf("0.0.%d", uint8(v))
}

// ParseVersion accepts "0.0.N", "v0.0.N" or "N". Anything else, including
// trailing text after N, is an unknown version.
func ParseVersion(s string) (Version, error) {
	digits := strings.TrimPrefix(s, "v")
	if rest, ok := strings.CutPrefix(digits, "0.0."); ok {
		digits = rest
	} else if digits != s {
		return 0, fmt.Errorf("parse version %q: %w", s, ErrUnknownVersion)
	}
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("parse version %q: %w", s, ErrUnknownVersion)
	}
	n, err := strconv.ParseUint(digits, 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("parse version %q: %w", s, ErrUnknownVersion)
	}
	return Version(n), nil
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// LatestVersion returns the newest version the union knows for a kind.
func LatestVersion(kind EventKind) Version {
	switch kind {
	case KindAccountUpdate:
		return V0_0_3
	case KindTransaction:
		return V0_0_2
	case KindEntry:
		return V0_0_2
	case KindBlockMetadata:
		return V0_0_4
	default:
		return V0_0_1
	}
}
