package geyser

import (
	"fmt"
)

// SlotStatus is the bank state a slot transitioned into.
type SlotStatus uint8

const (
	SlotProcessed SlotStatus = iota + 1
	SlotRooted
	SlotConfirmed
	SlotFirstShredReceived
	SlotCompleted
	SlotCreatedBank
	SlotDead
)

var slotStatusNames = map[SlotStatus]string{
	SlotProcessed:          "processed",
	SlotRooted:             "rooted",
	SlotConfirmed:          "confirmed",
	SlotFirstShredReceived: "first_shred_received",
	SlotCompleted:          "completed",
	SlotCreatedBank:        "created_bank",
	SlotDead:               "dead",
}

func (s SlotStatus) String() string {
	if name, ok := slotStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("slot_status(%d)", uint8(s))
}

// Valid reports whether s is a known status.
func (s SlotStatus) Valid() bool {
	_, ok := slotStatusNames[s]
	return ok
}

// ParseSlotStatus converts a status name to a SlotStatus.
func ParseSlotStatus(s string) (SlotStatus, error) {
	for st, name := range slotStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown slot status: %q", s)
}

func (s SlotStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown slot status: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *SlotStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSlotStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
