package processor

import (
	"fmt"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ExtractSlot normalizes a slot status transition. Slot notifications have
// a single wire shape, so only the status itself is validated.
func (n *Normalizer) ExtractSlot(slot uint64, parent *uint64, status geyser.SlotStatus, deadError string) (*protov1.SlotUpdate, error) {
	if !status.Valid() {
		return nil, &MalformedInputError{
			Kind:  geyser.KindSlotStatus,
			Field: "status",
			Err:   fmt.Errorf("unknown slot status %d", uint8(status)),
		}
	}
	if status != geyser.SlotDead {
		deadError = ""
	}

	rec := &protov1.SlotUpdate{
		SlotNumber: slot,
		Status:     status,
		DeadError:  deadError,
	}
	if parent != nil {
		p := *parent
		rec.Parent = &p
	}
	return rec, nil
}
