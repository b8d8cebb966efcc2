package geyser

// EntryPayload is the union of entry wire versions.
type EntryPayload interface {
	Version() Version
	entryPayload()
}

// EntryInfoV1 describes one PoH entry.
type EntryInfoV1 struct {
	Slot                     uint64 `json:"slot"`
	Index                    uint64 `json:"index"`
	NumHashes                uint64 `json:"num_hashes"`
	Hash                     []byte `json:"hash"`
	ExecutedTransactionCount uint64 `json:"executed_transaction_count"`
}

// EntryInfoV2 adds the index of the entry's first transaction within the slot.
type EntryInfoV2 struct {
	Slot                     uint64 `json:"slot"`
	Index                    uint64 `json:"index"`
	NumHashes                uint64 `json:"num_hashes"`
	Hash                     []byte `json:"hash"`
	ExecutedTransactionCount uint64 `json:"executed_transaction_count"`
	StartingTransactionIndex uint64 `json:"starting_transaction_index"`
}

func (EntryInfoV1) Version() Version { return V0_0_1 }
func (EntryInfoV2) Version() Version { return V0_0_2 }

func (EntryInfoV1) entryPayload() {}
func (EntryInfoV2) entryPayload() {}
