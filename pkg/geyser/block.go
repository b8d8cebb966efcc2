package geyser

import (
	"fmt"
)

// RewardType classifies a block reward.
type RewardType uint8

const (
	RewardFee RewardType = iota + 1
	RewardRent
	RewardStaking
	RewardVoting
)

var rewardTypeNames = map[RewardType]string{
	RewardFee:     "fee",
	RewardRent:    "rent",
	RewardStaking: "staking",
	RewardVoting:  "voting",
}

func (r RewardType) String() string {
	if name, ok := rewardTypeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reward_type(%d)", uint8(r))
}

func (r RewardType) MarshalText() ([]byte, error) {
	if _, ok := rewardTypeNames[r]; !ok {
		return nil, fmt.Errorf("unknown reward type: %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *RewardType) UnmarshalText(text []byte) error {
	for t, name := range rewardTypeNames {
		if name == string(text) {
			*r = t
			return nil
		}
	}
	return fmt.Errorf("unknown reward type: %q", string(text))
}

// Reward is a single reward credited in a block.
type Reward struct {
	Pubkey      string      `json:"pubkey"`
	Lamports    int64       `json:"lamports"`
	PostBalance uint64      `json:"post_balance"`
	RewardType  *RewardType `json:"reward_type,omitempty"`
	Commission  *uint8      `json:"commission,omitempty"`
}

// RewardsAndNumPartitions groups rewards with the partition count of
// partitioned epoch rewards.
type RewardsAndNumPartitions struct {
	Rewards       []Reward `json:"rewards"`
	NumPartitions *uint64  `json:"num_partitions,omitempty"`
}

// BlockPayload is the union of block-metadata wire versions.
type BlockPayload interface {
	Version() Version
	blockPayload()
}

// BlockInfoV1 is the original block metadata layout.
type BlockInfoV1 struct {
	Slot        uint64   `json:"slot"`
	Blockhash   string   `json:"blockhash"`
	Rewards     []Reward `json:"rewards"`
	BlockTime   *int64   `json:"block_time,omitempty"`
	BlockHeight *uint64  `json:"block_height,omitempty"`
}

// BlockInfoV2 adds the parent reference and executed transaction count.
type BlockInfoV2 struct {
	ParentSlot               uint64   `json:"parent_slot"`
	ParentBlockhash          string   `json:"parent_blockhash"`
	Slot                     uint64   `json:"slot"`
	Blockhash                string   `json:"blockhash"`
	Rewards                  []Reward `json:"rewards"`
	BlockTime                *int64   `json:"block_time,omitempty"`
	BlockHeight              *uint64  `json:"block_height,omitempty"`
	ExecutedTransactionCount uint64   `json:"executed_transaction_count"`
}

// BlockInfoV3 adds the entry count.
type BlockInfoV3 struct {
	ParentSlot               uint64   `json:"parent_slot"`
	ParentBlockhash          string   `json:"parent_blockhash"`
	Slot                     uint64   `json:"slot"`
	Blockhash                string   `json:"blockhash"`
	Rewards                  []Reward `json:"rewards"`
	BlockTime                *int64   `json:"block_time,omitempty"`
	BlockHeight              *uint64  `json:"block_height,omitempty"`
	ExecutedTransactionCount uint64   `json:"executed_transaction_count"`
	EntryCount               uint64   `json:"entry_count"`
}

// BlockInfoV4 carries rewards together with their partition count.
type BlockInfoV4 struct {
	ParentSlot               uint64                  `json:"parent_slot"`
	ParentBlockhash          string                  `json:"parent_blockhash"`
	Slot                     uint64                  `json:"slot"`
	Blockhash                string                  `json:"blockhash"`
	Rewards                  RewardsAndNumPartitions `json:"rewards"`
	BlockTime                *int64                  `json:"block_time,omitempty"`
	BlockHeight              *uint64                 `json:"block_height,omitempty"`
	ExecutedTransactionCount uint64                  `json:"executed_transaction_count"`
	EntryCount               uint64                  `json:"entry_count"`
}

func (BlockInfoV1) Version() Version { return V0_0_1 }
func (BlockInfoV2) Version() Version { return V0_0_2 }
func (BlockInfoV3) Version() Version { return V0_0_3 }
func (BlockInfoV4) Version() Version { return V0_0_4 }

func (BlockInfoV1) blockPayload() {}
func (BlockInfoV2) blockPayload() {}
func (BlockInfoV3) blockPayload() {}
func (BlockInfoV4) blockPayload() {}
