package rollup

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oplabs/fp-program/eth"
)

var (
	ErrMissingGenesis      = errors.New("missing genesis")
	ErrMissingL1ChainID    = errors.New("missing l1 chain ID")
	ErrMissingL2ChainID    = errors.New("missing l2 chain ID")
	ErrMissingBlockTime    = errors.New("missing block time")
	ErrMissingChannelTimeout = errors.New("missing channel timeout")
	ErrBlockTimeZero       = errors.New("block time cannot be zero")
	ErrFutureTimestamp     = errors.New("timestamp is before the rollup genesis")
	ErrMisalignedTimestamp = errors.New("timestamp is not aligned to the block time")
)

// Genesis anchors the rollup: the L1 block derivation starts from, the L2
// genesis block it corresponds to, and the initial system configuration.
type Genesis struct {
	// L1 is the first L1 block with derivation data for the rollup.
	L1 eth.BlockID `json:"l1"`
	// L2 is the L2 block the rollup starts from; no derivation before it.
	L2 eth.BlockID `json:"l2"`
	// L2Time is the timestamp of the L2 genesis block.
	L2Time uint64 `json:"l2_time"`
	// SystemConfig is the system configuration at genesis.
	SystemConfig eth.SystemConfig `json:"system_config"`
}

// Config is the rollup configuration: chain identity, timing parameters, and
// the hardfork activation schedule. Nil activation timestamps mean the fork
// never activates; zero means active since genesis.
type Config struct {
	Genesis Genesis `json:"genesis"`

	// BlockTime is the L2 block time in seconds.
	BlockTime uint64 `json:"block_time"`
	// MaxSequencerDrift is how far (seconds) an L2 timestamp may run ahead of
	// its L1 origin timestamp before only deposits and origin advancement are allowed.
	// With Fjord, this is a constant and the config value is ignored.
	MaxSequencerDrift uint64 `json:"max_sequencer_drift"`
	// SeqWindowSize is the number of L1 blocks in which batches for an epoch may land.
	SeqWindowSize uint64 `json:"seq_window_size"`
	// ChannelTimeout is the number of L1 blocks a channel frame stays valid for.
	ChannelTimeout uint64 `json:"channel_timeout"`

	L1ChainID *big.Int `json:"l1_chain_id"`
	L2ChainID *big.Int `json:"l2_chain_id"`

	RegolithTime *uint64 `json:"regolith_time,omitempty"`
	CanyonTime   *uint64 `json:"canyon_time,omitempty"`
	DeltaTime    *uint64 `json:"delta_time,omitempty"`
	EcotoneTime  *uint64 `json:"ecotone_time,omitempty"`
	FjordTime    *uint64 `json:"fjord_time,omitempty"`
	GraniteTime  *uint64 `json:"granite_time,omitempty"`
	HoloceneTime *uint64 `json:"holocene_time,omitempty"`
	IsthmusTime  *uint64 `json:"isthmus_time,omitempty"`
	InteropTime  *uint64 `json:"interop_time,omitempty"`

	// BatchInboxAddress is the L1 address batcher transactions are sent to.
	BatchInboxAddress common.Address `json:"batch_inbox_address"`
	// DepositContractAddress is the L1 portal emitting deposit events.
	DepositContractAddress common.Address `json:"deposit_contract_address"`
	// L1SystemConfigAddress is the L1 contract emitting system-config updates.
	L1SystemConfigAddress common.Address `json:"l1_system_config_address"`
}

func (c *Config) Check() error {
	if c.BlockTime == 0 {
		return ErrBlockTimeZero
	}
	if c.ChannelTimeout == 0 {
		return ErrMissingChannelTimeout
	}
	if c.L1ChainID == nil {
		return ErrMissingL1ChainID
	}
	if c.L2ChainID == nil {
		return ErrMissingL2ChainID
	}
	if c.Genesis.L1.Hash == (common.Hash{}) || c.Genesis.L2.Hash == (common.Hash{}) {
		return ErrMissingGenesis
	}
	return nil
}

func (c *Config) isTimestampFork(activation *uint64, timestamp uint64) bool {
	return activation != nil && timestamp >= *activation
}

func (c *Config) IsRegolith(timestamp uint64) bool { return c.isTimestampFork(c.RegolithTime, timestamp) }
func (c *Config) IsCanyon(timestamp uint64) bool   { return c.isTimestampFork(c.CanyonTime, timestamp) }
func (c *Config) IsDelta(timestamp uint64) bool    { return c.isTimestampFork(c.DeltaTime, timestamp) }
func (c *Config) IsEcotone(timestamp uint64) bool  { return c.isTimestampFork(c.EcotoneTime, timestamp) }
func (c *Config) IsFjord(timestamp uint64) bool    { return c.isTimestampFork(c.FjordTime, timestamp) }
func (c *Config) IsGranite(timestamp uint64) bool  { return c.isTimestampFork(c.GraniteTime, timestamp) }
func (c *Config) IsHolocene(timestamp uint64) bool { return c.isTimestampFork(c.HoloceneTime, timestamp) }
func (c *Config) IsIsthmus(timestamp uint64) bool  { return c.isTimestampFork(c.IsthmusTime, timestamp) }
func (c *Config) IsInterop(timestamp uint64) bool  { return c.isTimestampFork(c.InteropTime, timestamp) }

// IsEcotoneActivationBlock returns whether the given L2 block timestamp is the
// first Ecotone block, where the activation upgrade transactions apply.
func (c *Config) IsEcotoneActivationBlock(l2BlockTime uint64) bool {
	return c.IsEcotone(l2BlockTime) &&
		l2BlockTime >= c.BlockTime &&
		!c.IsEcotone(l2BlockTime-c.BlockTime)
}

// IsHoloceneActivationBlock returns whether the given L2 block timestamp is the
// first Holocene block. After deriving it, the driver resets the derivation
// pipeline while keeping its L1 anchor.
func (c *Config) IsHoloceneActivationBlock(l2BlockTime uint64) bool {
	return c.IsHolocene(l2BlockTime) &&
		l2BlockTime >= c.BlockTime &&
		!c.IsHolocene(l2BlockTime-c.BlockTime)
}

// MaxSequencerDriftSeconds is the sequencer drift bound at the given timestamp.
// Fjord pinned the drift to a protocol constant.
func (c *Config) MaxSequencerDriftSeconds(timestamp uint64) uint64 {
	if c.IsFjord(timestamp) {
		return maxSequencerDriftFjord
	}
	return c.MaxSequencerDrift
}

const maxSequencerDriftFjord = 1800

// TargetBlockNumber computes the L2 block number with the given timestamp.
func (c *Config) TargetBlockNumber(timestamp uint64) (uint64, error) {
	if timestamp < c.Genesis.L2Time {
		return 0, fmt.Errorf("%w: %d is before genesis time %d", ErrFutureTimestamp, timestamp, c.Genesis.L2Time)
	}
	wallClock := timestamp - c.Genesis.L2Time
	if wallClock%c.BlockTime != 0 {
		return 0, fmt.Errorf("%w: %d", ErrMisalignedTimestamp, timestamp)
	}
	return c.Genesis.L2.Number + wallClock/c.BlockTime, nil
}

// NextBlockTime returns the timestamp of the block after the given one.
func (c *Config) NextBlockTime(timestamp uint64) uint64 {
	return timestamp + c.BlockTime
}

// ParseRollupConfig decodes a JSON rollup config.
func ParseRollupConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rollup config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid rollup config: %w", err)
	}
	return &cfg, nil
}
