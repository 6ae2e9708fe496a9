package rollup

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
)

func validConfig() *Config {
	canyon := uint64(100)
	holocene := uint64(500)
	return &Config{
		Genesis: Genesis{
			L1:     eth.BlockID{Hash: common.Hash{0x01}, Number: 1000},
			L2:     eth.BlockID{Hash: common.Hash{0x02}, Number: 0},
			L2Time: 5000,
		},
		BlockTime:         2,
		MaxSequencerDrift: 600,
		SeqWindowSize:     3600,
		ChannelTimeout:    300,
		L1ChainID:         big.NewInt(1),
		L2ChainID:         big.NewInt(10),
		CanyonTime:        &canyon,
		HoloceneTime:      &holocene,
	}
}

func TestConfigCheck(t *testing.T) {
	require.NoError(t, validConfig().Check())

	cfg := validConfig()
	cfg.BlockTime = 0
	require.ErrorIs(t, cfg.Check(), ErrBlockTimeZero)

	cfg = validConfig()
	cfg.L2ChainID = nil
	require.ErrorIs(t, cfg.Check(), ErrMissingL2ChainID)

	cfg = validConfig()
	cfg.Genesis.L2.Hash = common.Hash{}
	require.ErrorIs(t, cfg.Check(), ErrMissingGenesis)
}

func TestForkActivations(t *testing.T) {
	cfg := validConfig()
	require.False(t, cfg.IsCanyon(99))
	require.True(t, cfg.IsCanyon(100), "activation is inclusive")
	require.True(t, cfg.IsCanyon(101))
	require.False(t, cfg.IsFjord(1000), "nil activation time means never active")
}

func TestActivationBlock(t *testing.T) {
	cfg := validConfig()
	require.True(t, cfg.IsHoloceneActivationBlock(500))
	require.True(t, cfg.IsHoloceneActivationBlock(501), "first block at or after the activation time")
	require.False(t, cfg.IsHoloceneActivationBlock(502))
	require.False(t, cfg.IsHoloceneActivationBlock(499))
}

func TestTargetBlockNumber(t *testing.T) {
	cfg := validConfig()

	num, err := cfg.TargetBlockNumber(5000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), num)

	num, err = cfg.TargetBlockNumber(5010)
	require.NoError(t, err)
	require.Equal(t, uint64(5), num)

	_, err = cfg.TargetBlockNumber(4999)
	require.ErrorIs(t, err, ErrFutureTimestamp)

	_, err = cfg.TargetBlockNumber(5001)
	require.ErrorIs(t, err, ErrMisalignedTimestamp)
}

func TestMaxSequencerDriftFjord(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, uint64(600), cfg.MaxSequencerDriftSeconds(50))
	fjord := uint64(200)
	cfg.FjordTime = &fjord
	require.Equal(t, uint64(1800), cfg.MaxSequencerDriftSeconds(200), "Fjord pins the drift to a constant")
}
