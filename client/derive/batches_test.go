package derive

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

func validityTestConfig() *rollup.Config {
	return &rollup.Config{
		BlockTime:         2,
		MaxSequencerDrift: 600,
		SeqWindowSize:     100,
		ChannelTimeout:    10,
	}
}

func TestCheckSingularBatch(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	cfg := validityTestConfig()

	epoch := eth.L1BlockRef{Hash: common.Hash{0xe0}, Number: 20, Time: 1000}
	nextEpoch := eth.L1BlockRef{Hash: common.Hash{0xe1}, Number: 21, ParentHash: epoch.Hash, Time: 1012}
	l1Blocks := []eth.L1BlockRef{epoch, nextEpoch}
	safeHead := eth.L2BlockRef{
		Hash:     common.Hash{0x55},
		Number:   40,
		Time:     1040,
		L1Origin: epoch.ID(),
	}
	inclusion := eth.L1BlockRef{Number: 25, Time: 1010}

	base := func() *SingularBatch {
		return &SingularBatch{
			ParentHash: safeHead.Hash,
			EpochNum:   Epoch(epoch.Number),
			EpochHash:  epoch.Hash,
			Timestamp:  safeHead.Time + cfg.BlockTime,
		}
	}
	check := func(batch *SingularBatch) BatchValidity {
		withInclusion := &BatchWithL1InclusionBlock{Batch: batch, L1InclusionBlock: inclusion}
		return CheckBatch(context.Background(), cfg, logger, l1Blocks, safeHead, withInclusion, nil)
	}

	t.Run("accept valid", func(t *testing.T) {
		require.Equal(t, BatchAccept, check(base()))
	})
	t.Run("future timestamp", func(t *testing.T) {
		batch := base()
		batch.Timestamp += cfg.BlockTime
		require.Equal(t, BatchFuture, check(batch))
	})
	t.Run("old timestamp", func(t *testing.T) {
		batch := base()
		batch.Timestamp -= cfg.BlockTime
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("misaligned timestamp", func(t *testing.T) {
		batch := base()
		batch.Timestamp += 1
		require.Equal(t, BatchFuture, check(batch))
	})
	t.Run("wrong parent hash", func(t *testing.T) {
		batch := base()
		batch.ParentHash = common.Hash{0xde, 0xad}
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("wrong epoch hash", func(t *testing.T) {
		batch := base()
		batch.EpochHash = common.Hash{0xba, 0xad}
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("epoch too old", func(t *testing.T) {
		batch := base()
		batch.EpochNum--
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("epoch too far ahead", func(t *testing.T) {
		batch := base()
		batch.EpochNum += 2
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("sequence window expired", func(t *testing.T) {
		batch := base()
		expiredInclusion := &BatchWithL1InclusionBlock{
			Batch:            batch,
			L1InclusionBlock: eth.L1BlockRef{Number: epoch.Number + cfg.SeqWindowSize + 1},
		}
		require.Equal(t, BatchDrop, CheckBatch(context.Background(), cfg, logger, l1Blocks, safeHead, expiredInclusion, nil))
	})
	t.Run("deposit tx in batch", func(t *testing.T) {
		batch := base()
		batch.Transactions = []hexutil.Bytes{{types.DepositTxType, 0x01}}
		require.Equal(t, BatchDrop, check(batch))
	})
	t.Run("empty tx bytes", func(t *testing.T) {
		batch := base()
		batch.Transactions = []hexutil.Bytes{{}}
		require.Equal(t, BatchDrop, check(batch))
	})
}
