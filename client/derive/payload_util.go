package derive

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// L2BlockToBlockRef extracts the essential L2BlockRef information from an L2
// block, falling back to genesis information if necessary.
func L2BlockToBlockRef(rollupCfg *rollup.Config, block *types.Block) (eth.L2BlockRef, error) {
	var l1Origin eth.BlockID
	var sequenceNumber uint64
	if block.NumberU64() == rollupCfg.Genesis.L2.Number {
		if block.Hash() != rollupCfg.Genesis.L2.Hash {
			return eth.L2BlockRef{}, fmt.Errorf("expected L2 genesis hash to match L2 block at genesis block number %d: %s <> %s", rollupCfg.Genesis.L2.Number, block.Hash(), rollupCfg.Genesis.L2.Hash)
		}
		l1Origin = rollupCfg.Genesis.L1
		sequenceNumber = 0
	} else {
		txs := block.Transactions()
		if len(txs) == 0 {
			return eth.L2BlockRef{}, fmt.Errorf("l2 block is missing L1 info deposit tx, block hash: %s", block.Hash())
		}
		tx := txs[0]
		if tx.Type() != types.DepositTxType {
			return eth.L2BlockRef{}, fmt.Errorf("first payload tx has unexpected tx type: %d", tx.Type())
		}
		info, err := L1BlockInfoFromBytes(rollupCfg, block.Time(), tx.Data())
		if err != nil {
			return eth.L2BlockRef{}, fmt.Errorf("failed to parse L1 info deposit tx from L2 block: %w", err)
		}
		l1Origin = eth.BlockID{Hash: info.BlockHash, Number: info.Number}
		sequenceNumber = info.SequenceNumber
	}

	return eth.L2BlockRef{
		Hash:           block.Hash(),
		Number:         block.NumberU64(),
		ParentHash:     block.ParentHash(),
		Time:           block.Time(),
		L1Origin:       l1Origin,
		SequenceNumber: sequenceNumber,
	}, nil
}

// SystemConfigFromL2Block reconstructs the system configuration that produced
// the given L2 block, from its L1-info deposit and header.
func SystemConfigFromL2Block(rollupCfg *rollup.Config, block *types.Block) (eth.SystemConfig, error) {
	if block.NumberU64() == rollupCfg.Genesis.L2.Number {
		if block.Hash() != rollupCfg.Genesis.L2.Hash {
			return eth.SystemConfig{}, fmt.Errorf("expected L2 genesis hash to match L2 block at genesis block number %d: %s <> %s", rollupCfg.Genesis.L2.Number, block.Hash(), rollupCfg.Genesis.L2.Hash)
		}
		return rollupCfg.Genesis.SystemConfig, nil
	}
	txs := block.Transactions()
	if len(txs) == 0 {
		return eth.SystemConfig{}, fmt.Errorf("l2 block is missing L1 info deposit tx, block hash: %s", block.Hash())
	}
	tx := txs[0]
	if tx.Type() != types.DepositTxType {
		return eth.SystemConfig{}, fmt.Errorf("first payload tx has unexpected tx type: %d", tx.Type())
	}
	info, err := L1BlockInfoFromBytes(rollupCfg, block.Time(), tx.Data())
	if err != nil {
		return eth.SystemConfig{}, fmt.Errorf("failed to parse L1 info deposit tx from L2 block: %w", err)
	}

	cfg := eth.SystemConfig{
		BatcherAddr: info.BatcherAddr,
		GasLimit:    block.GasLimit(),
	}
	if isEcotoneButNotFirstBlock(rollupCfg, block.Time()) {
		// Repack the scalars into the versioned encoding.
		cfg.Scalar[0] = 1
		binary.BigEndian.PutUint32(cfg.Scalar[24:28], info.BlobBaseFeeScalar)
		binary.BigEndian.PutUint32(cfg.Scalar[28:32], info.BaseFeeScalar)
	} else {
		cfg.Overhead = info.L1FeeOverhead
		cfg.Scalar = info.L1FeeScalar
	}
	return cfg, nil
}
