package l2

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/oplabs/fp-program/client/derive"
	"github.com/oplabs/fp-program/eth"
)

// The derivation pipeline reads back safe-chain blocks and system configs
// through these lookups.

func (e *OracleEngine) L2BlockRefByHash(ctx context.Context, hash common.Hash) (eth.L2BlockRef, error) {
	block := e.backend.GetBlockByHash(hash)
	if block == nil {
		return eth.L2BlockRef{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return derive.L2BlockToBlockRef(e.rollupCfg, block)
}

func (e *OracleEngine) L2BlockRefByNumber(ctx context.Context, number uint64) (eth.L2BlockRef, error) {
	block, err := e.BlockByNumber(ctx, number)
	if err != nil {
		return eth.L2BlockRef{}, err
	}
	return derive.L2BlockToBlockRef(e.rollupCfg, block)
}

func (e *OracleEngine) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	header := e.backend.GetHeaderByNumber(number)
	if header == nil {
		return nil, fmt.Errorf("%w: number %d", ErrBlockNotFound, number)
	}
	block := e.backend.GetBlockByHash(header.Hash())
	if block == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, header.Hash())
	}
	return block, nil
}

func (e *OracleEngine) SystemConfigByL2Hash(ctx context.Context, hash common.Hash) (eth.SystemConfig, error) {
	block := e.backend.GetBlockByHash(hash)
	if block == nil {
		return eth.SystemConfig{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return derive.SystemConfigFromL2Block(e.rollupCfg, block)
}

// SafeHead is the L2 block reference of the current chain head.
func (e *OracleEngine) SafeHead(ctx context.Context) (eth.L2BlockRef, error) {
	return e.L2BlockRefByHash(ctx, e.backend.CurrentHeader().Hash())
}
