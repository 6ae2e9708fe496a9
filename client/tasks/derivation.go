package tasks

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/oplabs/fp-program/client/derive"
	"github.com/oplabs/fp-program/client/driver"
	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// DerivationResult is the output of a completed derivation run.
type DerivationResult struct {
	// Head is the highest L2 block that could be derived.
	Head eth.L2BlockRef
	// BlockHash is the hash of Head.
	BlockHash common.Hash
	// OutputRoot is the output root at Head.
	OutputRoot eth.Bytes32
}

// CacheFlusher mirrors derive.CacheFlusher for oracle caches.
type CacheFlusher = derive.CacheFlusher

// RunDerivation runs the whole derivation + execution loop for one chain:
// from the agreed output root towards the claimed block number, bounded by
// the L1 head. Used directly for single-chain proofs and once per chain-step
// for interop proofs.
func RunDerivation(
	logger log.Logger,
	cfg *rollup.Config,
	l2ChainCfg *params.ChainConfig,
	l1Head common.Hash,
	agreedOutputRoot common.Hash,
	claimedBlockNumber uint64,
	l1Oracle l1.Oracle,
	l2Oracle l2.Oracle,
	flushers ...CacheFlusher,
) (DerivationResult, error) {
	ctx := context.Background()

	backend, err := l2.NewOracleBackedL2Chain(logger, l2Oracle, l2ChainCfg, agreedOutputRoot, vm.Config{})
	if err != nil {
		return DerivationResult{}, fmt.Errorf("failed to create oracle-backed L2 chain: %w", err)
	}
	engine := l2.NewOracleEngine(logger, cfg, backend, l1Oracle)

	l1Client := l1.NewOracleL1Client(l1Oracle, l1Head)
	blobFetcher := l1.NewBlobFetcher(logger, l1Oracle)
	pipeline := derive.NewDerivationPipeline(logger, cfg, l1Client, blobFetcher, engine, flushers...)

	d := driver.NewDriver(logger, cfg, pipeline, engine, claimedBlockNumber)
	head, err := d.RunComplete(ctx)
	if err != nil {
		return DerivationResult{}, fmt.Errorf("failed to run program to completion: %w", err)
	}
	return loadOutputRoot(ctx, head, engine)
}

func loadOutputRoot(ctx context.Context, head eth.L2BlockRef, engine *l2.OracleEngine) (DerivationResult, error) {
	outputRoot, err := engine.L2OutputRoot(head.Number)
	if err != nil {
		return DerivationResult{}, fmt.Errorf("failed to calculate L2 output root: %w", err)
	}
	return DerivationResult{
		Head:       head,
		BlockHash:  head.Hash,
		OutputRoot: outputRoot,
	}, nil
}
