package derive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// CacheFlusher empties caches that may hold stale chain data across a reset.
type CacheFlusher interface {
	Flush()
}

// L2ForPipeline is the L2 access the pipeline itself needs: reconstructing
// system configs and safe-chain blocks for span-batch checks.
type L2ForPipeline interface {
	SystemConfigL2Fetcher
	SafeBlockFetcher
}

// DerivationPipeline is the composed stage stack:
//
//	L1Traversal -> L1Retrieval -> FrameQueue -> ChannelBank -> ChannelInReader -> BatchQueue -> AttributesQueue
//
// Each stage owns its predecessor; the pipeline pulls from the top.
type DerivationPipeline struct {
	log       log.Logger
	rollupCfg *rollup.Config
	l1Fetcher L1Fetcher
	l2        L2ForPipeline
	flushers  []CacheFlusher

	// Stages, in data-flow order.
	traversal *L1Traversal
	attrib    *AttributesQueue

	// resettable stages from attrib down to retrieval; traversal is reset
	// separately, last
	stages []interface {
		Reset(base eth.L1BlockRef, sysCfg eth.SystemConfig) error
	}

	bank   *ChannelBank
	reader *ChannelInReader
}

func NewDerivationPipeline(logger log.Logger, rollupCfg *rollup.Config, l1Fetcher L1Fetcher, blobsFetcher L1BlobsFetcher, l2 L2ForPipeline, flushers ...CacheFlusher) *DerivationPipeline {
	traversal := NewL1Traversal(logger, rollupCfg, l1Fetcher)
	dataSrc := NewDataSourceFactory(logger, rollupCfg, l1Fetcher, blobsFetcher)
	retrieval := NewL1Retrieval(logger, dataSrc, traversal)
	frameQueue := NewFrameQueue(logger, rollupCfg, retrieval)
	bank := NewChannelBank(logger, rollupCfg, frameQueue)
	reader := NewChannelInReader(logger, rollupCfg, bank)
	batchQueue := NewBatchQueue(logger, rollupCfg, reader, l2)
	attributesBuilder := NewFetchingAttributesBuilder(rollupCfg, l1Fetcher, l2)
	attribQueue := NewAttributesQueue(logger, rollupCfg, attributesBuilder, batchQueue)

	dp := &DerivationPipeline{
		log:       logger,
		rollupCfg: rollupCfg,
		l1Fetcher: l1Fetcher,
		l2:        l2,
		flushers:  flushers,
		traversal: traversal,
		attrib:    attribQueue,
		bank:      bank,
		reader:    reader,
	}
	dp.stages = []interface {
		Reset(base eth.L1BlockRef, sysCfg eth.SystemConfig) error
	}{
		// Reset from the top down, so stages drop buffered data before their
		// source rewinds.
		attribQueue, batchQueue, reader, bank, frameQueue, retrieval,
	}
	return dp
}

// Origin is the L1 block the pipeline is currently deriving from.
func (dp *DerivationPipeline) Origin() eth.L1BlockRef {
	return dp.traversal.Origin()
}

// Step attempts to derive the next payload attributes on top of the L2 safe
// head. It returns:
//   - attributes, when a full batch was derived
//   - NotEnoughData, when internal progress was made but no attributes yet
//   - io.EOF, when the L1 head is fully consumed
//   - a leveled derivation error otherwise
func (dp *DerivationPipeline) Step(ctx context.Context, l2SafeHead eth.L2BlockRef) (*AttributesWithParent, error) {
	attrs, err := dp.attrib.NextAttributes(ctx, l2SafeHead)
	if err == nil {
		return attrs, nil
	}
	if errors.Is(err, io.EOF) {
		// All data of the current origin was consumed: advance the origin.
		if err := dp.traversal.AdvanceL1Block(ctx); errors.Is(err, io.EOF) {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}
		dp.log.Debug("Advanced L1 origin", "origin", dp.traversal.Origin())
		return nil, NotEnoughData
	}
	return nil, err
}

// Reset rebuilds the pipeline from a prior L1 origin: the safe head's origin
// rewound by the channel timeout (not rewound when keepAnchor is set),
// bounded by the rollup genesis. The caches
// are flushed so no pre-reorg data survives.
func (dp *DerivationPipeline) Reset(ctx context.Context, l2SafeHead eth.L2BlockRef, sysCfg eth.SystemConfig, keepAnchor bool) error {
	baseNumber := l2SafeHead.L1Origin.Number
	if !keepAnchor {
		if baseNumber > dp.rollupCfg.ChannelTimeout {
			baseNumber -= dp.rollupCfg.ChannelTimeout
		} else {
			baseNumber = 0
		}
	}
	if baseNumber < dp.rollupCfg.Genesis.L1.Number {
		baseNumber = dp.rollupCfg.Genesis.L1.Number
	}
	base, err := dp.l1Fetcher.L1BlockRefByNumber(ctx, baseNumber)
	if err != nil {
		return NewTemporaryError(fmt.Errorf("failed to fetch reset base L1 block %d: %w", baseNumber, err))
	}

	for _, flusher := range dp.flushers {
		flusher.Flush()
	}
	for _, stage := range dp.stages {
		if err := stage.Reset(base, sysCfg); err != nil {
			return err
		}
	}
	if err := dp.traversal.Reset(base, sysCfg); err != nil {
		return err
	}
	dp.log.Info("Reset derivation pipeline", "base", base, "keep_anchor", keepAnchor)
	return nil
}
