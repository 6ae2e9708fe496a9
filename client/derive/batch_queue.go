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

// NextBatchProvider is the stage below the batch queue: a source of decoded batches.
type NextBatchProvider interface {
	NextBatch(ctx context.Context) (Batch, error)
	Origin() eth.L1BlockRef
	FlushChannel()
}

// BatchQueue buffers batches, validates them against the safe head and the
// sequencing-window rules, expands span batches, and emits singular batches
// in order. When the sequencing window elapses with no valid batch, it
// synthesizes deposit-only batches.
type BatchQueue struct {
	log    log.Logger
	config *rollup.Config
	prev   NextBatchProvider
	origin eth.L1BlockRef

	// l1Blocks contains consecutive L1 origins starting at the parent's epoch.
	// Batches are validated against these.
	l1Blocks []eth.L1BlockRef

	// batches in order of when we've first seen them
	batches []*BatchWithL1InclusionBlock

	// nextSpan is cached singular batches derived from the span batch
	nextSpan []*SingularBatch

	l2 SafeBlockFetcher
}

func NewBatchQueue(log log.Logger, cfg *rollup.Config, prev NextBatchProvider, l2 SafeBlockFetcher) *BatchQueue {
	return &BatchQueue{
		log:    log,
		config: cfg,
		prev:   prev,
		l2:     l2,
	}
}

func (bq *BatchQueue) Origin() eth.L1BlockRef {
	return bq.prev.Origin()
}

// popNextBatch pops the next batch of the cached singular batches derived
// from the last processed span batch.
func (bq *BatchQueue) popNextBatch(parent eth.L2BlockRef) *SingularBatch {
	if len(bq.nextSpan) == 0 {
		panic("popping non-existent span batch, invalid state")
	}
	nextBatch := bq.nextSpan[0]
	bq.nextSpan = bq.nextSpan[1:]
	// The parent hash of the next batch is the hash of the block the previous
	// one produced, which only the caller knows; fill the expected value.
	nextBatch.ParentHash = parent.Hash
	return nextBatch
}

// NextBatch returns the next valid singular batch and whether it is the last
// of its span.
func (bq *BatchQueue) NextBatch(ctx context.Context, parent eth.L2BlockRef) (*SingularBatch, bool, error) {
	if len(bq.nextSpan) > 0 {
		if bq.nextSpan[0].Timestamp == parent.Time+bq.config.BlockTime {
			nextBatch := bq.popNextBatch(parent)
			return nextBatch, len(bq.nextSpan) == 0, nil
		}
		// Cached singular batches are no longer valid on top of this parent; drop them.
		bq.nextSpan = bq.nextSpan[:0]
	}

	// If the epoch is advanced, update bq.l1Blocks
	// Advancing epoch must be done after the pipeline successfully applied the entire span batch to the chain.
	if len(bq.l1Blocks) > 0 && parent.L1Origin.Number > bq.l1Blocks[0].Number {
		for i, l1Block := range bq.l1Blocks {
			if parent.L1Origin.Number == l1Block.Number {
				bq.l1Blocks = bq.l1Blocks[i:]
				bq.log.Debug("Advancing internal L1 blocks", "next_epoch", bq.l1Blocks[0].ID(), "next_epoch_time", bq.l1Blocks[0].Time)
				break
			}
		}
		// If the origin of the parent is not included, we must advance the origin.
	}

	// Note: >= origin-number check, so the pipeline does not stall on a reorg
	// to a shorter L1 chain while the safe head is ahead.
	originBehind := bq.origin.Number < parent.L1Origin.Number

	// Advance origin if needed.
	if bq.origin != bq.prev.Origin() {
		bq.origin = bq.prev.Origin()
		if !originBehind {
			bq.l1Blocks = append(bq.l1Blocks, bq.origin)
		} else {
			// This is to handle the special case of startup.
			// At startup, the batch queue is reset and includes the
			// l1 origin. That is the only time where immediately after
			// reset is called, the origin behind is false.
			bq.l1Blocks = bq.l1Blocks[:0]
		}
		bq.log.Info("Batch queue advanced", "origin", bq.origin)
	}

	// Load more data into the batch queue
	outOfData := false
	if batch, err := bq.prev.NextBatch(ctx); err == io.EOF {
		outOfData = true
	} else if err != nil {
		return nil, false, err
	} else if !originBehind {
		bq.AddBatch(ctx, batch, parent)
	}

	// Skip adding the data unless up to date with the origin, but still fully
	// empty the previous stages.
	if originBehind {
		if outOfData {
			return nil, false, io.EOF
		}
		return nil, false, NotEnoughData
	}

	// Finally attempt to derive more batches
	batch, err := bq.deriveNextBatch(ctx, outOfData, parent)
	if err == io.EOF && outOfData {
		return nil, false, io.EOF
	} else if err == io.EOF {
		return nil, false, NotEnoughData
	} else if err != nil {
		return nil, false, err
	}

	var nextBatch *SingularBatch
	switch typ := batch.(type) {
	case *SingularBatch:
		return typ, true, nil
	case *SpanBatch:
		singularBatches, err := bq.getSingularBatches(typ, parent)
		if err != nil {
			return nil, false, err
		}
		bq.nextSpan = singularBatches
		// span-batches are consumed via popping the cached singular batches.
		nextBatch = bq.popNextBatch(parent)
	default:
		return nil, false, NewCriticalError(fmt.Errorf("unrecognized batch type: %T", batch))
	}
	return nextBatch, len(bq.nextSpan) == 0, nil
}

// getSingularBatches converts the span batch elements after the parent block
// into singular batches, resolving each epoch hash from the tracked L1 blocks.
func (bq *BatchQueue) getSingularBatches(spanBatch *SpanBatch, parent eth.L2BlockRef) ([]*SingularBatch, error) {
	var singularBatches []*SingularBatch
	originIdx := 0
	for i := 0; i < spanBatch.GetBlockCount(); i++ {
		if spanBatch.GetBlockTimestamp(i) <= parent.Time {
			continue
		}
		epochNum := spanBatch.GetBlockEpochNum(i)
		var epoch eth.L1BlockRef
		found := false
		for j := originIdx; j < len(bq.l1Blocks); j++ {
			if bq.l1Blocks[j].Number == epochNum {
				epoch = bq.l1Blocks[j]
				originIdx = j
				found = true
				break
			}
		}
		if !found {
			return nil, NewCriticalError(fmt.Errorf("cannot find L1 origin %d for span batch block %d", epochNum, i))
		}
		singularBatches = append(singularBatches, &SingularBatch{
			EpochNum:     Epoch(epochNum),
			EpochHash:    epoch.Hash,
			Timestamp:    spanBatch.GetBlockTimestamp(i),
			Transactions: spanBatch.GetBlockTransactions(i),
		})
	}
	if len(singularBatches) == 0 {
		return nil, NewCriticalError(errors.New("span batch has no blocks after the safe head"))
	}
	return singularBatches, nil
}

// AddBatch buffers a freshly decoded batch with its L1 inclusion block.
func (bq *BatchQueue) AddBatch(ctx context.Context, batch Batch, parent eth.L2BlockRef) {
	if len(bq.l1Blocks) == 0 {
		panic(fmt.Errorf("cannot add batch with timestamp %d, no origin was prepared", batch.GetTimestamp()))
	}
	data := BatchWithL1InclusionBlock{
		L1InclusionBlock: bq.origin,
		Batch:            batch,
	}
	validity := CheckBatch(ctx, bq.config, bq.log, bq.l1Blocks, parent, &data, bq.l2)
	if validity == BatchDrop {
		// The batch is known invalid already; don't bother buffering it.
		batch.LogContext(bq.log).Warn("Dropping invalid batch on arrival")
		bq.flushIfHolocene()
		return
	}
	bq.batches = append(bq.batches, &data)
}

// deriveNextBatch finds the next batch to apply on top of the parent, or
// synthesizes a deposit-only batch when the sequencing window elapsed.
func (bq *BatchQueue) deriveNextBatch(ctx context.Context, outOfData bool, parent eth.L2BlockRef) (Batch, error) {
	if len(bq.l1Blocks) == 0 {
		return nil, NewCriticalError(errors.New("cannot derive next batch, no origin was prepared"))
	}
	epoch := bq.l1Blocks[0]
	if parent.L1Origin != epoch.ID() {
		return nil, NewResetError(fmt.Errorf("buffered L1 chain epoch %s in batch queue does not match safe head origin %s", epoch, parent.L1Origin))
	}

	nextTimestamp := parent.Time + bq.config.BlockTime

	var nextBatch *BatchWithL1InclusionBlock
	// Go over all batches, in the order they were added.
	var remaining []*BatchWithL1InclusionBlock
batchLoop:
	for i, batch := range bq.batches {
		validity := CheckBatch(ctx, bq.config, bq.log.New("batch_index", i), bq.l1Blocks, parent, batch, bq.l2)
		switch validity {
		case BatchFuture:
			remaining = append(remaining, batch)
			continue
		case BatchDrop:
			batch.LogContext(bq.log).Warn("Dropping batch",
				"parent", parent.ID(),
				"parent_time", parent.Time,
			)
			bq.flushIfHolocene()
			continue
		case BatchPast:
			batch.LogContext(bq.log).Warn("Dropping past batch with old timestamp", "parent", parent.ID())
			continue
		case BatchAccept:
			nextBatch = batch
			// Don't keep the current batch in the remaining items since we are processing it now,
			// but retain every batch we didn't get to yet.
			remaining = append(remaining, bq.batches[i+1:]...)
			break batchLoop
		case BatchUndecided:
			// Undecided means the batch may be valid, but we need to wait for more information.
			remaining = append(remaining, bq.batches[i:]...)
			bq.batches = remaining
			return nil, io.EOF
		default:
			return nil, NewCriticalError(fmt.Errorf("unknown batch validity type: %d", validity))
		}
	}
	bq.batches = remaining

	if nextBatch != nil {
		nextBatch.LogContext(bq.log).Info("Found next batch")
		return nextBatch.Batch, nil
	}

	// If the current epoch is too old compared to the L1 block we are at,
	// i.e. if the sequence window expired, we create empty batches for the current epoch.
	expiryEpoch := epoch.Number + bq.config.SeqWindowSize
	forceEmptyBatches := (expiryEpoch == bq.origin.Number && outOfData) || expiryEpoch < bq.origin.Number
	firstOfEpoch := epoch.Number == parent.L1Origin.Number+1

	if !forceEmptyBatches {
		// sequence window did not expire yet, still room to receive batches for the current epoch
		return nil, io.EOF
	}
	if len(bq.l1Blocks) < 2 {
		// need next L1 block to proceed towards
		return nil, io.EOF
	}

	nextEpoch := bq.l1Blocks[1]
	// Fill with empty L2 blocks of the same epoch until we meet the time of the next L1 origin,
	// to preserve that L2 time >= L1 time. If this is the first block of the epoch, always generate a
	// batch to ensure that we at least have one batch per epoch.
	if nextTimestamp < nextEpoch.Time || firstOfEpoch {
		bq.log.Info("Generating next batch", "epoch", epoch, "timestamp", nextTimestamp)
		return &SingularBatch{
			ParentHash:   parent.Hash,
			EpochNum:     Epoch(epoch.Number),
			EpochHash:    epoch.Hash,
			Timestamp:    nextTimestamp,
			Transactions: nil,
		}, nil
	}

	// At this point we have auto generated every batch for the current epoch
	// that we can, so we can advance to the next epoch.
	bq.log.Trace("Advancing internal L1 blocks", "next_timestamp", nextTimestamp, "next_epoch_time", nextEpoch.Time)
	bq.l1Blocks = bq.l1Blocks[1:]
	return nil, io.EOF
}

// flushIfHolocene drops the offending channel after an invalid batch, per the
// Holocene strict ordering rules.
func (bq *BatchQueue) flushIfHolocene() {
	if bq.config.IsHolocene(bq.origin.Time) {
		bq.prev.FlushChannel()
	}
}

// Reset empties the queue and starts tracking origins from the base.
func (bq *BatchQueue) Reset(base eth.L1BlockRef, _ eth.SystemConfig) error {
	// Copy over the Origin from the next stage.
	// It is set in the engine queue (two stages away),
	// such that the L2 safe head origin is the progress.
	bq.origin = base
	bq.batches = bq.batches[:0]
	// Include the new origin as an origin to build on.
	// Note: This is only for the initialization case.
	// During normal resets we will later throw out this block.
	bq.l1Blocks = bq.l1Blocks[:0]
	bq.l1Blocks = append(bq.l1Blocks, base)
	bq.nextSpan = bq.nextSpan[:0]
	return nil
}
