package derive

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// AttributesWithParent pairs derived payload attributes with the L2 block
// they build on, and whether they complete a span.
type AttributesWithParent struct {
	Attributes   *eth.PayloadAttributes
	Parent       eth.L2BlockRef
	IsLastInSpan bool
}

// AttributesQueue transforms a batch into payload attributes:
//
// The batch includes the transaction list.
//
// The batch-queue provides the batch on top of the current safe head.
//
// The attributes queue determines the L1 deposits, and completes the attributes.
type AttributesQueue struct {
	log     log.Logger
	config  *rollup.Config
	builder AttributesBuilder
	prev    *BatchQueue

	batch        *SingularBatch
	isLastInSpan bool
}

func NewAttributesQueue(log log.Logger, cfg *rollup.Config, builder AttributesBuilder, prev *BatchQueue) *AttributesQueue {
	return &AttributesQueue{
		log:     log,
		config:  cfg,
		builder: builder,
		prev:    prev,
	}
}

func (aq *AttributesQueue) Origin() eth.L1BlockRef {
	return aq.prev.Origin()
}

func (aq *AttributesQueue) NextAttributes(ctx context.Context, parent eth.L2BlockRef) (*AttributesWithParent, error) {
	// Get a batch if we need it
	if aq.batch == nil {
		batch, isLastInSpan, err := aq.prev.NextBatch(ctx, parent)
		if err != nil {
			return nil, err
		}
		aq.batch, aq.isLastInSpan = batch, isLastInSpan
	}

	// Actually generate the next attributes
	if attrs, err := aq.createNextAttributes(ctx, aq.batch, parent); err != nil {
		return nil, err
	} else {
		// Clear out the local state once we will succeed
		attr := AttributesWithParent{
			Attributes:   attrs,
			Parent:       parent,
			IsLastInSpan: aq.isLastInSpan,
		}
		aq.batch = nil
		aq.isLastInSpan = false
		return &attr, nil
	}
}

// createNextAttributes transforms a batch into attributes by adding the
// deposits and the L1-info transaction.
func (aq *AttributesQueue) createNextAttributes(ctx context.Context, batch *SingularBatch, parent eth.L2BlockRef) (*eth.PayloadAttributes, error) {
	// sanity check parent hash
	if batch.ParentHash != parent.Hash {
		return nil, NewResetError(fmt.Errorf("valid batch has bad parent hash %s, expected %s", batch.ParentHash, parent.Hash))
	}
	// sanity check timestamp
	if expected := parent.Time + aq.config.BlockTime; expected != batch.Timestamp {
		return nil, NewResetError(fmt.Errorf("valid batch has bad timestamp %d, expected %d", batch.Timestamp, expected))
	}
	attrs, err := aq.builder.PreparePayloadAttributes(ctx, parent, eth.BlockID{Hash: batch.EpochHash, Number: uint64(batch.EpochNum)})
	if err != nil {
		return nil, err
	}

	// we are verifying, not sequencing, we've got all transactions and do not pull from the tx-pool
	// (that would make the block derivation non-deterministic)
	attrs.NoTxPool = true
	attrs.Transactions = append(attrs.Transactions, batch.Transactions...)

	aq.log.Info("Generated attributes", "num_txs", len(attrs.Transactions), "timestamp", batch.Timestamp)

	return attrs, nil
}

// Reset drops the buffered batch.
func (aq *AttributesQueue) Reset(base eth.L1BlockRef, _ eth.SystemConfig) error {
	aq.batch = nil
	aq.isLastInSpan = false
	return nil
}
