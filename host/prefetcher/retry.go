package prefetcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
)

const (
	maxAttempts = 3
	retryDelay  = 2 * time.Second
)

// retry runs the operation up to maxAttempts times with a fixed delay. The
// prefetcher runs outside the proof, so wall-clock waiting is fine here.
func retry[T any](ctx context.Context, logger log.Logger, op func() (T, error)) (T, error) {
	var result T
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying failed fetch", "attempt", attempt, "err", err)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		result, err = op()
		if err == nil {
			return result, nil
		}
	}
	return result, err
}

// RetryingL1Source wraps an L1Source with retries on transient failures.
type RetryingL1Source struct {
	logger log.Logger
	source L1Source
}

func NewRetryingL1Source(logger log.Logger, source L1Source) *RetryingL1Source {
	return &RetryingL1Source{logger: logger, source: source}
}

var _ L1Source = (*RetryingL1Source)(nil)

func (s *RetryingL1Source) InfoByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, error) {
	return retry(ctx, s.logger, func() (eth.BlockInfo, error) {
		return s.source.InfoByHash(ctx, blockHash)
	})
}

func (s *RetryingL1Source) InfoAndTxsByHash(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Transactions, error) {
	type infoAndTxs struct {
		info eth.BlockInfo
		txs  types.Transactions
	}
	result, err := retry(ctx, s.logger, func() (infoAndTxs, error) {
		info, txs, err := s.source.InfoAndTxsByHash(ctx, blockHash)
		return infoAndTxs{info, txs}, err
	})
	return result.info, result.txs, err
}

func (s *RetryingL1Source) FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error) {
	type infoAndReceipts struct {
		info     eth.BlockInfo
		receipts types.Receipts
	}
	result, err := retry(ctx, s.logger, func() (infoAndReceipts, error) {
		info, receipts, err := s.source.FetchReceipts(ctx, blockHash)
		return infoAndReceipts{info, receipts}, err
	})
	return result.info, result.receipts, err
}

// RetryingL1BlobSource wraps an L1BlobSource with retries.
type RetryingL1BlobSource struct {
	logger log.Logger
	source L1BlobSource
}

func NewRetryingL1BlobSource(logger log.Logger, source L1BlobSource) *RetryingL1BlobSource {
	return &RetryingL1BlobSource{logger: logger, source: source}
}

var _ L1BlobSource = (*RetryingL1BlobSource)(nil)

func (s *RetryingL1BlobSource) GetBlobSidecars(ctx context.Context, ref eth.L1BlockRef, hashes []eth.IndexedBlobHash) ([]*BlobSidecar, error) {
	return retry(ctx, s.logger, func() ([]*BlobSidecar, error) {
		return s.source.GetBlobSidecars(ctx, ref, hashes)
	})
}
