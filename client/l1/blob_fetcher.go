package l1

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
)

// BlobFetcher fetches blobs through the oracle, one versioned hash at a time.
type BlobFetcher struct {
	logger log.Logger
	oracle Oracle
}

func NewBlobFetcher(logger log.Logger, oracle Oracle) *BlobFetcher {
	return &BlobFetcher{
		logger: logger,
		oracle: oracle,
	}
}

// GetBlobs fetches the blobs with the given hashes, anchored at the given block.
func (b *BlobFetcher) GetBlobs(ctx context.Context, ref eth.L1BlockRef, hashes []eth.IndexedBlobHash) ([]*eth.Blob, error) {
	blobs := make([]*eth.Blob, len(hashes))
	for i := 0; i < len(hashes); i++ {
		b.logger.Info("Fetching blob", "l1_ref", ref.Hash, "blob_versioned_hash", hashes[i].Hash, "index", hashes[i].Index)
		blobs[i] = b.oracle.GetBlob(ref, hashes[i])
	}
	return blobs, nil
}
