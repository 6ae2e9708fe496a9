package derive

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// L1BlobsFetcher fetches blobs by versioned hash.
type L1BlobsFetcher interface {
	GetBlobs(ctx context.Context, ref eth.L1BlockRef, hashes []eth.IndexedBlobHash) ([]*eth.Blob, error)
}

// DataSourceFactory reads raw transactions from a given block & then filters for
// batch-submitter transactions, yielding calldata before Ecotone and blob data after.
type DataSourceFactory struct {
	log          log.Logger
	dsCfg        DataSourceConfig
	fetcher      L1Fetcher
	blobsFetcher L1BlobsFetcher
	ecotone      func(t uint64) bool
}

func NewDataSourceFactory(log log.Logger, cfg *rollup.Config, fetcher L1Fetcher, blobsFetcher L1BlobsFetcher) *DataSourceFactory {
	return &DataSourceFactory{
		log: log,
		dsCfg: DataSourceConfig{
			l1Signer:          types.LatestSignerForChainID(cfg.L1ChainID),
			batchInboxAddress: cfg.BatchInboxAddress,
		},
		fetcher:      fetcher,
		blobsFetcher: blobsFetcher,
		ecotone:      cfg.IsEcotone,
	}
}

// DataSourceConfig regulates the batcher transaction filter.
type DataSourceConfig struct {
	l1Signer          types.Signer
	batchInboxAddress common.Address
}

// OpenData returns the identified data-availability source for the L1 block.
func (ds *DataSourceFactory) OpenData(ctx context.Context, ref eth.L1BlockRef, batcherAddr common.Address) (DataIter, error) {
	if ds.ecotone(ref.Time) {
		if ds.blobsFetcher == nil {
			return nil, fmt.Errorf("ecotone upgrade active but beacon endpoint not configured")
		}
		return NewBlobDataSource(ctx, ds.log, ds.dsCfg, ds.fetcher, ds.blobsFetcher, ref, batcherAddr), nil
	}
	return NewCalldataSource(ctx, ds.log, ds.dsCfg, ds.fetcher, ref, batcherAddr), nil
}

// CalldataSource is the pre-Ecotone source: batcher transaction calldata.
type CalldataSource struct {
	// Internal state + data
	open bool
	data []eth.Data
	// Required to re-attempt fetching
	ref     eth.L1BlockRef
	dsCfg   DataSourceConfig
	fetcher L1Fetcher
	log     log.Logger

	batcherAddr common.Address
}

// NewCalldataSource creates a new calldata source. It suppresses errors in
// fetching the L1 block if they occur: it will return a temporary error on Next.
func NewCalldataSource(ctx context.Context, log log.Logger, dsCfg DataSourceConfig, fetcher L1Fetcher, ref eth.L1BlockRef, batcherAddr common.Address) DataIter {
	src := &CalldataSource{
		open:        false,
		ref:         ref,
		dsCfg:       dsCfg,
		fetcher:     fetcher,
		log:         log.New("origin", ref),
		batcherAddr: batcherAddr,
	}
	if _, txs, err := fetcher.InfoAndTxsByHash(ctx, ref.Hash); err == nil {
		src.open = true
		src.data = DataFromEVMTransactions(dsCfg, batcherAddr, txs, src.log)
	}
	return src
}

// Next returns the next piece of batcher data, or io.EOF when exhausted.
func (ds *CalldataSource) Next(ctx context.Context) (eth.Data, error) {
	if !ds.open {
		if _, txs, err := ds.fetcher.InfoAndTxsByHash(ctx, ds.ref.Hash); err == nil {
			ds.open = true
			ds.data = DataFromEVMTransactions(ds.dsCfg, ds.batcherAddr, txs, ds.log)
		} else {
			return nil, NewTemporaryError(fmt.Errorf("failed to open calldata source: %w", err))
		}
	}
	if len(ds.data) == 0 {
		return nil, io.EOF
	}
	data := ds.data[0]
	ds.data = ds.data[1:]
	return data, nil
}

// DataFromEVMTransactions filters all of the transactions and returns the
// calldata from transactions that are sent to the batch inbox address from the
// batch sender address.
func DataFromEVMTransactions(dsCfg DataSourceConfig, batcherAddr common.Address, txs types.Transactions, log log.Logger) []eth.Data {
	out := []eth.Data{}
	for _, tx := range txs {
		if isValidBatchTx(tx, dsCfg.l1Signer, dsCfg.batchInboxAddress, batcherAddr, log) {
			out = append(out, tx.Data())
		}
	}
	return out
}

// isValidBatchTx returns true if:
//  1. the transaction is sent to the batch inbox address
//  2. the transaction sender recovers to the batcher address
func isValidBatchTx(tx *types.Transaction, l1Signer types.Signer, batchInboxAddr, batcherAddr common.Address, log log.Logger) bool {
	to := tx.To()
	if to == nil || *to != batchInboxAddr {
		return false
	}
	seqDataSubmitter, err := l1Signer.Sender(tx)
	if err != nil {
		log.Warn("Tx in inbox with invalid signature", "hash", tx.Hash(), "err", err)
		return false
	}
	// The sender of the batcher tx is recovered natively: derivation happens
	// before any EVM context exists, so there is no precompile to lean on.
	if seqDataSubmitter != batcherAddr {
		log.Warn("Tx in inbox with unauthorized submitter", "addr", seqDataSubmitter, "hash", tx.Hash())
		return false
	}
	return true
}
