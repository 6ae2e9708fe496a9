package derive

import (
	"context"
	"errors"
	"fmt"
	"io"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// L1Fetcher is the L1 chain access the pipeline needs.
type L1Fetcher interface {
	L1BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.L1BlockRef, error)
	L1BlockRefByNumber(ctx context.Context, number uint64) (eth.L1BlockRef, error)
	L1BlockRefByHash(ctx context.Context, hash common.Hash) (eth.L1BlockRef, error)
	InfoByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, error)
	InfoAndTxsByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, types.Transactions, error)
	FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error)
}

// L1Traversal tracks the current L1 origin and walks forward one block at a
// time on request, detecting reorgs via the parent-hash chain.
type L1Traversal struct {
	log      log.Logger
	cfg      *rollup.Config
	l1Blocks L1Fetcher

	block eth.L1BlockRef
	done  bool

	sysCfg eth.SystemConfig
}

func NewL1Traversal(log log.Logger, cfg *rollup.Config, l1Blocks L1Fetcher) *L1Traversal {
	return &L1Traversal{
		log:      log,
		cfg:      cfg,
		l1Blocks: l1Blocks,
	}
}

func (l1t *L1Traversal) Origin() eth.L1BlockRef {
	return l1t.block
}

// NextL1Block returns the next L1 block to process, or io.EOF when the
// current block was already consumed and the origin must advance first.
func (l1t *L1Traversal) NextL1Block(_ context.Context) (eth.L1BlockRef, error) {
	if !l1t.done {
		l1t.done = true
		return l1t.block, nil
	}
	return eth.L1BlockRef{}, io.EOF
}

// AdvanceL1Block advances to the next canonical L1 block, folding any
// system-config updates in its receipts into the tracked config.
func (l1t *L1Traversal) AdvanceL1Block(ctx context.Context) error {
	origin := l1t.block
	nextL1Origin, err := l1t.l1Blocks.L1BlockRefByNumber(ctx, origin.Number+1)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			l1t.log.Debug("Can't find next L1 block, the L1 head is reached", "origin", origin)
			return io.EOF
		}
		return NewTemporaryError(fmt.Errorf("failed to find L1 block info by number, at origin %s next %d: %w", origin, origin.Number+1, err))
	}
	if l1t.block.Hash != nextL1Origin.ParentHash {
		return NewResetError(fmt.Errorf("detected L1 reorg from %s to %s with conflicting parent %s", l1t.block, nextL1Origin, nextL1Origin.ParentID()))
	}

	// Parse L1 receipts of the entered block for system-config updates.
	_, receipts, err := l1t.l1Blocks.FetchReceipts(ctx, nextL1Origin.Hash)
	if err != nil {
		return NewTemporaryError(fmt.Errorf("failed to fetch receipts of L1 block %s for system config update: %w", nextL1Origin, err))
	}
	if err := UpdateSystemConfigWithL1Receipts(&l1t.sysCfg, receipts, l1t.cfg, nextL1Origin.Time); err != nil {
		// The system config should always be valid on L1; a parsing failure is a critical error.
		return NewCriticalError(fmt.Errorf("failed to update system config with L1 receipts of block %s: %w", nextL1Origin, err))
	}

	l1t.block = nextL1Origin
	l1t.done = false
	return nil
}

// SystemConfig returns the system config at the current L1 origin.
func (l1t *L1Traversal) SystemConfig() eth.SystemConfig {
	return l1t.sysCfg
}

// Reset rewinds the traversal to the given base block and system config.
func (l1t *L1Traversal) Reset(base eth.L1BlockRef, cfg eth.SystemConfig) error {
	l1t.block = base
	l1t.done = false
	l1t.sysCfg = cfg
	l1t.log.Info("Reset L1 traversal", "origin", base)
	return nil
}
