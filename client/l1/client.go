package l1

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oplabs/fp-program/eth"
)

// ErrNotFound is returned when a block past the L1 head is requested.
var ErrNotFound = ethereum.NotFound

const blockRefCacheSize = 1000

// OracleL1Client walks the L1 chain backwards from the trusted head, serving
// the block lookups the derivation pipeline needs.
type OracleL1Client struct {
	oracle Oracle
	head   eth.L1BlockRef
	// hashByNum speeds up repeated by-number lookups during traversal.
	hashByNum           *lru.Cache[uint64, common.Hash]
	earliestIndexedBlock eth.L1BlockRef
}

func NewOracleL1Client(oracle Oracle, l1Head common.Hash) *OracleL1Client {
	head := eth.InfoToL1BlockRef(oracle.HeaderByBlockHash(l1Head))
	hashByNum, _ := lru.New[uint64, common.Hash](blockRefCacheSize)
	hashByNum.Add(head.Number, head.Hash)
	return &OracleL1Client{
		oracle:               oracle,
		head:                 head,
		hashByNum:            hashByNum,
		earliestIndexedBlock: head,
	}
}

// L1BlockRefByLabel returns the head; the program treats the trust anchor as
// unsafe, safe and finalized alike.
func (o *OracleL1Client) L1BlockRefByLabel(ctx context.Context, label eth.BlockLabel) (eth.L1BlockRef, error) {
	return o.head, nil
}

func (o *OracleL1Client) L1BlockRefByNumber(ctx context.Context, number uint64) (eth.L1BlockRef, error) {
	if number > o.head.Number {
		return eth.L1BlockRef{}, fmt.Errorf("%w: block number %d requested but head is %d", ErrNotFound, number, o.head.Number)
	}
	if hash, ok := o.hashByNum.Get(number); ok {
		return o.L1BlockRefByHash(ctx, hash)
	}
	block := o.earliestIndexedBlock
	for block.Number > number {
		block = eth.InfoToL1BlockRef(o.oracle.HeaderByBlockHash(block.ParentHash))
		o.hashByNum.Add(block.Number, block.Hash)
		o.earliestIndexedBlock = block
	}
	return block, nil
}

func (o *OracleL1Client) L1BlockRefByHash(ctx context.Context, hash common.Hash) (eth.L1BlockRef, error) {
	ref := eth.InfoToL1BlockRef(o.oracle.HeaderByBlockHash(hash))
	o.hashByNum.Add(ref.Number, ref.Hash)
	return ref, nil
}

func (o *OracleL1Client) InfoByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, error) {
	return o.oracle.HeaderByBlockHash(hash), nil
}

func (o *OracleL1Client) InfoAndTxsByHash(ctx context.Context, hash common.Hash) (eth.BlockInfo, types.Transactions, error) {
	info, txs := o.oracle.TransactionsByBlockHash(hash)
	return info, txs, nil
}

func (o *OracleL1Client) FetchReceipts(ctx context.Context, blockHash common.Hash) (eth.BlockInfo, types.Receipts, error) {
	info, receipts := o.oracle.ReceiptsByBlockHash(blockHash)
	return info, receipts, nil
}
