package derive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

// Span batch wire format:
//
// prefix  := rel_timestamp ++ l1_origin_num ++ parent_check ++ l1_origin_check
// payload := block_count ++ origin_bits ++ block_tx_counts ++ txs
//
// All integers are unsigned varints; checks are truncated 20-byte hashes.

var (
	ErrTooBigSpanBatchSize = errors.New("span batch size limit reached")
	ErrEmptySpanBatch      = errors.New("span-batch must not be empty")
)

type spanBatchPrefix struct {
	relTimestamp  uint64   // relative to the rollup genesis timestamp
	l1OriginNum   uint64   // l1 origin number of the last block in the span
	parentCheck   [20]byte // first 20 bytes of the parent hash of the first block
	l1OriginCheck [20]byte // first 20 bytes of the l1 origin hash of the last block
}

type spanBatchPayload struct {
	blockCount    uint64
	originBits    *big.Int
	blockTxCounts []uint64
	txs           *spanBatchTxs
}

// RawSpanBatch is the wire form of a span batch, before expansion.
type RawSpanBatch struct {
	spanBatchPrefix
	spanBatchPayload
}

var _ InnerBatchData = (*RawSpanBatch)(nil)

func (b *RawSpanBatch) GetBatchType() int {
	return SpanBatchType
}

func (bp *spanBatchPrefix) decodePrefix(r *bytes.Reader) error {
	var err error
	if bp.relTimestamp, err = binary.ReadUvarint(r); err != nil {
		return fmt.Errorf("failed to read rel timestamp: %w", err)
	}
	if bp.l1OriginNum, err = binary.ReadUvarint(r); err != nil {
		return fmt.Errorf("failed to read l1 origin number: %w", err)
	}
	if _, err := io.ReadFull(r, bp.parentCheck[:]); err != nil {
		return fmt.Errorf("failed to read parent check: %w", err)
	}
	if _, err := io.ReadFull(r, bp.l1OriginCheck[:]); err != nil {
		return fmt.Errorf("failed to read l1 origin check: %w", err)
	}
	return nil
}

func (bp *spanBatchPrefix) encodePrefix(w io.Writer) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], bp.relTimestamp)
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	n = binary.PutUvarint(buf[:], bp.l1OriginNum)
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	if _, err := w.Write(bp.parentCheck[:]); err != nil {
		return err
	}
	_, err := w.Write(bp.l1OriginCheck[:])
	return err
}

func (bp *spanBatchPayload) decodePayload(r *bytes.Reader) error {
	blockCount, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("failed to read block count: %w", err)
	}
	if blockCount > MaxSpanBatchElementCount {
		return ErrTooBigSpanBatchSize
	}
	if blockCount == 0 {
		return ErrEmptySpanBatch
	}
	bp.blockCount = blockCount

	txs := &spanBatchTxs{}
	originBits, err := txs.decodeBitlist(r, blockCount)
	if err != nil {
		return fmt.Errorf("origin bits: %w", err)
	}
	bp.originBits = originBits

	bp.blockTxCounts = make([]uint64, 0, blockCount)
	var totalBlockTxCount uint64
	for i := uint64(0); i < blockCount; i++ {
		blockTxCount, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("failed to read block tx count %d: %w", i, err)
		}
		total, overflow := addUint64(totalBlockTxCount, blockTxCount)
		if overflow || total > MaxSpanBatchElementCount {
			return ErrTooBigSpanBatchSize
		}
		totalBlockTxCount = total
		bp.blockTxCounts = append(bp.blockTxCounts, blockTxCount)
	}
	txs.totalBlockTxCount = totalBlockTxCount
	if err := txs.decode(r); err != nil {
		return err
	}
	bp.txs = txs
	return nil
}

func (bp *spanBatchPayload) encodePayload(w io.Writer) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], bp.blockCount)
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	if err := bp.txs.encodeBitlist(w, bp.originBits, bp.blockCount); err != nil {
		return fmt.Errorf("origin bits: %w", err)
	}
	for _, blockTxCount := range bp.blockTxCounts {
		n = binary.PutUvarint(buf[:], blockTxCount)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	return bp.txs.encode(w)
}

func (b *RawSpanBatch) decode(r *bytes.Reader) error {
	if err := b.decodePrefix(r); err != nil {
		return fmt.Errorf("failed to decode span batch prefix: %w", err)
	}
	if err := b.decodePayload(r); err != nil {
		return fmt.Errorf("failed to decode span batch payload: %w", err)
	}
	if r.Len() > 0 {
		return fmt.Errorf("span batch has %d bytes of trailing data", r.Len())
	}
	return nil
}

func (b *RawSpanBatch) encode(w io.Writer) error {
	if err := b.encodePrefix(w); err != nil {
		return err
	}
	return b.encodePayload(w)
}

// ToSpanBatch expands the raw form into per-block elements.
func (b *RawSpanBatch) ToSpanBatch(blockTime, genesisTimestamp uint64, chainID *big.Int) (*SpanBatch, error) {
	if b.txs == nil {
		return nil, errors.New("raw span batch is not decoded")
	}
	fullTxs, err := b.txs.fullTxs(chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to recover span batch transactions: %w", err)
	}

	spanBatch := &SpanBatch{
		ParentCheck:   b.parentCheck,
		L1OriginCheck: b.l1OriginCheck,
		GenesisTimestamp: genesisTimestamp,
		ChainID:          chainID,
	}
	txIdx := 0
	// The origin bits walk the epoch backwards from the last origin number:
	// bit i set means block i advanced the origin.
	epochNum := b.l1OriginNum
	epochNums := make([]uint64, b.blockCount)
	for i := int(b.blockCount) - 1; i >= 0; i-- {
		epochNums[i] = epochNum
		if b.originBits.Bit(i) == 1 && i > 0 {
			epochNum--
		}
	}
	for i := uint64(0); i < b.blockCount; i++ {
		batch := SpanBatchElement{
			EpochNum:  Epoch(epochNums[i]),
			Timestamp: genesisTimestamp + b.relTimestamp + blockTime*i,
		}
		for j := uint64(0); j < b.blockTxCounts[i]; j++ {
			batch.Transactions = append(batch.Transactions, fullTxs[txIdx])
			txIdx++
		}
		spanBatch.Batches = append(spanBatch.Batches, &batch)
	}
	return spanBatch, nil
}

// SpanBatchElement is one L2 block of an expanded span batch.
type SpanBatchElement struct {
	EpochNum     Epoch
	Timestamp    uint64
	Transactions []hexutil.Bytes
}

// SpanBatch is the expanded form the batch queue validates block by block.
type SpanBatch struct {
	ParentCheck      [20]byte
	L1OriginCheck    [20]byte
	GenesisTimestamp uint64
	ChainID          *big.Int
	Batches          []*SpanBatchElement
}

var _ Batch = (*SpanBatch)(nil)

func (b *SpanBatch) GetBatchType() int {
	return SpanBatchType
}

// GetTimestamp returns the timestamp of the first block in the span.
func (b *SpanBatch) GetTimestamp() uint64 {
	return b.Batches[0].Timestamp
}

func (b *SpanBatch) LogContext(logger log.Logger) log.Logger {
	if len(b.Batches) == 0 {
		return logger.New("block_count", 0)
	}
	return logger.New(
		"batch_type", "SpanBatch",
		"batch_timestamp", b.Batches[0].Timestamp,
		"parent_check", hexutil.Encode(b.ParentCheck[:]),
		"origin_check", hexutil.Encode(b.L1OriginCheck[:]),
		"start_epoch_number", b.GetStartEpochNum(),
		"end_epoch_number", b.GetBlockEpochNum(len(b.Batches)-1),
		"block_count", len(b.Batches),
	)
}

func (b *SpanBatch) GetStartEpochNum() Epoch {
	return b.Batches[0].EpochNum
}

// CheckOriginHash verifies the truncated L1 origin commitment.
func (b *SpanBatch) CheckOriginHash(hash common.Hash) bool {
	return bytes.Equal(b.L1OriginCheck[:], hash.Bytes()[:20])
}

// CheckParentHash verifies the truncated parent commitment.
func (b *SpanBatch) CheckParentHash(hash common.Hash) bool {
	return bytes.Equal(b.ParentCheck[:], hash.Bytes()[:20])
}

func (b *SpanBatch) GetBlockEpochNum(i int) uint64 {
	return uint64(b.Batches[i].EpochNum)
}

func (b *SpanBatch) GetBlockTimestamp(i int) uint64 {
	return b.Batches[i].Timestamp
}

func (b *SpanBatch) GetBlockTransactions(i int) []hexutil.Bytes {
	return b.Batches[i].Transactions
}

func (b *SpanBatch) GetBlockCount() int {
	return len(b.Batches)
}

// NewRawSpanBatch packs singular batches into the wire form. The batches must
// be consecutive blocks of one chain, ordered by timestamp.
func NewRawSpanBatch(singularBatches []*SingularBatch, genesisTimestamp uint64, chainID *big.Int) (*RawSpanBatch, error) {
	if len(singularBatches) == 0 {
		return nil, ErrEmptySpanBatch
	}
	first, last := singularBatches[0], singularBatches[len(singularBatches)-1]

	raw := &RawSpanBatch{
		spanBatchPrefix: spanBatchPrefix{
			relTimestamp: first.Timestamp - genesisTimestamp,
			l1OriginNum:  uint64(last.EpochNum),
		},
		spanBatchPayload: spanBatchPayload{
			blockCount: uint64(len(singularBatches)),
			originBits: new(big.Int),
			txs:        &spanBatchTxs{},
		},
	}
	copy(raw.parentCheck[:], first.ParentHash.Bytes()[:20])
	copy(raw.l1OriginCheck[:], last.EpochHash.Bytes()[:20])

	for i, batch := range singularBatches {
		if i == 0 || batch.EpochNum != singularBatches[i-1].EpochNum {
			raw.originBits.SetBit(raw.originBits, i, 1)
		}
		raw.blockTxCounts = append(raw.blockTxCounts, uint64(len(batch.Transactions)))
		txs := make([][]byte, 0, len(batch.Transactions))
		for _, rawTx := range batch.Transactions {
			txs = append(txs, rawTx)
		}
		if err := raw.txs.addTxs(txs, chainID); err != nil {
			return nil, fmt.Errorf("failed to add txs of batch %d: %w", i, err)
		}
	}
	return raw, nil
}

func addUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}
