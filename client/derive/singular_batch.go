package derive

import (
	"bytes"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// SingularBatch is a proposed L2 block: the transactions to include and the
// metadata tying it to its parent and its L1 epoch.
type SingularBatch struct {
	ParentHash   common.Hash
	EpochNum     Epoch // aka l1 origin block number
	EpochHash    common.Hash
	Timestamp    uint64
	Transactions []hexutil.Bytes
}

var _ InnerBatchData = (*SingularBatch)(nil)

// Epoch is an L1 block number naming the sequencing epoch of an L2 block.
type Epoch uint64

func (b *SingularBatch) GetBatchType() int {
	return SingularBatchType
}

func (b *SingularBatch) GetTimestamp() uint64 {
	return b.Timestamp
}

// GetEpochNum is shared with SpanBatch for batch-queue checks.
func (b *SingularBatch) GetEpochNum() Epoch {
	return b.EpochNum
}

func (b *SingularBatch) LogContext(logger log.Logger) log.Logger {
	return logger.New(
		"batch_type", "SingularBatch",
		"batch_timestamp", b.Timestamp,
		"parent_hash", b.ParentHash,
		"batch_epoch", b.EpochNum,
		"txs", len(b.Transactions),
	)
}

func (b *SingularBatch) encode(w io.Writer) error {
	return rlp.Encode(w, b)
}

func (b *SingularBatch) decode(r *bytes.Reader) error {
	return rlp.Decode(r, b)
}
