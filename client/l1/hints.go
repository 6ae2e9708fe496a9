package l1

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oplabs/fp-program/preimage"
)

const (
	HintL1BlockHeader  = "l1-block-header"
	HintL1Transactions = "l1-transactions"
	HintL1Receipts     = "l1-receipts"
	HintL1Blob         = "l1-blob"
	HintL1Precompile   = "l1-precompile"
)

// BlockHeaderHint requests the host to prepare the given L1 block header.
type BlockHeaderHint common.Hash

var _ preimage.Hint = BlockHeaderHint{}

func (l BlockHeaderHint) Hint() string {
	return HintL1BlockHeader + " " + common.Hash(l).String()
}

// TransactionsHint requests the transaction trie nodes of the given L1 block.
type TransactionsHint common.Hash

var _ preimage.Hint = TransactionsHint{}

func (l TransactionsHint) Hint() string {
	return HintL1Transactions + " " + common.Hash(l).String()
}

// ReceiptsHint requests the receipt trie nodes of the given L1 block.
type ReceiptsHint common.Hash

var _ preimage.Hint = ReceiptsHint{}

func (l ReceiptsHint) Hint() string {
	return HintL1Receipts + " " + common.Hash(l).String()
}

// BlobHint requests a blob by versioned hash, index, and block timestamp:
// hash(32) || index_be8 || timestamp_be8.
type BlobHint []byte

var _ preimage.Hint = BlobHint{}

func (l BlobHint) Hint() string {
	return HintL1Blob + " " + hexutil.Encode(l)
}

// PrecompileHint requests an accelerated precompile result:
// address(20) || input.
type PrecompileHint []byte

var _ preimage.Hint = PrecompileHint{}

func (l PrecompileHint) Hint() string {
	return HintL1Precompile + " " + hexutil.Encode(l)
}
