package l2

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oplabs/fp-program/preimage"
)

const (
	HintL2BlockHeader         = "l2-block-header"
	HintL2Transactions        = "l2-transactions"
	HintL2Receipts            = "l2-receipts"
	HintL2Code                = "l2-code"
	HintL2StateNode           = "l2-state-node"
	HintL2AccountProof        = "l2-account-proof"
	HintL2AccountStorageProof = "l2-account-storage-proof"
	HintL2Output              = "l2-output"
	HintAgreedPrestate        = "agreed-pre-state"
	HintL2BlockData           = "l2-block-data"
)

// hintEncode renders "<kind> <hex(payload)>".
func hintEncode(kind string, payload []byte) string {
	return kind + " " + hexutil.Encode(payload)
}

// chainIDSuffix appends the big-endian chain ID, so a multi-chain host can
// route the hint to the right chain's data source. Single-chain hosts ignore it.
func chainIDSuffix(payload []byte, chainID uint64) []byte {
	return binary.BigEndian.AppendUint64(payload, chainID)
}

// BlockHeaderHint requests an L2 block header by hash.
type BlockHeaderHint struct {
	Hash    common.Hash
	ChainID uint64
}

var _ preimage.Hint = BlockHeaderHint{}

func (l BlockHeaderHint) Hint() string {
	return hintEncode(HintL2BlockHeader, chainIDSuffix(l.Hash.Bytes(), l.ChainID))
}

// TransactionsHint requests the transaction trie nodes of an L2 block.
type TransactionsHint struct {
	Hash    common.Hash
	ChainID uint64
}

var _ preimage.Hint = TransactionsHint{}

func (l TransactionsHint) Hint() string {
	return hintEncode(HintL2Transactions, chainIDSuffix(l.Hash.Bytes(), l.ChainID))
}

// ReceiptsHint requests the receipt trie nodes of an L2 block.
type ReceiptsHint struct {
	Hash    common.Hash
	ChainID uint64
}

var _ preimage.Hint = ReceiptsHint{}

func (l ReceiptsHint) Hint() string {
	return hintEncode(HintL2Receipts, chainIDSuffix(l.Hash.Bytes(), l.ChainID))
}

// CodeHint requests contract code by keccak hash.
type CodeHint struct {
	Hash    common.Hash
	ChainID uint64
}

var _ preimage.Hint = CodeHint{}

func (l CodeHint) Hint() string {
	return hintEncode(HintL2Code, chainIDSuffix(l.Hash.Bytes(), l.ChainID))
}

// StateNodeHint requests a state or storage trie node by hash.
type StateNodeHint struct {
	Hash    common.Hash
	ChainID uint64
}

var _ preimage.Hint = StateNodeHint{}

func (l StateNodeHint) Hint() string {
	return hintEncode(HintL2StateNode, chainIDSuffix(l.Hash.Bytes(), l.ChainID))
}

// AccountProofHint requests all state trie nodes on the path to an account:
// block_hash(32) || address(20).
type AccountProofHint struct {
	BlockHash common.Hash
	Address   common.Address
	ChainID   uint64
}

var _ preimage.Hint = AccountProofHint{}

func (l AccountProofHint) Hint() string {
	payload := append(l.BlockHash.Bytes(), l.Address.Bytes()...)
	return hintEncode(HintL2AccountProof, chainIDSuffix(payload, l.ChainID))
}

// AccountStorageProofHint requests the storage trie nodes on the path to a slot:
// block_hash(32) || address(20) || slot(32).
type AccountStorageProofHint struct {
	BlockHash common.Hash
	Address   common.Address
	Slot      common.Hash
	ChainID   uint64
}

var _ preimage.Hint = AccountStorageProofHint{}

func (l AccountStorageProofHint) Hint() string {
	payload := append(append(l.BlockHash.Bytes(), l.Address.Bytes()...), l.Slot.Bytes()...)
	return hintEncode(HintL2AccountStorageProof, chainIDSuffix(payload, l.ChainID))
}

// OutputHint requests the output pre-image with the given output root.
type OutputHint struct {
	Root    common.Hash
	ChainID uint64
}

var _ preimage.Hint = OutputHint{}

func (l OutputHint) Hint() string {
	return hintEncode(HintL2Output, chainIDSuffix(l.Root.Bytes(), l.ChainID))
}

// AgreedPrestateHint requests the agreed pre-state (super root or transition
// state) pre-image with the given commitment.
type AgreedPrestateHint common.Hash

var _ preimage.Hint = AgreedPrestateHint{}

func (l AgreedPrestateHint) Hint() string {
	return hintEncode(HintAgreedPrestate, common.Hash(l).Bytes())
}

// BlockDataHint asks the host to materialize the pre-images of a possibly
// non-canonical block so it can be re-executed:
// agreed_block_hash(32) || block_hash(32).
type BlockDataHint struct {
	AgreedBlockHash common.Hash
	BlockHash       common.Hash
	ChainID         uint64
}

var _ preimage.Hint = BlockDataHint{}

func (l BlockDataHint) Hint() string {
	payload := append(l.AgreedBlockHash.Bytes(), l.BlockHash.Bytes()...)
	return hintEncode(HintL2BlockData, chainIDSuffix(payload, l.ChainID))
}
