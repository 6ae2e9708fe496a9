package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Bytes32 is a 32-byte value, commonly a commitment or root.
type Bytes32 [32]byte

func (b Bytes32) String() string {
	return "0x" + common.Bytes2Hex(b[:])
}

// BlockLabel names a chain head variant.
type BlockLabel string

const (
	Unsafe    BlockLabel = "latest"
	Safe      BlockLabel = "safe"
	Finalized BlockLabel = "finalized"
)

// BlockID identifies a block by hash and number.
type BlockID struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

func (id BlockID) String() string {
	return fmt.Sprintf("%s:%d", id.Hash.TerminalString(), id.Number)
}

// L1BlockRef is a reference to an L1 block.
type L1BlockRef struct {
	Hash       common.Hash `json:"hash"`
	Number     uint64      `json:"number"`
	ParentHash common.Hash `json:"parentHash"`
	Time       uint64      `json:"timestamp"`
}

func (ref L1BlockRef) ID() BlockID {
	return BlockID{Hash: ref.Hash, Number: ref.Number}
}

func (ref L1BlockRef) ParentID() BlockID {
	n := ref.Number
	if n > 0 {
		n -= 1
	}
	return BlockID{Hash: ref.ParentHash, Number: n}
}

func (ref L1BlockRef) String() string {
	return ref.ID().String()
}

// L2BlockRef is a reference to an L2 block, with its L1 derivation anchor.
type L2BlockRef struct {
	Hash           common.Hash `json:"hash"`
	Number         uint64      `json:"number"`
	ParentHash     common.Hash `json:"parentHash"`
	Time           uint64      `json:"timestamp"`
	L1Origin       BlockID     `json:"l1origin"`
	SequenceNumber uint64      `json:"sequenceNumber"` // distance to first block of the epoch
}

func (ref L2BlockRef) ID() BlockID {
	return BlockID{Hash: ref.Hash, Number: ref.Number}
}

func (ref L2BlockRef) String() string {
	return ref.ID().String()
}

// BlockInfo is the read-only subset of a block header the program needs.
type BlockInfo interface {
	Hash() common.Hash
	ParentHash() common.Hash
	Coinbase() common.Address
	Root() common.Hash
	NumberU64() uint64
	Time() uint64
	MixDigest() common.Hash
	BaseFee() *big.Int
	BlobBaseFee() *big.Int
	ReceiptHash() common.Hash
	GasUsed() uint64
	GasLimit() uint64
	ParentBeaconRoot() *common.Hash
	HeaderRLP() ([]byte, error)
}

type headerBlockInfo struct {
	header *types.Header
	hash   common.Hash
}

// HeaderBlockInfo wraps a sealed header as BlockInfo.
func HeaderBlockInfo(h *types.Header) BlockInfo {
	return &headerBlockInfo{header: h, hash: h.Hash()}
}

func (h *headerBlockInfo) Hash() common.Hash        { return h.hash }
func (h *headerBlockInfo) ParentHash() common.Hash  { return h.header.ParentHash }
func (h *headerBlockInfo) Coinbase() common.Address { return h.header.Coinbase }
func (h *headerBlockInfo) Root() common.Hash        { return h.header.Root }
func (h *headerBlockInfo) NumberU64() uint64        { return h.header.Number.Uint64() }
func (h *headerBlockInfo) Time() uint64             { return h.header.Time }
func (h *headerBlockInfo) MixDigest() common.Hash   { return h.header.MixDigest }
func (h *headerBlockInfo) BaseFee() *big.Int        { return h.header.BaseFee }

func (h *headerBlockInfo) BlobBaseFee() *big.Int {
	if h.header.ExcessBlobGas == nil {
		return nil
	}
	return CalcBlobFee(*h.header.ExcessBlobGas)
}

func (h *headerBlockInfo) ReceiptHash() common.Hash { return h.header.ReceiptHash }
func (h *headerBlockInfo) GasUsed() uint64          { return h.header.GasUsed }
func (h *headerBlockInfo) GasLimit() uint64         { return h.header.GasLimit }

func (h *headerBlockInfo) ParentBeaconRoot() *common.Hash {
	return h.header.ParentBeaconRoot
}

func (h *headerBlockInfo) HeaderRLP() ([]byte, error) {
	return rlp.EncodeToBytes(h.header)
}

// InfoToL1BlockRef builds an L1BlockRef from BlockInfo.
func InfoToL1BlockRef(info BlockInfo) L1BlockRef {
	return L1BlockRef{
		Hash:       info.Hash(),
		Number:     info.NumberU64(),
		ParentHash: info.ParentHash(),
		Time:       info.Time(),
	}
}

// SystemConfig tracks the rollup system parameters that batches derive under.
type SystemConfig struct {
	// BatcherAddr is the account the batch-inbox accepts data from.
	BatcherAddr common.Address `json:"batcherAddr"`
	// Overhead is the pre-Ecotone L1 fee overhead.
	Overhead Bytes32 `json:"overhead"`
	// Scalar is the L1 fee scalar; Ecotone packs base-fee and blob-base-fee scalars.
	Scalar Bytes32 `json:"scalar"`
	// GasLimit is the L2 block gas limit.
	GasLimit uint64 `json:"gasLimit"`
}

// PayloadAttributes is the block-construction input, the engine-API equivalent shape.
type PayloadAttributes struct {
	Timestamp             hexutil.Uint64      `json:"timestamp"`
	PrevRandao            Bytes32             `json:"prevRandao"`
	SuggestedFeeRecipient common.Address      `json:"suggestedFeeRecipient"`
	Withdrawals           *types.Withdrawals  `json:"withdrawals,omitempty"`
	ParentBeaconBlockRoot *common.Hash        `json:"parentBeaconBlockRoot,omitempty"`
	Transactions          []hexutil.Bytes     `json:"transactions,omitempty"`
	NoTxPool              bool                `json:"noTxPool,omitempty"`
	GasLimit              *hexutil.Uint64     `json:"gasLimit,omitempty"`
}
