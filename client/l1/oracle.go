package l1

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/oplabs/fp-program/client/mpt"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
)

// Oracle is the L1 chain data source of the program. All methods panic on
// missing or corrupt data: the host not serving valid pre-images is a fatal
// program exit, never a recoverable error.
type Oracle interface {
	// HeaderByBlockHash retrieves the block header with the given hash.
	HeaderByBlockHash(blockHash common.Hash) eth.BlockInfo

	// TransactionsByBlockHash retrieves the transactions of the block with the given hash.
	TransactionsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Transactions)

	// ReceiptsByBlockHash retrieves the receipts of the block with the given hash.
	ReceiptsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Receipts)

	// GetBlob retrieves the blob with the given versioned hash, anchored at the given block.
	GetBlob(ref eth.L1BlockRef, blobHash eth.IndexedBlobHash) *eth.Blob

	// Precompile retrieves the result and success flag of an accelerated
	// precompile call, delegated to the host.
	Precompile(address common.Address, input []byte) ([]byte, bool)
}

// PreimageOracle implements Oracle backed by the pre-image channels.
type PreimageOracle struct {
	oracle preimage.Oracle
	hint   preimage.Hinter
}

var _ Oracle = (*PreimageOracle)(nil)

func NewPreimageOracle(raw preimage.Oracle, hint preimage.Hinter) *PreimageOracle {
	return &PreimageOracle{oracle: raw, hint: hint}
}

func (p *PreimageOracle) headerByBlockHash(blockHash common.Hash) *types.Header {
	p.hint.Hint(BlockHeaderHint(blockHash))
	headerRlp := p.oracle.Get(preimage.Keccak256Key(blockHash))
	var header types.Header
	if err := rlp.DecodeBytes(headerRlp, &header); err != nil {
		panic(fmt.Errorf("invalid L1 header %s pre-image: %w", blockHash, err))
	}
	return &header
}

func (p *PreimageOracle) HeaderByBlockHash(blockHash common.Hash) eth.BlockInfo {
	return eth.HeaderBlockInfo(p.headerByBlockHash(blockHash))
}

func (p *PreimageOracle) TransactionsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Transactions) {
	header := p.headerByBlockHash(blockHash)
	p.hint.Hint(TransactionsHint(blockHash))

	opaqueTxs := mpt.ReadTrie(header.TxHash, func(hash common.Hash) []byte {
		return p.oracle.Get(preimage.Keccak256Key(hash))
	})
	txs, err := eth.DecodeTransactions(opaqueTxs)
	if err != nil {
		panic(fmt.Errorf("invalid L1 transactions in block %s: %w", blockHash, err))
	}
	return eth.HeaderBlockInfo(header), txs
}

func (p *PreimageOracle) ReceiptsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Receipts) {
	info := p.HeaderByBlockHash(blockHash)
	p.hint.Hint(ReceiptsHint(blockHash))

	opaqueReceipts := mpt.ReadTrie(info.ReceiptHash(), func(hash common.Hash) []byte {
		return p.oracle.Get(preimage.Keccak256Key(hash))
	})
	receipts, err := eth.DecodeRawReceipts(opaqueReceipts)
	if err != nil {
		panic(fmt.Errorf("invalid L1 receipts in block %s: %w", blockHash, err))
	}
	return info, receipts
}

func (p *PreimageOracle) GetBlob(ref eth.L1BlockRef, blobHash eth.IndexedBlobHash) *eth.Blob {
	// Send a hint for the blob commitment and field elements.
	blobReqMeta := make([]byte, 16)
	copy(blobReqMeta[0:8], u64Bytes(blobHash.Index))
	copy(blobReqMeta[8:16], u64Bytes(ref.Time))
	p.hint.Hint(BlobHint(append(blobHash.Hash[:], blobReqMeta...)))

	commitment := p.oracle.Get(preimage.Sha256Key(blobHash.Hash))

	// Reconstruct the blob from its 4096 field elements.
	blob := eth.Blob{}
	fieldElemKey := make([]byte, 80)
	copy(fieldElemKey[:48], commitment)
	for i := 0; i < eth.FieldElementsPerBlob; i++ {
		copy(fieldElemKey[72:], u64Bytes(uint64(i)))
		fieldElement := p.oracle.Get(preimage.BlobKey(crypto.Keccak256Hash(fieldElemKey)))
		copy(blob[i<<5:(i+1)<<5], fieldElement)
	}
	return &blob
}

func (p *PreimageOracle) Precompile(address common.Address, input []byte) ([]byte, bool) {
	hintBytes := append(address.Bytes(), input...)
	p.hint.Hint(PrecompileHint(hintBytes))
	key := preimage.PrecompileKey(crypto.Keccak256Hash(hintBytes))
	result := p.oracle.Get(key)
	if len(result) == 0 {
		panic(fmt.Errorf("precompile result pre-image for %s is empty", address))
	}
	return result[1:], result[0] == 1
}

func u64Bytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
