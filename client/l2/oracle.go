package l2

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	interoptypes "github.com/oplabs/fp-program/client/interop/types"
	"github.com/oplabs/fp-program/client/mpt"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
)

// StateOracle is the EVM-facing subset: state/storage trie nodes and code.
type StateOracle interface {
	// NodeByHash fetches a state or storage trie node by hash.
	NodeByHash(nodeHash common.Hash) []byte
	// CodeByHash fetches contract code by its keccak hash.
	CodeByHash(codeHash common.Hash) []byte
}

// Oracle is the L2 chain data source of the program.
type Oracle interface {
	StateOracle

	// BlockByHash fetches the full L2 block with the given hash.
	BlockByHash(blockHash common.Hash) *types.Block

	// ReceiptsByBlockHash fetches the receipts of an L2 block, used by the
	// interop consolidator to check initiating messages.
	ReceiptsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Receipts)

	// OutputByRoot fetches the output pre-image with the given output root.
	OutputByRoot(root common.Hash) eth.Output

	// TransitionStateByRoot fetches the agreed interop pre-state. A plain
	// super root is promoted to a step-0 transition state.
	TransitionStateByRoot(root common.Hash) *interoptypes.TransitionState

	// BlockDataByHash fetches a possibly non-canonical block for re-execution.
	BlockDataByHash(agreedBlockHash, blockHash common.Hash) *types.Block

	// Hinter gives access to the raw hint stream, for callers that stage data
	// the oracle itself does not fetch (e.g. account proofs before deletes).
	Hinter() preimage.Hinter
}

// PreimageOracle implements Oracle via the pre-image channels.
type PreimageOracle struct {
	oracle  preimage.Oracle
	hint    preimage.Hinter
	chainID uint64
}

var _ Oracle = (*PreimageOracle)(nil)

func NewPreimageOracle(raw preimage.Oracle, hint preimage.Hinter, chainID uint64) *PreimageOracle {
	return &PreimageOracle{oracle: raw, hint: hint, chainID: chainID}
}

func (p *PreimageOracle) Hinter() preimage.Hinter {
	return p.hint
}

func (p *PreimageOracle) headerByBlockHash(blockHash common.Hash) *types.Header {
	p.hint.Hint(BlockHeaderHint{Hash: blockHash, ChainID: p.chainID})
	headerRlp := p.oracle.Get(preimage.Keccak256Key(blockHash))
	var header types.Header
	if err := rlp.DecodeBytes(headerRlp, &header); err != nil {
		panic(fmt.Errorf("invalid L2 header %s pre-image: %w", blockHash, err))
	}
	return &header
}

func (p *PreimageOracle) BlockByHash(blockHash common.Hash) *types.Block {
	header := p.headerByBlockHash(blockHash)
	p.hint.Hint(TransactionsHint{Hash: blockHash, ChainID: p.chainID})

	opaqueTxs := mpt.ReadTrie(header.TxHash, func(hash common.Hash) []byte {
		return p.oracle.Get(preimage.Keccak256Key(hash))
	})
	txs, err := eth.DecodeTransactions(opaqueTxs)
	if err != nil {
		panic(fmt.Errorf("invalid L2 transactions in block %s: %w", blockHash, err))
	}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

func (p *PreimageOracle) ReceiptsByBlockHash(blockHash common.Hash) (eth.BlockInfo, types.Receipts) {
	header := p.headerByBlockHash(blockHash)
	p.hint.Hint(ReceiptsHint{Hash: blockHash, ChainID: p.chainID})

	opaqueReceipts := mpt.ReadTrie(header.ReceiptHash, func(hash common.Hash) []byte {
		return p.oracle.Get(preimage.Keccak256Key(hash))
	})
	receipts, err := eth.DecodeRawReceipts(opaqueReceipts)
	if err != nil {
		panic(fmt.Errorf("invalid L2 receipts in block %s: %w", blockHash, err))
	}
	return eth.HeaderBlockInfo(header), receipts
}

func (p *PreimageOracle) NodeByHash(nodeHash common.Hash) []byte {
	p.hint.Hint(StateNodeHint{Hash: nodeHash, ChainID: p.chainID})
	return p.oracle.Get(preimage.Keccak256Key(nodeHash))
}

func (p *PreimageOracle) CodeByHash(codeHash common.Hash) []byte {
	p.hint.Hint(CodeHint{Hash: codeHash, ChainID: p.chainID})
	return p.oracle.Get(preimage.Keccak256Key(codeHash))
}

func (p *PreimageOracle) OutputByRoot(outputRoot common.Hash) eth.Output {
	p.hint.Hint(OutputHint{Root: outputRoot, ChainID: p.chainID})
	data := p.oracle.Get(preimage.Keccak256Key(outputRoot))
	output, err := eth.UnmarshalOutput(data)
	if err != nil {
		panic(fmt.Errorf("invalid output pre-image %s: %w", outputRoot, err))
	}
	return output
}

func (p *PreimageOracle) TransitionStateByRoot(root common.Hash) *interoptypes.TransitionState {
	p.hint.Hint(AgreedPrestateHint(root))
	data := p.oracle.Get(preimage.Keccak256Key(root))
	state, err := interoptypes.UnmarshalTransitionState(data)
	if err != nil {
		panic(fmt.Errorf("invalid agreed pre-state pre-image %s: %w", root, err))
	}
	return state
}

func (p *PreimageOracle) BlockDataByHash(agreedBlockHash, blockHash common.Hash) *types.Block {
	p.hint.Hint(BlockDataHint{
		AgreedBlockHash: agreedBlockHash,
		BlockHash:       blockHash,
		ChainID:         p.chainID,
	})
	return p.BlockByHash(blockHash)
}
