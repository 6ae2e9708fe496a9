package l2

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/consensus/beacon"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/oplabs/fp-program/eth"
)

// L2ToL1MessagePasserAddr is the predeploy whose storage root is committed to
// in every output root.
var L2ToL1MessagePasserAddr = common.HexToAddress("0x4200000000000000000000000000000000000016")

var ErrBlockNotFound = errors.New("block not found")

// OracleBackedL2Chain is a chain view rooted at an agreed output, serving
// headers, blocks and state purely from oracle pre-images plus the blocks
// executed locally on top.
type OracleBackedL2Chain struct {
	logger   log.Logger
	oracle   Oracle
	chainCfg *params.ChainConfig
	engine   consensus.Engine
	vmCfg    vm.Config

	head      *types.Header
	oracleHead *types.Header

	hashByNum            map[uint64]common.Hash
	earliestIndexedBlock *types.Header
	blocksByHash         map[common.Hash]*types.Block

	db ethdb.KeyValueStore
}

// NewOracleBackedL2Chain opens the chain at the block committed to by the
// agreed output root.
func NewOracleBackedL2Chain(logger log.Logger, oracle Oracle, chainCfg *params.ChainConfig, l2OutputRoot common.Hash, vmCfg vm.Config) (*OracleBackedL2Chain, error) {
	output := oracle.OutputByRoot(l2OutputRoot)
	outputV0, ok := output.(*eth.OutputV0)
	if !ok {
		return nil, fmt.Errorf("unsupported output version for root %s", l2OutputRoot)
	}
	head := oracle.BlockByHash(outputV0.BlockHash)
	logger.Info("Loaded L2 head", "hash", head.Hash(), "number", head.Number())

	return &OracleBackedL2Chain{
		logger:   logger,
		oracle:   oracle,
		chainCfg: chainCfg,
		engine:   beacon.New(nil),
		vmCfg:    vmCfg,

		head:       head.Header(),
		oracleHead: head.Header(),

		hashByNum: map[uint64]common.Hash{
			head.NumberU64(): head.Hash(),
		},
		earliestIndexedBlock: head.Header(),
		blocksByHash: map[common.Hash]*types.Block{
			head.Hash(): head,
		},
		db: NewOracleBackedDB(oracle),
	}, nil
}

func (o *OracleBackedL2Chain) CurrentHeader() *types.Header {
	return o.head
}

func (o *OracleBackedL2Chain) GetHeaderByHash(hash common.Hash) *types.Header {
	if block, ok := o.blocksByHash[hash]; ok {
		return block.Header()
	}
	return o.oracle.BlockByHash(hash).Header()
}

func (o *OracleBackedL2Chain) GetBlockByHash(hash common.Hash) *types.Block {
	if block, ok := o.blocksByHash[hash]; ok {
		return block
	}
	return o.oracle.BlockByHash(hash)
}

func (o *OracleBackedL2Chain) GetHeader(hash common.Hash, _ uint64) *types.Header {
	return o.GetHeaderByHash(hash)
}

func (o *OracleBackedL2Chain) GetBlock(hash common.Hash, _ uint64) *types.Block {
	return o.GetBlockByHash(hash)
}

func (o *OracleBackedL2Chain) GetHeaderByNumber(number uint64) *types.Header {
	if number > o.head.Number.Uint64() {
		return nil
	}
	if hash, ok := o.hashByNum[number]; ok {
		return o.GetHeaderByHash(hash)
	}
	// Walk back from the earliest indexed block to the requested number.
	header := o.earliestIndexedBlock
	for header.Number.Uint64() > number {
		header = o.GetHeaderByHash(header.ParentHash)
		o.hashByNum[header.Number.Uint64()] = header.Hash()
		o.earliestIndexedBlock = header
	}
	return header
}

func (o *OracleBackedL2Chain) GetCanonicalHash(number uint64) common.Hash {
	header := o.GetHeaderByNumber(number)
	if header == nil {
		return common.Hash{}
	}
	return header.Hash()
}

func (o *OracleBackedL2Chain) Config() *params.ChainConfig {
	return o.chainCfg
}

func (o *OracleBackedL2Chain) Engine() consensus.Engine {
	return o.engine
}

func (o *OracleBackedL2Chain) GetVMConfig() *vm.Config {
	return &o.vmCfg
}

func (o *OracleBackedL2Chain) StateAt(root common.Hash) (*state.StateDB, error) {
	return state.New(root, state.NewDatabase(rawdb.NewDatabase(o.db)), nil)
}

func (o *OracleBackedL2Chain) DB() ethdb.KeyValueStore {
	return o.db
}

// InsertBlockWithoutSetHead records a locally executed block.
func (o *OracleBackedL2Chain) InsertBlockWithoutSetHead(block *types.Block) error {
	o.blocksByHash[block.Hash()] = block
	return nil
}

// SetCanonical makes a previously inserted block the chain head.
func (o *OracleBackedL2Chain) SetCanonical(head *types.Block) (common.Hash, error) {
	if _, ok := o.blocksByHash[head.Hash()]; !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrBlockNotFound, head.Hash())
	}
	o.head = head.Header()
	o.hashByNum[head.NumberU64()] = head.Hash()
	return head.Hash(), nil
}

// L2OutputRoot computes the output root at the given block number:
// keccak256(version_0 || state_root || message_passer_storage_root || block_hash).
func (o *OracleBackedL2Chain) L2OutputRoot(l2BlockNumber uint64) (eth.Bytes32, error) {
	outBlock := o.GetHeaderByNumber(l2BlockNumber)
	if outBlock == nil {
		return eth.Bytes32{}, fmt.Errorf("%w: no block at number %d", ErrBlockNotFound, l2BlockNumber)
	}
	// Stage the account proof so every node on the path is retrievable.
	o.oracle.Hinter().Hint(AccountProofHint{
		BlockHash: outBlock.Hash(),
		Address:   L2ToL1MessagePasserAddr,
		ChainID:   o.chainCfg.ChainID.Uint64(),
	})
	trieDB := triedb.NewDatabase(rawdb.NewDatabase(o.db), nil)
	stateTrie, err := trie.NewStateTrie(trie.StateTrieID(outBlock.Root), trieDB)
	if err != nil {
		return eth.Bytes32{}, fmt.Errorf("failed to open state trie at %s: %w", outBlock.Root, err)
	}
	acct, err := stateTrie.GetAccount(L2ToL1MessagePasserAddr)
	if err != nil {
		return eth.Bytes32{}, fmt.Errorf("failed to read message passer account: %w", err)
	}
	storageRoot := types.EmptyRootHash
	if acct != nil {
		storageRoot = acct.Root
	}
	output := &eth.OutputV0{
		StateRoot:                eth.Bytes32(outBlock.Root),
		MessagePasserStorageRoot: eth.Bytes32(storageRoot),
		BlockHash:                outBlock.Hash(),
	}
	return eth.OutputRoot(output), nil
}
