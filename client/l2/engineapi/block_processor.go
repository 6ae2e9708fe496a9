package engineapi

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus"
	"github.com/ethereum/go-ethereum/consensus/misc"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/oplabs/fp-program/eth"
)

var (
	ErrExceedsGasLimit  = errors.New("tx gas exceeds block gas limit")
	ErrUsesTooMuchGas   = errors.New("action takes too much gas")
	ErrMissingGasLimit  = errors.New("payload attributes are missing the gas limit")
	ErrMissingBeaconRoot = errors.New("payload attributes are missing the parent beacon block root")
)

// historyStorageAddress is the EIP-2935 block-hash history predeploy.
var historyStorageAddress = common.HexToAddress("0x0000F90827F1C53a10cb7A02335B175320002935")

// consolidationRequestAddress is the EIP-7251 consolidation-request predeploy.
var consolidationRequestAddress = common.HexToAddress("0x00431F263cE400f4455c2dCf564e53007Ca4bbBb")

const systemCallGasLimit = 30_000_000

// BlockDataProvider supplies the chain context a block build runs against.
type BlockDataProvider interface {
	GetHeader(common.Hash, uint64) *types.Header
	GetHeaderByHash(hash common.Hash) *types.Header
	Engine() consensus.Engine
	StateAt(root common.Hash) (*state.StateDB, error)
	Config() *params.ChainConfig
}

// BlockProcessor executes transactions on top of a parent header and seals
// the result, entirely against the oracle-backed state.
type BlockProcessor struct {
	header       *types.Header
	state        *state.StateDB
	receipts     types.Receipts
	transactions types.Transactions
	gasPool      *core.GasPool
	vmConfig     vm.Config
	dataProvider BlockDataProvider

	// withdrawals is the (post-Canyon, empty) withdrawals list of the block.
	withdrawals *types.Withdrawals
}

// NewBlockProcessorFromPayloadAttributes starts a block build on top of parent.
func NewBlockProcessorFromPayloadAttributes(provider BlockDataProvider, parent common.Hash, attrs *eth.PayloadAttributes, vmConfig vm.Config) (*BlockProcessor, error) {
	if attrs.GasLimit == nil {
		return nil, ErrMissingGasLimit
	}
	parentHeader := provider.GetHeaderByHash(parent)
	if parentHeader == nil {
		return nil, fmt.Errorf("unknown parent block: %s", parent)
	}
	chainCfg := provider.Config()

	header := &types.Header{
		ParentHash:       parent,
		UncleHash:        types.EmptyUncleHash,
		Coinbase:         attrs.SuggestedFeeRecipient,
		Difficulty:       common.Big0,
		Number:           new(big.Int).Add(parentHeader.Number, common.Big1),
		GasLimit:         uint64(*attrs.GasLimit),
		Time:             uint64(attrs.Timestamp),
		MixDigest:        common.Hash(attrs.PrevRandao),
		Nonce:            types.BlockNonce{},
		ParentBeaconRoot: attrs.ParentBeaconBlockRoot,
	}
	header.BaseFee = eip1559.CalcBaseFee(chainCfg, parentHeader, header.Time)

	var withdrawals *types.Withdrawals
	if chainCfg.IsCanyon(header.Time) {
		withdrawals = &types.Withdrawals{}
	}
	if chainCfg.IsCancun(header.Number, header.Time) {
		zero := uint64(0)
		header.BlobGasUsed = &zero
		excess := uint64(0)
		header.ExcessBlobGas = &excess
		if attrs.ParentBeaconBlockRoot == nil {
			return nil, ErrMissingBeaconRoot
		}
	}

	statedb, err := provider.StateAt(parentHeader.Root)
	if err != nil {
		return nil, fmt.Errorf("get parent state: %w", err)
	}

	processor := &BlockProcessor{
		header:       header,
		state:        statedb,
		gasPool:      new(core.GasPool).AddGas(header.GasLimit),
		vmConfig:     vmConfig,
		dataProvider: provider,
		withdrawals:  withdrawals,
	}
	if err := processor.preBlockCalls(); err != nil {
		return nil, err
	}
	return processor, nil
}

// preBlockCalls runs the fork-gated system transactions before user
// transactions. Each is skipped entirely when its fork is inactive, and all
// of them are skipped for the genesis block.
func (w *BlockProcessor) preBlockCalls() error {
	chainCfg := w.dataProvider.Config()
	if w.header.Number.Sign() == 0 {
		return nil
	}

	// EIP-4788: beacon block root into the beacon-roots contract (Ecotone).
	if chainCfg.IsCancun(w.header.Number, w.header.Time) {
		context := core.NewEVMBlockContext(w.header, newChainContext(w.dataProvider), &w.header.Coinbase, chainCfg, w.state)
		vmenv := vm.NewEVM(context, vm.TxContext{}, w.state, chainCfg, w.vmConfig)
		core.ProcessBeaconBlockRoot(*w.header.ParentBeaconRoot, vmenv, w.state)
	}

	// The Canyon hardfork also redeploys the create2 deployer.
	misc.EnsureCreate2Deployer(chainCfg, w.header.Time, w.state)

	return nil
}

// ProcessIsthmusSystemCalls runs the Isthmus pre-block calls: EIP-2935 parent
// block hash history and EIP-7251 consolidation requests. The pinned EVM does
// not schedule these itself, so the executor invokes them explicitly when the
// rollup config has Isthmus active.
func (w *BlockProcessor) ProcessIsthmusSystemCalls() error {
	if w.header.Number.Sign() == 0 {
		return nil
	}
	if err := w.systemCall(historyStorageAddress, w.header.ParentHash.Bytes()); err != nil {
		return fmt.Errorf("eip-2935 system call: %w", err)
	}
	if err := w.systemCall(consolidationRequestAddress, nil); err != nil {
		return fmt.Errorf("eip-7251 system call: %w", err)
	}
	return nil
}

// systemCall invokes target from the system address with zeroed fees; the
// system address and coinbase never persist in the resulting state delta.
func (w *BlockProcessor) systemCall(target common.Address, data []byte) error {
	chainCfg := w.dataProvider.Config()
	context := core.NewEVMBlockContext(w.header, newChainContext(w.dataProvider), &w.header.Coinbase, chainCfg, w.state)
	context.BaseFee = new(big.Int)
	vmenv := vm.NewEVM(context, vm.TxContext{Origin: params.SystemAddress}, w.state, chainCfg, w.vmConfig)
	w.state.AddAddressToAccessList(target)
	_, _, err := vmenv.Call(vm.AccountRef(params.SystemAddress), target, data, systemCallGasLimit, uint256.NewInt(0))
	if err != nil {
		return err
	}
	w.state.Finalise(true)
	return nil
}

func (w *BlockProcessor) CheckTxWithinGasLimit(tx *types.Transaction) error {
	if tx.Gas() > w.header.GasLimit {
		return fmt.Errorf("%w: tx gas: %d, block gas limit: %d", ErrExceedsGasLimit, tx.Gas(), w.header.GasLimit)
	}
	if tx.Gas() > w.gasPool.Gas() {
		return fmt.Errorf("%w: %d, only have %d", ErrUsesTooMuchGas, tx.Gas(), w.gasPool.Gas())
	}
	return nil
}

func (w *BlockProcessor) AddTx(tx *types.Transaction) error {
	txIndex := len(w.transactions)
	w.state.SetTxContext(tx.Hash(), txIndex)
	receipt, err := core.ApplyTransaction(w.dataProvider.Config(), newChainContext(w.dataProvider), &w.header.Coinbase,
		w.gasPool, w.state, w.header, tx, &w.header.GasUsed, w.vmConfig)
	if err != nil {
		return fmt.Errorf("failed to apply transaction to L2 block (tx %d): %w", txIndex, err)
	}
	w.receipts = append(w.receipts, receipt)
	w.transactions = append(w.transactions, tx)
	return nil
}

// Assemble seals the block: computes the state root, transaction and receipt
// roots and the bloom, commits the new trie nodes, and returns the block.
func (w *BlockProcessor) Assemble() (*types.Block, error) {
	chainCfg := w.dataProvider.Config()
	header := types.CopyHeader(w.header)

	header.Root = w.state.IntermediateRoot(chainCfg.IsEIP158(header.Number))
	header.TxHash = types.DeriveSha(w.transactions, trie.NewStackTrie(nil))
	header.ReceiptHash = types.DeriveSha(w.receipts, trie.NewStackTrie(nil))
	header.Bloom = types.CreateBloom(w.receipts)
	if w.withdrawals != nil {
		withdrawalsHash := types.DeriveSha(*w.withdrawals, trie.NewStackTrie(nil))
		header.WithdrawalsHash = &withdrawalsHash
	}

	// Persist the new trie nodes so follow-up blocks and the output-root
	// computation can read the committed state.
	root, err := w.state.Commit(header.Number.Uint64(), chainCfg.IsEIP158(header.Number))
	if err != nil {
		return nil, fmt.Errorf("state write error: %w", err)
	}
	if root != header.Root {
		return nil, fmt.Errorf("state root mismatch, header has %s, commit got %s", header.Root, root)
	}
	if err := w.state.Database().TrieDB().Commit(root, false); err != nil {
		return nil, fmt.Errorf("trie write error: %w", err)
	}

	block := types.NewBlockWithHeader(header).WithBody(w.transactions, nil)
	if w.withdrawals != nil {
		block = block.WithWithdrawals(*w.withdrawals)
	}
	return block, nil
}

// Receipts exposes the execution receipts of the built block.
func (w *BlockProcessor) Receipts() types.Receipts {
	return w.receipts
}

// chainContext adapts the provider for core.ApplyTransaction.
type chainContext struct {
	provider BlockDataProvider
}

func newChainContext(provider BlockDataProvider) chainContext {
	return chainContext{provider: provider}
}

func (c chainContext) Engine() consensus.Engine {
	return c.provider.Engine()
}

func (c chainContext) GetHeader(hash common.Hash, number uint64) *types.Header {
	return c.provider.GetHeader(hash, number)
}
