package interop

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client"
	"github.com/oplabs/fp-program/client/interop/types"
	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/eth"
)

// CrossL2InboxAddress is the predeploy that emits ExecutingMessage logs.
var CrossL2InboxAddress = common.HexToAddress("0x4200000000000000000000000000000000000022")

var (
	ExecutingMessageEventABI  = "ExecutingMessage(bytes32,(address,uint256,uint256,uint256,uint256))"
	ExecutingMessageEventHash = crypto.Keccak256Hash([]byte(ExecutingMessageEventABI))
)

var ErrInvalidPendingProgress = errors.New("transition state pending progress does not cover all chains")

// messageIdentifier locates the initiating message an executing message points at.
type messageIdentifier struct {
	Origin      common.Address
	BlockNumber uint64
	LogIndex    uint64
	Timestamp   uint64
	ChainID     uint64
}

// chainProgress is the consolidation working set of one chain.
type chainProgress struct {
	chainID  uint64
	oracle   l2.Oracle
	agreed   *eth.OutputV0
	block    *gethtypes.Block
	receipts gethtypes.Receipts
	progress types.OptimisticBlock
}

// RunConsolidation validates the cross-chain dependencies of every pending
// optimistic block and emits the super root at the next timestamp. Chains
// whose executing messages fail validation are re-executed deposit-only.
func RunConsolidation(logger log.Logger, bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle, transitionState *types.TransitionState, superRoot *eth.SuperV1) (common.Hash, error) {
	if len(transitionState.PendingProgress) != len(superRoot.Chains) {
		return common.Hash{}, fmt.Errorf("%w: %d chains, %d pending", ErrInvalidPendingProgress, len(superRoot.Chains), len(transitionState.PendingProgress))
	}

	chains := make([]*chainProgress, len(superRoot.Chains))
	for i, chain := range superRoot.Chains {
		oracle := l2.NewPreimageOracle(cachingOracle, cachingOracle, chain.ChainID)
		progress := transitionState.PendingProgress[i]

		agreedOutput, ok := oracle.OutputByRoot(common.Hash(chain.Output)).(*eth.OutputV0)
		if !ok {
			return common.Hash{}, fmt.Errorf("%w: chain %d agreed output", ErrIncorrectOutputRootType, chain.ChainID)
		}
		// The optimistic block may not be canonical after consolidation; the
		// block-data hint makes the host materialize its pre-images regardless.
		block := oracle.BlockDataByHash(agreedOutput.BlockHash, progress.BlockHash)
		_, receipts := oracle.ReceiptsByBlockHash(progress.BlockHash)

		chains[i] = &chainProgress{
			chainID:  chain.ChainID,
			oracle:   oracle,
			agreed:   agreedOutput,
			block:    block,
			receipts: receipts,
			progress: progress,
		}
	}

	consolidated := make([]eth.ChainIDAndOutput, 0, len(chains))
	for _, chain := range chains {
		valid, err := checkCrossChainMessages(logger, chain, chains, superRoot.Timestamp+1)
		if err != nil {
			return common.Hash{}, err
		}
		output := chain.progress.OutputRoot
		if !valid {
			logger.Warn("Chain has invalid executing messages, replacing with deposit-only block", "chain_id", chain.chainID)
			output, err = buildDepositOnlyBlock(logger, bootInfo, cachingOracle, chain)
			if err != nil {
				return common.Hash{}, fmt.Errorf("failed to build deposit-only block for chain %d: %w", chain.chainID, err)
			}
		}
		consolidated = append(consolidated, eth.ChainIDAndOutput{ChainID: chain.chainID, Output: output})
	}

	super := &eth.SuperV1{
		Timestamp: superRoot.Timestamp + 1,
		Chains:    consolidated,
	}
	return eth.SuperRootHash(super), nil
}

// checkCrossChainMessages validates every ExecutingMessage log of the chain's
// optimistic block against the initiating chain's receipts.
func checkCrossChainMessages(logger log.Logger, chain *chainProgress, chains []*chainProgress, superRootTimestamp uint64) (bool, error) {
	execTimestamp := chain.block.Time()
	for _, rec := range chain.receipts {
		for _, ev := range rec.Logs {
			if ev.Address != CrossL2InboxAddress || len(ev.Topics) != 2 || ev.Topics[0] != ExecutingMessageEventHash {
				continue
			}
			msgHash := ev.Topics[1]
			ident, err := parseMessageIdentifier(ev.Data)
			if err != nil {
				logger.Warn("Malformed executing message", "chain_id", chain.chainID, "err", err)
				return false, nil
			}
			if execTimestamp > superRootTimestamp {
				logger.Warn("Executing message is past the super root timestamp", "chain_id", chain.chainID)
				return false, nil
			}
			if ident.Timestamp > execTimestamp {
				logger.Warn("Executing message depends on a future initiating message", "chain_id", chain.chainID)
				return false, nil
			}
			initChain := findChain(chains, ident.ChainID)
			if initChain == nil {
				logger.Warn("Executing message references unknown chain", "chain_id", ident.ChainID)
				return false, nil
			}
			ok, err := checkInitiatingMessage(initChain, ident, msgHash)
			if err != nil {
				return false, err
			}
			if !ok {
				logger.Warn("Invalid initiating message reference",
					"chain_id", chain.chainID, "init_chain_id", ident.ChainID, "msg_hash", msgHash)
				return false, nil
			}
		}
	}
	return true, nil
}

func findChain(chains []*chainProgress, chainID uint64) *chainProgress {
	for _, chain := range chains {
		if chain.chainID == chainID {
			return chain
		}
	}
	return nil
}

// checkInitiatingMessage finds the referenced log on the initiating chain and
// validates origin, payload hash and timestamp.
func checkInitiatingMessage(initChain *chainProgress, ident messageIdentifier, msgHash common.Hash) (bool, error) {
	receipts, header, err := receiptsAtBlockNumber(initChain, ident.BlockNumber)
	if err != nil {
		return false, err
	}
	if header.Time != ident.Timestamp {
		return false, nil
	}
	initLog := logAtIndex(receipts, ident.LogIndex)
	if initLog == nil {
		return false, nil
	}
	if initLog.Address != ident.Origin {
		return false, nil
	}
	return messagePayloadHash(initLog) == msgHash, nil
}

// receiptsAtBlockNumber walks the initiating chain backwards from its
// optimistic head to the requested block.
func receiptsAtBlockNumber(chain *chainProgress, number uint64) (gethtypes.Receipts, *gethtypes.Header, error) {
	if number > chain.block.NumberU64() {
		return nil, nil, fmt.Errorf("initiating block %d is ahead of chain %d head %d", number, chain.chainID, chain.block.NumberU64())
	}
	if number == chain.block.NumberU64() {
		return chain.receipts, chain.block.Header(), nil
	}
	header := chain.block.Header()
	for header.Number.Uint64() > number {
		header = chain.oracle.BlockByHash(header.ParentHash).Header()
	}
	_, receipts := chain.oracle.ReceiptsByBlockHash(header.Hash())
	return receipts, header, nil
}

// logAtIndex finds the log with the given block-level index.
func logAtIndex(receipts gethtypes.Receipts, logIndex uint64) *gethtypes.Log {
	idx := uint64(0)
	for _, rec := range receipts {
		for _, ev := range rec.Logs {
			if idx == logIndex {
				return ev
			}
			idx++
		}
	}
	return nil
}

// messagePayloadHash commits to an initiating message: the concatenation of
// its topics and data.
func messagePayloadHash(ev *gethtypes.Log) common.Hash {
	msg := make([]byte, 0, len(ev.Topics)*32+len(ev.Data))
	for _, topic := range ev.Topics {
		msg = append(msg, topic.Bytes()...)
	}
	msg = append(msg, ev.Data...)
	return crypto.Keccak256Hash(msg)
}

// parseMessageIdentifier decodes the ABI-encoded identifier tuple:
// (address origin, uint256 blockNumber, uint256 logIndex, uint256 timestamp, uint256 chainId).
func parseMessageIdentifier(data []byte) (messageIdentifier, error) {
	if len(data) != 5*32 {
		return messageIdentifier{}, fmt.Errorf("unexpected identifier length: %d", len(data))
	}
	var ident messageIdentifier
	ident.Origin = common.BytesToAddress(data[12:32])
	fields := []*uint64{&ident.BlockNumber, &ident.LogIndex, &ident.Timestamp, &ident.ChainID}
	for i, field := range fields {
		word := data[32*(i+1) : 32*(i+2)]
		for _, b := range word[:24] {
			if b != 0 {
				return messageIdentifier{}, fmt.Errorf("identifier field %d overflows uint64", i)
			}
		}
		*field = bytesToUint64(word[24:])
	}
	return ident, nil
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// buildDepositOnlyBlock re-executes the chain's pending block with user
// transactions stripped, and returns the replacement output root.
func buildDepositOnlyBlock(logger log.Logger, bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle, chain *chainProgress) (eth.Bytes32, error) {
	rollupCfg, err := bootInfo.Configs.RollupConfig(chain.chainID)
	if err != nil {
		return eth.Bytes32{}, err
	}
	chainCfg, err := bootInfo.Configs.ChainConfig(chain.chainID)
	if err != nil {
		return eth.Bytes32{}, err
	}

	backend, err := l2.NewOracleBackedL2Chain(logger, chain.oracle, chainCfg, agreedOutputRootOf(chain), vm.Config{})
	if err != nil {
		return eth.Bytes32{}, err
	}
	l1Oracle := l1.NewPreimageOracle(cachingOracle, cachingOracle)
	engine := l2.NewOracleEngine(logger, rollupCfg, backend, l1Oracle)

	header := chain.block.Header()
	var depositTxs []hexutil.Bytes
	for _, tx := range chain.block.Transactions() {
		if tx.Type() != gethtypes.DepositTxType {
			continue
		}
		opaque, err := tx.MarshalBinary()
		if err != nil {
			return eth.Bytes32{}, fmt.Errorf("failed to encode deposit tx: %w", err)
		}
		depositTxs = append(depositTxs, opaque)
	}

	gasLimit := hexutil.Uint64(header.GasLimit)
	attrs := &eth.PayloadAttributes{
		Timestamp:             hexutil.Uint64(header.Time),
		PrevRandao:            eth.Bytes32(header.MixDigest),
		SuggestedFeeRecipient: header.Coinbase,
		Transactions:          depositTxs,
		NoTxPool:              true,
		GasLimit:              &gasLimit,
		ParentBeaconBlockRoot: header.ParentBeaconRoot,
	}
	if rollupCfg.IsCanyon(header.Time) {
		attrs.Withdrawals = &gethtypes.Withdrawals{}
	}

	block, err := engine.ExecutePayload(attrs)
	if err != nil {
		return eth.Bytes32{}, err
	}
	return engine.L2OutputRoot(block.NumberU64())
}

func agreedOutputRootOf(chain *chainProgress) common.Hash {
	return crypto.Keccak256Hash(chain.agreed.Marshal())
}
