package l2

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client/l2/engineapi"
	"github.com/oplabs/fp-program/client/l2/engineapi/precompiles"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

var ErrInvalidPayload = errors.New("invalid payload")

// OracleEngine executes derived payload attributes on top of the
// oracle-backed chain and tracks the resulting safe head.
type OracleEngine struct {
	logger           log.Logger
	rollupCfg        *rollup.Config
	backend          *OracleBackedL2Chain
	precompileOracle precompiles.PrecompileOracle
}

func NewOracleEngine(logger log.Logger, rollupCfg *rollup.Config, backend *OracleBackedL2Chain, precompileOracle precompiles.PrecompileOracle) *OracleEngine {
	return &OracleEngine{
		logger:           logger,
		rollupCfg:        rollupCfg,
		backend:          backend,
		precompileOracle: precompileOracle,
	}
}

func (e *OracleEngine) Backend() *OracleBackedL2Chain {
	return e.backend
}

// ExecutePayload builds and canonicalizes the block described by the payload
// attributes. Failures are critical: derived attributes are valid by
// construction, so execution must succeed.
func (e *OracleEngine) ExecutePayload(attrs *eth.PayloadAttributes) (*types.Block, error) {
	parent := e.backend.CurrentHeader()
	timestamp := uint64(attrs.Timestamp)

	vmCfg := vm.Config{
		OptimismPrecompileOverrides: precompiles.CreatePrecompileOverrides(e.precompileOracle, precompiles.ForkActivations{
			Granite: e.rollupCfg.IsGranite(timestamp),
			Isthmus: e.rollupCfg.IsIsthmus(timestamp),
		}),
	}
	processor, err := engineapi.NewBlockProcessorFromPayloadAttributes(e.backend, parent.Hash(), attrs, vmCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if e.rollupCfg.IsIsthmus(timestamp) {
		if err := processor.ProcessIsthmusSystemCalls(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	txs, err := eth.DecodeTransactions(attrs.Transactions)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode payload transactions: %v", ErrInvalidPayload, err)
	}
	for i, tx := range txs {
		if err := processor.CheckTxWithinGasLimit(tx); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrInvalidPayload, i, err)
		}
		if err := processor.AddTx(tx); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrInvalidPayload, i, err)
		}
	}

	block, err := processor.Assemble()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to seal block: %v", ErrInvalidPayload, err)
	}
	if err := e.backend.InsertBlockWithoutSetHead(block); err != nil {
		return nil, err
	}
	if _, err := e.backend.SetCanonical(block); err != nil {
		return nil, err
	}
	e.logger.Info("Executed payload", "hash", block.Hash(), "number", block.NumberU64(), "txs", len(txs), "gas_used", block.GasUsed())
	return block, nil
}

// L2OutputRoot computes the output root at the given block number.
func (e *OracleEngine) L2OutputRoot(l2BlockNumber uint64) (eth.Bytes32, error) {
	return e.backend.L2OutputRoot(l2BlockNumber)
}
