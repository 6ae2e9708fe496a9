package interop

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/oplabs/fp-program/client"
	"github.com/oplabs/fp-program/client/claim"
	"github.com/oplabs/fp-program/client/interop/types"
	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/client/tasks"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
	"github.com/oplabs/fp-program/rollup"
)

var (
	ErrIncorrectOutputRootType = errors.New("incorrect output root type")
	ErrL1HeadReached           = errors.New("l1 head reached")

	// InvalidTransition is the pre-image of the sentinel transition hash: a
	// pre/post state pair both equal to it short-circuits to success.
	InvalidTransition     = []byte("invalid")
	InvalidTransitionHash = crypto.Keccak256Hash(InvalidTransition)
)

// TransitionStateMaxSteps is the step at which the pending progress is
// consolidated into the next super root. Steps between the chain count and
// this bound are padding.
const TransitionStateMaxSteps = 1023

// taskExecutor abstracts the per-chain derivation run, for testing.
type taskExecutor interface {
	RunDerivation(
		logger log.Logger,
		rollupCfg *rollup.Config,
		l2ChainConfig *params.ChainConfig,
		l1Head common.Hash,
		agreedOutputRoot eth.Bytes32,
		claimedBlockNumber uint64,
		l1Oracle l1.Oracle,
		l2Oracle l2.Oracle) (tasks.DerivationResult, error)
}

// Main executes the interop client program against the FPVM pre-image channels.
func Main(logger log.Logger) {
	logger.Info("Starting interop fault proof program client")
	preimageOracle := preimage.ClientPreimageChannel()
	preimageHinter := preimage.ClientHinterChannel()
	if err := RunInteropProgram(logger, preimageOracle, preimageHinter); errors.Is(err, claim.ErrClaimNotValid) {
		logger.Error("Claim is invalid", "err", err)
		os.Exit(1)
	} else if err != nil {
		logger.Error("Program failed", "err", err)
		os.Exit(1)
	} else {
		logger.Info("Claim successfully verified")
		os.Exit(0)
	}
}

// RunInteropProgram validates one step of the superchain transition.
func RunInteropProgram(logger log.Logger, preimageOracle io.ReadWriter, preimageHinter io.ReadWriter) error {
	pClient := preimage.NewOracleClient(preimageOracle)
	hClient := preimage.NewHintWriter(preimageHinter)
	cachingOracle := client.NewCachingOracle(pClient, hClient, client.DefaultOracleCacheSize)

	bootInfo := BootstrapInterop(cachingOracle)
	return runInteropProgram(logger, bootInfo, cachingOracle, &interopTaskExecutor{})
}

func runInteropProgram(logger log.Logger, bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle, tasks taskExecutor) error {
	logger.Info("Interop Program Bootstrapped",
		"l1_head", bootInfo.L1Head,
		"agreed_prestate", bootInfo.AgreedPrestate,
		"claim", bootInfo.Claim,
		"claim_timestamp", bootInfo.ClaimTimestamp,
	)

	expected, err := stateTransition(logger, bootInfo, cachingOracle, tasks)
	if err != nil {
		return err
	}
	return claim.ValidateClaim(logger, eth.Bytes32(bootInfo.Claim), eth.Bytes32(expected))
}

// stateTransition advances the transition state by exactly one step.
func stateTransition(logger log.Logger, bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle, tasks taskExecutor) (common.Hash, error) {
	if bootInfo.AgreedPrestate == InvalidTransitionHash {
		return InvalidTransitionHash, nil
	}
	transitionState, superRoot, err := parseAgreedState(bootInfo, cachingOracle)
	if err != nil {
		return common.Hash{}, err
	}

	if transitionState.Step == TransitionStateMaxSteps {
		return RunConsolidation(logger, bootInfo, cachingOracle, transitionState, superRoot)
	}

	expectedPendingProgress := transitionState.PendingProgress
	if transitionState.Step < uint64(len(superRoot.Chains)) {
		block, err := deriveOptimisticBlock(logger, bootInfo, cachingOracle, superRoot, transitionState, tasks)
		if errors.Is(err, ErrL1HeadReached) {
			return InvalidTransitionHash, nil
		} else if err != nil {
			return common.Hash{}, err
		}
		expectedPendingProgress = append(expectedPendingProgress, block)
	}
	// Steps past the chain count are padding until the consolidation step.
	finalState := &types.TransitionState{
		SuperRoot:       transitionState.SuperRoot,
		PendingProgress: expectedPendingProgress,
		Step:            transitionState.Step + 1,
	}
	return finalState.Hash(), nil
}

func parseAgreedState(bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle) (*types.TransitionState, *eth.SuperV1, error) {
	// For the first step of a timestamp the agreed pre-state is a plain super
	// root; TransitionStateByRoot promotes it to a step-0 transition state.
	l2Oracle := l2.NewPreimageOracle(cachingOracle, cachingOracle, 0)
	transitionState := l2Oracle.TransitionStateByRoot(bootInfo.AgreedPrestate)
	if transitionState.Version() != types.IntermediateTransitionVersion {
		return nil, nil, fmt.Errorf("%w: %v", ErrIncorrectOutputRootType, transitionState.Version())
	}

	super, err := eth.UnmarshalSuperRoot(transitionState.SuperRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid super root: %w", err)
	}
	superRoot, ok := super.(*eth.SuperV1)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrIncorrectOutputRootType, super.Version())
	}
	return transitionState, superRoot, nil
}

// deriveOptimisticBlock runs one chain's sub-transition towards the next
// timestamp, without checking cross-chain dependencies yet.
func deriveOptimisticBlock(logger log.Logger, bootInfo *BootInfoInterop, cachingOracle *client.CachingOracle, superRoot *eth.SuperV1, transitionState *types.TransitionState, tasks taskExecutor) (types.OptimisticBlock, error) {
	chainAgreedPrestate := superRoot.Chains[transitionState.Step]
	rollupCfg, err := bootInfo.Configs.RollupConfig(chainAgreedPrestate.ChainID)
	if err != nil {
		return types.OptimisticBlock{}, fmt.Errorf("no rollup config available for chain ID %v: %w", chainAgreedPrestate.ChainID, err)
	}
	l2ChainConfig, err := bootInfo.Configs.ChainConfig(chainAgreedPrestate.ChainID)
	if err != nil {
		return types.OptimisticBlock{}, fmt.Errorf("no chain config available for chain ID %v: %w", chainAgreedPrestate.ChainID, err)
	}
	claimedBlockNumber, err := rollupCfg.TargetBlockNumber(superRoot.Timestamp + 1)
	if err != nil {
		return types.OptimisticBlock{}, err
	}

	l1Oracle := l1.NewPreimageOracle(cachingOracle, cachingOracle)
	l2Oracle := l2.NewPreimageOracle(cachingOracle, cachingOracle, chainAgreedPrestate.ChainID)
	derivationResult, err := tasks.RunDerivation(
		logger,
		rollupCfg,
		l2ChainConfig,
		bootInfo.L1Head,
		chainAgreedPrestate.Output,
		claimedBlockNumber,
		l1Oracle,
		l2Oracle,
	)
	if err != nil {
		return types.OptimisticBlock{}, err
	}
	if derivationResult.Head.Number < claimedBlockNumber {
		return types.OptimisticBlock{}, ErrL1HeadReached
	}

	return types.OptimisticBlock{
		BlockHash:  derivationResult.BlockHash,
		OutputRoot: derivationResult.OutputRoot,
	}, nil
}

type interopTaskExecutor struct {
}

func (t *interopTaskExecutor) RunDerivation(
	logger log.Logger,
	rollupCfg *rollup.Config,
	l2ChainConfig *params.ChainConfig,
	l1Head common.Hash,
	agreedOutputRoot eth.Bytes32,
	claimedBlockNumber uint64,
	l1Oracle l1.Oracle,
	l2Oracle l2.Oracle) (tasks.DerivationResult, error) {
	return tasks.RunDerivation(
		logger,
		rollupCfg,
		l2ChainConfig,
		l1Head,
		common.Hash(agreedOutputRoot),
		claimedBlockNumber,
		l1Oracle,
		l2Oracle)
}
