package client

import (
	"errors"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/client/claim"
	"github.com/oplabs/fp-program/client/l1"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/client/tasks"
	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/preimage"
)

// Main executes the single-chain client program against the FPVM pre-image
// channels and exits with code 0 on a validated claim, 1 otherwise.
func Main(logger log.Logger) {
	logger.Info("Starting fault proof program client")
	preimageOracle := preimage.ClientPreimageChannel()
	preimageHinter := preimage.ClientHinterChannel()
	if err := RunProgram(logger, preimageOracle, preimageHinter); errors.Is(err, claim.ErrClaimNotValid) {
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

// RunProgram executes the program in a goroutine-free, run-to-completion
// fashion, reading all pre-images through the provided channels.
func RunProgram(logger log.Logger, preimageOracle io.ReadWriter, preimageHinter io.ReadWriter) error {
	pClient := preimage.NewOracleClient(preimageOracle)
	hClient := preimage.NewHintWriter(preimageHinter)
	cachingOracle := NewCachingOracle(pClient, hClient, DefaultOracleCacheSize)

	bootInfo := NewBootstrapClient(cachingOracle).BootInfo(logger)
	return runDerivation(logger, bootInfo, cachingOracle)
}

func runDerivation(logger log.Logger, bootInfo *BootInfo, cachingOracle *CachingOracle) error {
	logger.Info("Program Bootstrapped",
		"l1_head", bootInfo.L1Head,
		"l2_output_root", bootInfo.L2OutputRoot,
		"l2_claim", bootInfo.L2Claim,
		"l2_claim_block", bootInfo.L2ClaimBlockNumber,
		"l2_chain_id", bootInfo.L2ChainID,
	)

	// Trace extension: the claim asserts no state change. No derivation work
	// is needed to verify it.
	if bootInfo.L2Claim == bootInfo.L2OutputRoot {
		logger.Info("Claim equals agreed output root, no derivation needed")
		return nil
	}

	l1Oracle := l1.NewPreimageOracle(cachingOracle, cachingOracle)
	l2Oracle := l2.NewPreimageOracle(cachingOracle, cachingOracle, bootInfo.L2ChainID)
	chainCfg := l2.ChainConfigFromRollupConfig(bootInfo.RollupConfig)

	result, err := tasks.RunDerivation(
		logger,
		bootInfo.RollupConfig,
		chainCfg,
		bootInfo.L1Head,
		bootInfo.L2OutputRoot,
		bootInfo.L2ClaimBlockNumber,
		l1Oracle,
		l2Oracle,
		cachingOracle,
	)
	if err != nil {
		return err
	}
	return claim.ValidateClaim(logger, eth.Bytes32(bootInfo.L2Claim), result.OutputRoot)
}
