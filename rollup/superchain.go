package rollup

import (
	"fmt"
	"math/big"

	"github.com/ethereum-optimism/superchain-registry/superchain"
	"github.com/ethereum/go-ethereum/common"

	"github.com/oplabs/fp-program/eth"
)

const (
	opMainnetChainID = 10

	// Standard OP Stack timing parameters. Chains in the superchain registry
	// all run with these; custom chains supply a full config instead.
	defaultBlockTime         = 2
	defaultMaxSequencerDrift = 600
	defaultSeqWindowSize     = 3600
	defaultChannelTimeout    = 300
)

// LoadOPStackRollupConfig resolves the rollup config of a superchain-registry
// chain by its L2 chain ID.
func LoadOPStackRollupConfig(chainID uint64) (*Config, error) {
	chConfig, ok := superchain.OPChains[chainID]
	if !ok {
		return nil, fmt.Errorf("unknown chain ID: %d", chainID)
	}
	superChain, ok := superchain.Superchains[chConfig.Superchain]
	if !ok {
		return nil, fmt.Errorf("chain %d is part of unknown superchain %q", chainID, chConfig.Superchain)
	}
	addrs, ok := superchain.Addresses[chainID]
	if !ok {
		return nil, fmt.Errorf("unable to retrieve deposit contract address for chain %d", chainID)
	}

	var genesisSysConfig eth.SystemConfig
	if sysCfg, ok := superchain.GenesisSystemConfigs[chainID]; ok {
		genesisSysConfig = eth.SystemConfig{
			BatcherAddr: common.Address(sysCfg.BatcherAddr),
			Overhead:    eth.Bytes32(sysCfg.Overhead),
			Scalar:      eth.Bytes32(sysCfg.Scalar),
			GasLimit:    sysCfg.GasLimit,
		}
	} else {
		return nil, fmt.Errorf("unable to retrieve genesis system config of chain %d", chainID)
	}

	regolithTime := uint64(0)
	cfg := &Config{
		Genesis: Genesis{
			L1: eth.BlockID{
				Hash:   common.Hash(chConfig.Genesis.L1.Hash),
				Number: chConfig.Genesis.L1.Number,
			},
			L2: eth.BlockID{
				Hash:   common.Hash(chConfig.Genesis.L2.Hash),
				Number: chConfig.Genesis.L2.Number,
			},
			L2Time:       chConfig.Genesis.L2Time,
			SystemConfig: genesisSysConfig,
		},
		BlockTime:         defaultBlockTime,
		MaxSequencerDrift: defaultMaxSequencerDrift,
		SeqWindowSize:     defaultSeqWindowSize,
		ChannelTimeout:    defaultChannelTimeout,
		L1ChainID:         new(big.Int).SetUint64(superChain.Config.L1.ChainID),
		L2ChainID:         new(big.Int).SetUint64(chConfig.ChainID),
		RegolithTime:      &regolithTime,
		CanyonTime:        chConfig.CanyonTime,
		DeltaTime:         chConfig.DeltaTime,
		EcotoneTime:       chConfig.EcotoneTime,
		// Later forks are not in the pinned registry data; custom configs
		// supply them via the bootstrap JSON instead.
		BatchInboxAddress:      common.Address(chConfig.BatchInboxAddr),
		DepositContractAddress: common.Address(addrs.OptimismPortalProxy),
		L1SystemConfigAddress:  common.Address(addrs.SystemConfigProxy),
	}
	return cfg, nil
}
