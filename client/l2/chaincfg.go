package l2

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	"github.com/oplabs/fp-program/rollup"
)

const (
	eip1559Elasticity        = uint64(6)
	eip1559Denominator       = uint64(50)
	eip1559DenominatorCanyon = uint64(250)
)

// ChainConfigFromRollupConfig derives the EVM chain configuration from the
// rollup configuration. All pre-Bedrock forks are active from genesis: the
// program never executes pre-Bedrock blocks. Forks newer than the pinned EVM
// (Granite and later) change derivation rules only and are handled outside
// the chain config.
func ChainConfigFromRollupConfig(cfg *rollup.Config) *params.ChainConfig {
	zero := big.NewInt(0)
	return &params.ChainConfig{
		ChainID:                       cfg.L2ChainID,
		HomesteadBlock:                zero,
		EIP150Block:                   zero,
		EIP155Block:                   zero,
		EIP158Block:                   zero,
		ByzantiumBlock:                zero,
		ConstantinopleBlock:           zero,
		PetersburgBlock:               zero,
		IstanbulBlock:                 zero,
		MuirGlacierBlock:              zero,
		BerlinBlock:                   zero,
		LondonBlock:                   zero,
		ArrowGlacierBlock:             zero,
		GrayGlacierBlock:              zero,
		MergeNetsplitBlock:            zero,
		TerminalTotalDifficulty:       zero,
		TerminalTotalDifficultyPassed: true,
		BedrockBlock:                  zero,
		RegolithTime:                  cfg.RegolithTime,
		CanyonTime:                    cfg.CanyonTime,
		ShanghaiTime:                  cfg.CanyonTime,
		CancunTime:                    cfg.EcotoneTime,
		EcotoneTime:                   cfg.EcotoneTime,
		FjordTime:                     cfg.FjordTime,
		Optimism: &params.OptimismConfig{
			EIP1559Elasticity:        eip1559Elasticity,
			EIP1559Denominator:       eip1559Denominator,
			EIP1559DenominatorCanyon: eip1559DenominatorCanyon,
		},
	}
}
