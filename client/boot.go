package client

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/preimage"
	"github.com/oplabs/fp-program/rollup"
)

// Bootstrap data is served under well-known local pre-image keys.
const (
	L1HeadLocalIndex preimage.LocalIndexKey = iota + 1
	L2OutputRootLocalIndex
	L2ClaimLocalIndex
	L2ClaimBlockNumberLocalIndex
	L2ChainIDLocalIndex
	RollupConfigLocalIndex
)

// CustomChainIDIndicator is the L2 chain ID value indicating that the rollup
// config must come from the bootstrap JSON instead of the registry.
const CustomChainIDIndicator = uint64(math.MaxUint64)

// BootInfo is the single-chain bootstrap data.
type BootInfo struct {
	L1Head             common.Hash
	L2OutputRoot       common.Hash
	L2Claim            common.Hash
	L2ClaimBlockNumber uint64
	L2ChainID          uint64

	RollupConfig *rollup.Config
}

type oracleClient interface {
	Get(key preimage.Key) []byte
}

// BootstrapClient reads the boot info from the oracle.
type BootstrapClient struct {
	r oracleClient
}

func NewBootstrapClient(r oracleClient) *BootstrapClient {
	return &BootstrapClient{r: r}
}

func (br *BootstrapClient) BootInfo(logger log.Logger) *BootInfo {
	l1Head := common.BytesToHash(br.r.Get(L1HeadLocalIndex))
	l2OutputRoot := common.BytesToHash(br.r.Get(L2OutputRootLocalIndex))
	l2Claim := common.BytesToHash(br.r.Get(L2ClaimLocalIndex))
	l2ClaimBlockNumber := binary.BigEndian.Uint64(br.r.Get(L2ClaimBlockNumberLocalIndex))
	l2ChainID := binary.BigEndian.Uint64(br.r.Get(L2ChainIDLocalIndex))

	rollupConfig, err := rollup.LoadOPStackRollupConfig(l2ChainID)
	if err != nil {
		logger.Warn("Chain ID not in the superchain registry, reading bootstrap rollup config", "chain_id", l2ChainID, "err", err)
		rollupConfig = loadCustomRollupConfig(br.r)
	}

	return &BootInfo{
		L1Head:             l1Head,
		L2OutputRoot:       l2OutputRoot,
		L2Claim:            l2Claim,
		L2ClaimBlockNumber: l2ClaimBlockNumber,
		L2ChainID:          l2ChainID,
		RollupConfig:       rollupConfig,
	}
}

func loadCustomRollupConfig(r oracleClient) *rollup.Config {
	cfg, err := rollup.ParseRollupConfig(r.Get(RollupConfigLocalIndex))
	if err != nil {
		panic(fmt.Errorf("failed to bootstrap rollup config: %w", err))
	}
	return cfg
}
