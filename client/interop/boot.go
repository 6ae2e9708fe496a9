package interop

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/oplabs/fp-program/client"
	"github.com/oplabs/fp-program/client/l2"
	"github.com/oplabs/fp-program/preimage"
	"github.com/oplabs/fp-program/rollup"
)

// ConfigSource resolves per-chain configuration for the interop dependency set.
type ConfigSource interface {
	RollupConfig(chainID uint64) (*rollup.Config, error)
	ChainConfig(chainID uint64) (*params.ChainConfig, error)
}

// BootInfoInterop is the interop bootstrap data. It reuses the local key
// space of the single-chain boot, with interop semantics: the agreed value is
// a pre-state commitment (super root or transition state) and the claim is a
// post-state commitment at a timestamp.
type BootInfoInterop struct {
	Configs ConfigSource

	L1Head         common.Hash
	AgreedPrestate common.Hash
	Claim          common.Hash
	ClaimTimestamp uint64
}

type oracleClient interface {
	Get(key preimage.Key) []byte
}

// OracleConfigSource resolves configs from the registry first, and falls back
// to the bootstrap JSON list of configs under the rollup-config local key.
type OracleConfigSource struct {
	oracle oracleClient

	customConfigsLoaded bool
	customConfigs       map[uint64]*rollup.Config
}

func (c *OracleConfigSource) RollupConfig(chainID uint64) (*rollup.Config, error) {
	if cfg, err := rollup.LoadOPStackRollupConfig(chainID); err == nil {
		return cfg, nil
	}
	if !c.customConfigsLoaded {
		if err := c.loadCustomConfigs(); err != nil {
			return nil, err
		}
	}
	cfg, ok := c.customConfigs[chainID]
	if !ok {
		return nil, fmt.Errorf("no rollup config available for chain ID: %d", chainID)
	}
	return cfg, nil
}

func (c *OracleConfigSource) ChainConfig(chainID uint64) (*params.ChainConfig, error) {
	cfg, err := c.RollupConfig(chainID)
	if err != nil {
		return nil, err
	}
	return l2.ChainConfigFromRollupConfig(cfg), nil
}

func (c *OracleConfigSource) loadCustomConfigs() error {
	data := c.oracle.Get(client.RollupConfigLocalIndex)
	var configs []*rollup.Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("failed to bootstrap rollup configs: %w", err)
	}
	c.customConfigs = make(map[uint64]*rollup.Config, len(configs))
	for _, cfg := range configs {
		c.customConfigs[cfg.L2ChainID.Uint64()] = cfg
	}
	c.customConfigsLoaded = true
	return nil
}

// BootstrapInterop reads the interop boot info from the oracle.
func BootstrapInterop(r oracleClient) *BootInfoInterop {
	l1Head := common.BytesToHash(r.Get(client.L1HeadLocalIndex))
	agreedPrestate := common.BytesToHash(r.Get(client.L2OutputRootLocalIndex))
	claim := common.BytesToHash(r.Get(client.L2ClaimLocalIndex))
	claimTimestamp := binary.BigEndian.Uint64(r.Get(client.L2ClaimBlockNumberLocalIndex))

	return &BootInfoInterop{
		Configs:        &OracleConfigSource{oracle: r},
		L1Head:         l1Head,
		AgreedPrestate: agreedPrestate,
		Claim:          claim,
		ClaimTimestamp: claimTimestamp,
	}
}
