package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/oplabs/fp-program/host/flags"
	"github.com/oplabs/fp-program/rollup"
)

var (
	ErrInvalidL1Head       = errors.New("invalid l1 head")
	ErrInvalidL2OutputRoot = errors.New("invalid l2 output root")
	ErrInvalidL2Claim      = errors.New("invalid l2 claim")
	ErrInvalidL2ClaimBlock = errors.New("invalid l2 claim block number")
	ErrMissingL2ChainID    = errors.New("missing l2 chain id")
	ErrDataDirRequired     = errors.New("datadir must be specified when in non-fetching mode")
	ErrNoExecInServerMode  = errors.New("exec command must not be set when in server mode")
)

type Config struct {
	// DataDir is the directory to read/write pre-image data from/to.
	// If not set, an in-memory key-value store is used and fetching data must be enabled
	DataDir string

	// KVRemoteURL is the address of a shared remote pre-image store, used
	// instead of the local store when set.
	KVRemoteURL string

	// L1Head is the block hash of the L1 chain head block
	L1Head common.Hash

	// L2OutputRoot is the agreed L2 output root to start derivation from
	L2OutputRoot common.Hash

	// L2Claim is the claimed L2 output root to validate
	L2Claim common.Hash

	// L2ClaimBlockNumber is the block number the claim is made for
	L2ClaimBlockNumber uint64

	// L2ChainID is the chain ID of the L2 chain
	L2ChainID uint64

	// RollupConfig is the rollup configuration, required for chains that are
	// not in the superchain registry
	RollupConfig *rollup.Config

	// ExecCmd names a client program to execute in a separate process. The
	// host does not support this: a run with ExecCmd set fails.
	// If unset, the fault proof client is run in the same process.
	ExecCmd string

	// ServerMode indicates that the program should run in pre-image server mode and wait for requests.
	// No client program is run.
	ServerMode bool

	// InteropEnabled runs the interop client instead of the single-chain client.
	InteropEnabled bool

	// AgreedPrestate is the pre-image of the agreed pre-state commitment
	// (interop only): a super root or transition state encoding.
	AgreedPrestate []byte
}

func (c *Config) Check() error {
	if c.L1Head == (common.Hash{}) {
		return ErrInvalidL1Head
	}
	if c.L2OutputRoot == (common.Hash{}) {
		return ErrInvalidL2OutputRoot
	}
	if c.L2Claim == (common.Hash{}) {
		return ErrInvalidL2Claim
	}
	if c.L2ChainID == 0 && c.RollupConfig == nil {
		return ErrMissingL2ChainID
	}
	if c.ServerMode && c.ExecCmd != "" {
		return ErrNoExecInServerMode
	}
	return nil
}

// NewConfig creates a Config with all optional values set to the CLI default value
func NewConfig(l1Head, l2OutputRoot, l2Claim common.Hash, l2ClaimBlockNumber uint64, l2ChainID uint64) *Config {
	return &Config{
		L1Head:             l1Head,
		L2OutputRoot:       l2OutputRoot,
		L2Claim:            l2Claim,
		L2ClaimBlockNumber: l2ClaimBlockNumber,
		L2ChainID:          l2ChainID,
	}
}

func NewConfigFromCLI(log log.Logger, ctx *cli.Context) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, err
	}
	l1Head := common.HexToHash(ctx.String(flags.L1Head.Name))
	if l1Head == (common.Hash{}) {
		return nil, ErrInvalidL1Head
	}
	l2OutputRoot := common.HexToHash(ctx.String(flags.L2OutputRoot.Name))
	if l2OutputRoot == (common.Hash{}) {
		return nil, ErrInvalidL2OutputRoot
	}
	l2Claim := common.HexToHash(ctx.String(flags.L2Claim.Name))
	if l2Claim == (common.Hash{}) {
		return nil, ErrInvalidL2Claim
	}

	var rollupConfig *rollup.Config
	if path := ctx.String(flags.RollupConfigPath.Name); path != "" {
		cfg, err := loadRollupConfig(path)
		if err != nil {
			return nil, err
		}
		rollupConfig = cfg
	}

	return &Config{
		DataDir:            ctx.String(flags.DataDir.Name),
		KVRemoteURL:        ctx.String(flags.KVRemoteURL.Name),
		L1Head:             l1Head,
		L2OutputRoot:       l2OutputRoot,
		L2Claim:            l2Claim,
		L2ClaimBlockNumber: ctx.Uint64(flags.L2ClaimBlockNumber.Name),
		L2ChainID:          ctx.Uint64(flags.L2ChainID.Name),
		RollupConfig:       rollupConfig,
		ExecCmd:            ctx.String(flags.Exec.Name),
		ServerMode:         ctx.Bool(flags.Server.Name),
		InteropEnabled:     ctx.Bool(flags.Interop.Name),
	}, nil
}

func loadRollupConfig(path string) (*rollup.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rollup config file: %w", err)
	}
	var cfg rollup.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rollup config file: %w", err)
	}
	return &cfg, nil
}
