package flags

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "OP_PROGRAM"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + strings.ReplaceAll(name, ".", "_")}
}

var (
	DataDir = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory to use for preimage data storage. Default uses in-memory storage",
		EnvVars: prefixEnvVars("DATADIR"),
	}
	KVRemoteURL = &cli.StringFlag{
		Name:    "kv.remote",
		Usage:   "Address of a shared remote pre-image store to use instead of local storage",
		EnvVars: prefixEnvVars("KV_REMOTE"),
	}
	L1Head = &cli.StringFlag{
		Name:    "l1.head",
		Usage:   "Hash of the L1 head block. Derivation stops after this block is processed.",
		EnvVars: prefixEnvVars("L1_HEAD"),
	}
	L2OutputRoot = &cli.StringFlag{
		Name:    "l2.outputroot",
		Usage:   "Agreed L2 Output Root to start derivation from",
		EnvVars: prefixEnvVars("L2_OUTPUT_ROOT"),
	}
	L2Claim = &cli.StringFlag{
		Name:    "l2.claim",
		Usage:   "Claimed L2 output root to validate",
		EnvVars: prefixEnvVars("L2_CLAIM"),
	}
	L2ClaimBlockNumber = &cli.Uint64Flag{
		Name:    "l2.blocknumber",
		Usage:   "Number of the L2 block that the claim is from",
		EnvVars: prefixEnvVars("L2_BLOCK_NUM"),
	}
	L2ChainID = &cli.Uint64Flag{
		Name:    "l2.chainid",
		Usage:   "L2 chain ID, used to select a rollup config from the superchain registry",
		EnvVars: prefixEnvVars("L2_CHAIN_ID"),
	}
	RollupConfigPath = &cli.StringFlag{
		Name:    "rollup.config",
		Usage:   "Rollup chain parameters file, for chains not in the superchain registry",
		EnvVars: prefixEnvVars("ROLLUP_CONFIG"),
	}
	Exec = &cli.StringFlag{
		Name:    "exec",
		Usage:   "Run the specified client program as a separate process detached from the host. Not supported: setting it makes the run fail. Default is to run the client program in the host process.",
		EnvVars: prefixEnvVars("EXEC"),
	}
	Server = &cli.BoolFlag{
		Name:    "server",
		Usage:   "Run in pre-image server mode without executing any client program.",
		EnvVars: prefixEnvVars("SERVER"),
	}
	Interop = &cli.BoolFlag{
		Name:    "interop",
		Usage:   "Run the interop client, validating a superchain transition step instead of a single-chain claim.",
		EnvVars: prefixEnvVars("INTEROP"),
	}
)

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag

var requiredFlags = []cli.Flag{
	L1Head,
	L2OutputRoot,
	L2Claim,
	L2ClaimBlockNumber,
}

var programFlags = []cli.Flag{
	DataDir,
	KVRemoteURL,
	L2ChainID,
	RollupConfigPath,
	Exec,
	Server,
	Interop,
}

func init() {
	Flags = append(Flags, requiredFlags...)
	Flags = append(Flags, programFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, flag := range requiredFlags {
		if !ctx.IsSet(flag.Names()[0]) {
			return fmt.Errorf("flag %s is required", flag.Names()[0])
		}
	}
	return nil
}
