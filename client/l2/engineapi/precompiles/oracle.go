// Package precompiles replaces the expensive cryptographic precompiles with
// versions that defer to the host through the pre-image oracle. The host runs
// the real implementation and commits to the result; the program only checks
// shapes and trusts Precompile-keyed pre-images, which the FPVM on-chain
// oracle re-verifies.
package precompiles

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// PrecompileOracle fetches the result of a precompile call from the host.
// The returned flag is false when the host marked the call as failed.
type PrecompileOracle interface {
	Precompile(address common.Address, input []byte) ([]byte, bool)
}

var (
	ecrecoverPrecompileAddress          = common.BytesToAddress([]byte{0x01})
	bn256PairingPrecompileAddress       = common.BytesToAddress([]byte{0x08})
	kzgPointEvaluationPrecompileAddress = common.BytesToAddress([]byte{0x0a})
	bls12PairingPrecompileAddress       = common.BytesToAddress([]byte{0x0f})
)

// ForkActivations selects the precompile variants that depend on OP Stack
// forks the EVM rules do not know about. Evaluated per block.
type ForkActivations struct {
	Granite bool
	Isthmus bool
}

// CreatePrecompileOverrides returns the vm.Config hook that swaps in the
// oracle-backed precompiles.
func CreatePrecompileOverrides(precompileOracle PrecompileOracle, forks ForkActivations) vm.PrecompileOverrides {
	return func(rules params.Rules, orig vm.PrecompiledContract, address common.Address) (vm.PrecompiledContract, bool) {
		// The replacements implement the latest behavior of each precompile;
		// their semantics have been stable across the forks this program supports.
		switch address {
		case ecrecoverPrecompileAddress:
			return &ecrecoverOracle{Orig: orig, Oracle: precompileOracle}, true
		case bn256PairingPrecompileAddress:
			pairing := bn256PairingOracle{Orig: orig, Oracle: precompileOracle}
			if forks.Granite {
				return &bn256PairingOracleGranite{pairing}, true
			}
			return &pairing, true
		case kzgPointEvaluationPrecompileAddress:
			return &kzgPointEvaluationOracle{Orig: orig, Oracle: precompileOracle}, true
		case bls12PairingPrecompileAddress:
			return &bls12PairingOracle{Orig: orig, Oracle: precompileOracle, isthmus: forks.Isthmus}, true
		default:
			return nil, false
		}
	}
}
