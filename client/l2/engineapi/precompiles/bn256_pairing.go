package precompiles

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	errBadPairingInput     = errors.New("bad elliptic curve pairing input size")
	errInvalidPairingCheck = errors.New("invalid elliptic curve pairing check")
)

// bn256PairingMaxInputSizeGranite caps the pairing input after the Granite
// hardfork, bounding the host work a single call can demand.
const bn256PairingMaxInputSizeGranite = 112687

// bn256PairingOracle defers the BN254 pairing check to the host.
type bn256PairingOracle struct {
	Orig   vm.PrecompiledContract
	Oracle PrecompileOracle
}

func (b *bn256PairingOracle) RequiredGas(input []byte) uint64 {
	return b.Orig.RequiredGas(input)
}

func (b *bn256PairingOracle) Run(input []byte) ([]byte, error) {
	// Handle some corner cases cheaply, to avoid hitting the oracle for them.
	if len(input)%192 > 0 {
		return nil, errBadPairingInput
	}
	result, ok := b.Oracle.Precompile(bn256PairingPrecompileAddress, input)
	if !ok {
		return nil, errInvalidPairingCheck
	}
	return result, nil
}

// bn256PairingOracleGranite is the post-Granite variant with the input cap.
type bn256PairingOracleGranite struct {
	bn256PairingOracle
}

func (b *bn256PairingOracleGranite) Run(input []byte) ([]byte, error) {
	if len(input) > bn256PairingMaxInputSizeGranite {
		return nil, errBadPairingInput
	}
	return b.bn256PairingOracle.Run(input)
}
