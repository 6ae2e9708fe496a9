package precompiles

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	errBLS12PairingInvalidInputLength = errors.New("invalid bls12-381 pairing input length")
	errBLS12PairingCheckFailed        = errors.New("bls12-381 pairing check failed")
)

const (
	bls12PairingPairSize = 384
	bls12PairingBaseGas  = uint64(37700)
	bls12PairingPairGas  = uint64(32600)

	// bls12PairingMaxInputSizeIsthmus caps the input after Isthmus.
	bls12PairingMaxInputSizeIsthmus = 235008
)

// bls12PairingOracle defers the BLS12-381 pairing check (EIP-2537) to the
// host. The precompile only exists once the EVM activates it; until then this
// wrapper is registered but never dispatched.
type bls12PairingOracle struct {
	Orig    vm.PrecompiledContract
	Oracle  PrecompileOracle
	isthmus bool
}

func (b *bls12PairingOracle) RequiredGas(input []byte) uint64 {
	if b.Orig != nil {
		return b.Orig.RequiredGas(input)
	}
	return bls12PairingBaseGas + uint64(len(input)/bls12PairingPairSize)*bls12PairingPairGas
}

func (b *bls12PairingOracle) Run(input []byte) ([]byte, error) {
	if len(input) == 0 || len(input)%bls12PairingPairSize != 0 {
		return nil, errBLS12PairingInvalidInputLength
	}
	if b.isthmus && len(input) > bls12PairingMaxInputSizeIsthmus {
		return nil, errBLS12PairingInvalidInputLength
	}
	result, ok := b.Oracle.Precompile(bls12PairingPrecompileAddress, input)
	if !ok {
		return nil, errBLS12PairingCheckFailed
	}
	return result, nil
}
