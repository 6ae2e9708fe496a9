package precompiles

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

var errInvalidEcrecoverResult = errors.New("invalid ecrecover result from pre-image oracle")

// ecrecoverOracle defers signature recovery to the host, avoiding secp256k1
// arithmetic in the proof.
type ecrecoverOracle struct {
	Orig   vm.PrecompiledContract
	Oracle PrecompileOracle
}

func (e *ecrecoverOracle) RequiredGas(input []byte) uint64 {
	return e.Orig.RequiredGas(input)
}

func (e *ecrecoverOracle) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128

	input = common.RightPadBytes(input, ecRecoverInputLength)
	// "input" is (hash, v, r, s), each 32 bytes
	// but for ecrecover we want (r, s, v)

	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	// tighter sig s values input homestead only apply to tx sigs
	if !allZero(input[32:63]) || !crypto.ValidateSignatureValues(v, r, s, false) {
		return nil, nil
	}

	result, ok := e.Oracle.Precompile(ecrecoverPrecompileAddress, input)
	if !ok {
		// A validated signature that still fails to recover returns empty output.
		return nil, nil
	}
	// No public key could be recovered: the precompile returns empty output.
	if len(result) != 0 && len(result) != 32 {
		return nil, errInvalidEcrecoverResult
	}
	return result, nil
}

func allZero(b []byte) bool {
	for _, byte := range b {
		if byte != 0 {
			return false
		}
	}
	return true
}
