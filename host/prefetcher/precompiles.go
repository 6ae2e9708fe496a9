package prefetcher

import (
	"errors"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	ecrecoverAddress    = common.BytesToAddress([]byte{0x01})
	bn256PairingAddress = common.BytesToAddress([]byte{0x08})
	kzgPointEvalAddress = common.BytesToAddress([]byte{0x0a})
	bls12PairingAddress = common.BytesToAddress([]byte{0x0f})
)

var (
	precompileSuccess = [1]byte{1}
	precompileFailure = [1]byte{0}
)

// runPrecompile executes an accelerated precompile natively and encodes the
// result as the Precompile-keyed pre-image payload: status || output.
func runPrecompile(address common.Address, input []byte) []byte {
	output, err := executePrecompile(address, input)
	if err != nil {
		return precompileFailure[:]
	}
	return append(precompileSuccess[:], output...)
}

func executePrecompile(address common.Address, input []byte) ([]byte, error) {
	switch address {
	case ecrecoverAddress, bn256PairingAddress, kzgPointEvalAddress:
		// These exist in the EVM's own precompile set; run the real thing.
		precompile, ok := vm.PrecompiledContractsCancun[address]
		if !ok {
			return nil, fmt.Errorf("precompile %s not available", address)
		}
		return precompile.Run(input)
	case bls12PairingAddress:
		return runBLS12PairingCheck(input)
	default:
		return nil, fmt.Errorf("unsupported precompile address: %s", address)
	}
}

const (
	blsG1Len   = 128
	blsG2Len   = 256
	blsPairLen = blsG1Len + blsG2Len
)

var (
	errBLSInputLength  = errors.New("invalid bls12-381 pairing input length")
	errBLSFieldElement = errors.New("invalid bls12-381 field element")
	errBLSSubgroup     = errors.New("bls12-381 point is not in the correct subgroup")
)

// runBLS12PairingCheck implements the EIP-2537 pairing check with gnark-crypto.
// The EVM pinned by the program predates the precompile; results reach the
// client only through the pre-image oracle.
func runBLS12PairingCheck(input []byte) ([]byte, error) {
	if len(input) == 0 || len(input)%blsPairLen != 0 {
		return nil, errBLSInputLength
	}
	k := len(input) / blsPairLen
	g1Points := make([]bls12381.G1Affine, k)
	g2Points := make([]bls12381.G2Affine, k)
	for i := 0; i < k; i++ {
		pair := input[i*blsPairLen : (i+1)*blsPairLen]
		g1, err := decodeBLSG1(pair[:blsG1Len])
		if err != nil {
			return nil, err
		}
		g2, err := decodeBLSG2(pair[blsG1Len:])
		if err != nil {
			return nil, err
		}
		g1Points[i] = g1
		g2Points[i] = g2
	}
	ok, err := bls12381.PairingCheck(g1Points, g2Points)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 32)
	if ok {
		out[31] = 1
	}
	return out, nil
}

// decodeBLSFieldElement reads a 64-byte padded field element: 16 zero bytes
// followed by the 48-byte big-endian value.
func decodeBLSFieldElement(data []byte) (fp.Element, error) {
	var fe fp.Element
	for _, b := range data[:16] {
		if b != 0 {
			return fe, errBLSFieldElement
		}
	}
	if err := fe.SetBytesCanonical(data[16:64]); err != nil {
		return fe, fmt.Errorf("%w: %v", errBLSFieldElement, err)
	}
	return fe, nil
}

func decodeBLSG1(data []byte) (bls12381.G1Affine, error) {
	var point bls12381.G1Affine
	var err error
	if point.X, err = decodeBLSFieldElement(data[:64]); err != nil {
		return point, err
	}
	if point.Y, err = decodeBLSFieldElement(data[64:128]); err != nil {
		return point, err
	}
	if !point.IsInfinity() && !point.IsInSubGroup() {
		return point, errBLSSubgroup
	}
	return point, nil
}

func decodeBLSG2(data []byte) (bls12381.G2Affine, error) {
	var point bls12381.G2Affine
	var err error
	if point.X.A0, err = decodeBLSFieldElement(data[:64]); err != nil {
		return point, err
	}
	if point.X.A1, err = decodeBLSFieldElement(data[64:128]); err != nil {
		return point, err
	}
	if point.Y.A0, err = decodeBLSFieldElement(data[128:192]); err != nil {
		return point, err
	}
	if point.Y.A1, err = decodeBLSFieldElement(data[192:256]); err != nil {
		return point, err
	}
	if !point.IsInfinity() && !point.IsInSubGroup() {
		return point, errBLSSubgroup
	}
	return point, nil
}
