package precompiles

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"

	"github.com/oplabs/fp-program/eth"
)

var (
	errBlobVerifyInvalidInputLength = errors.New("invalid input length")
	errBlobVerifyMismatchedVersion  = errors.New("mismatched versioned hash")
	errBlobVerifyKZGProof           = errors.New("error verifying kzg proof")
)

// blobPrecompileReturnValue is the constant success output of the point
// evaluation precompile: FIELD_ELEMENTS_PER_BLOB and BLS_MODULUS, as u256.
var blobPrecompileReturnValue = common.FromHex("0000000000000000000000000000000000000000000000000000000000001000" +
	"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")

// kzgPointEvaluationOracle defers the KZG proof verification to the host.
type kzgPointEvaluationOracle struct {
	Orig   vm.PrecompiledContract
	Oracle PrecompileOracle
}

func (k *kzgPointEvaluationOracle) RequiredGas(input []byte) uint64 {
	return k.Orig.RequiredGas(input)
}

func (k *kzgPointEvaluationOracle) Run(input []byte) ([]byte, error) {
	// Input layout: versioned_hash(32) || z(32) || y(32) || commitment(48) || proof(48)
	const blobVerifyInputLength = 192
	if len(input) != blobVerifyInputLength {
		return nil, errBlobVerifyInvalidInputLength
	}

	// The versioned-hash-to-commitment binding is cheap to check locally.
	var commitment kzg4844.Commitment
	copy(commitment[:], input[96:144])
	if eth.KZGToVersionedHash(commitment) != common.Hash(input[:32]) {
		return nil, errBlobVerifyMismatchedVersion
	}

	_, ok := k.Oracle.Precompile(kzgPointEvaluationPrecompileAddress, input)
	if !ok {
		return nil, errBlobVerifyKZGProof
	}
	return blobPrecompileReturnValue, nil
}
