package eth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

const (
	BlobSize              = 4096 * 32
	BlobCommitmentVersion = 0x01
	FieldElementsPerBlob  = 4096

	// MaxBlobDataSize is the useful payload of a blob under the rollup
	// encoding: 1024 rounds of 4 field elements carrying 127 bytes each,
	// minus the version byte and the 3-byte length prefix.
	MaxBlobDataSize = (4*31+3)*1024 - 4

	// EncodingVersion is the only blob payload encoding in use.
	EncodingVersion = 0

	// VersionOffset is the index of the version byte inside the blob.
	VersionOffset = 1

	blobEncodingRounds = 1024

	blobBaseFeeUpdateFrac = 3338477
	minBlobGasPrice       = 1
)

// Data is opaque batcher data, either calldata or decoded blob payload.
type Data = hexutil.Bytes

// Blob is a full EIP-4844 blob: 4096 field elements of 32 bytes each.
type Blob [BlobSize]byte

func (b *Blob) KZGBlob() *kzg4844.Blob {
	return (*kzg4844.Blob)(b)
}

// IndexedBlobHash is a versioned blob hash paired with its index in the block.
type IndexedBlobHash struct {
	Index uint64      // absolute index in the block, a block may contain non-batcher blobs
	Hash  common.Hash // versioned hash of the blob
}

// KZGToVersionedHash computes the versioned hash of a KZG commitment:
// sha256 of the commitment with the first byte replaced by the version.
func KZGToVersionedHash(commitment kzg4844.Commitment) common.Hash {
	h := sha256.Sum256(commitment[:])
	h[0] = BlobCommitmentVersion
	return h
}

// VerifyBlobProof checks that the given blob matches its commitment and proof.
func VerifyBlobProof(blob *Blob, commitment kzg4844.Commitment, proof kzg4844.Proof) error {
	if err := kzg4844.VerifyBlobProof(*blob.KZGBlob(), commitment, proof); err != nil {
		return fmt.Errorf("blob proof verification failed: %w", err)
	}
	return nil
}

var (
	ErrBlobInvalidVersion      = errors.New("invalid blob encoding version")
	ErrBlobInvalidLength       = errors.New("invalid blob payload length")
	ErrBlobInvalidFieldElement = errors.New("invalid blob field element")
	ErrBlobExtraneousData      = errors.New("non-zero data past the blob payload")
)

// ToData decodes the blob into its rollup payload. Each round packs 127 bytes
// into four field elements: the low six bits of the first byte of each field
// element are recombined into three of the bytes.
func (b *Blob) ToData() (Data, error) {
	if b[VersionOffset] != EncodingVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrBlobInvalidVersion, EncodingVersion, b[VersionOffset])
	}

	// decode the 3-byte big-endian length value into a 4-byte integer
	outputLen := uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	if outputLen > MaxBlobDataSize {
		return nil, fmt.Errorf("%w: got %d", ErrBlobInvalidLength, outputLen)
	}
	output := make(Data, MaxBlobDataSize)

	// round 0 carries the version and length bytes, so it has only 27 bytes
	// of payload in its first field element.
	copy(output[0:27], b[5:])

	opos := 28 // current position into output buffer
	ipos := 32 // current position into the input blob
	var encodedByte [4]byte
	encodedByte[0] = b[0]
	var err error
	for i := 1; i < 4; i++ {
		encodedByte[i], opos, ipos, err = b.decodeFieldElement(opos, ipos, output)
		if err != nil {
			return nil, err
		}
	}
	opos = reassembleBytes(opos, encodedByte[:], output)

	for i := 1; i < blobEncodingRounds && opos < int(outputLen); i++ {
		for j := 0; j < 4; j++ {
			encodedByte[j], opos, ipos, err = b.decodeFieldElement(opos, ipos, output)
			if err != nil {
				return nil, err
			}
		}
		opos = reassembleBytes(opos, encodedByte[:], output)
	}
	for i := int(outputLen); i < len(output); i++ {
		if output[i] != 0 {
			return nil, fmt.Errorf("%w: field element %d", ErrBlobExtraneousData, opos/32)
		}
	}
	output = output[:outputLen]
	for ; ipos < BlobSize; ipos++ {
		if b[ipos] != 0 {
			return nil, fmt.Errorf("%w: trailing byte %d", ErrBlobExtraneousData, ipos)
		}
	}
	return output, nil
}

// decodeFieldElement copies the payload bytes of the next field element and
// returns its first byte, which carries six encoded payload bits.
func (b *Blob) decodeFieldElement(opos, ipos int, output []byte) (byte, int, int, error) {
	// two highest order bits of the first byte of each field element are
	// always zero in a canonical encoding
	if b[ipos]&0b1100_0000 != 0 {
		return 0, 0, 0, fmt.Errorf("%w: offset %d", ErrBlobInvalidFieldElement, ipos)
	}
	copy(output[opos:], b[ipos+1:ipos+32])
	return b[ipos], opos + 32, ipos + 32, nil
}

// reassembleBytes rebuilds the three bytes spread over the four field-element
// leading bytes of a round.
func reassembleBytes(opos int, encodedByte []byte, output []byte) int {
	opos-- // account for the fact that we don't output a 128th byte
	x := (encodedByte[0] & 0b0011_1111) | ((encodedByte[1] & 0b0011_0000) << 2)
	y := (encodedByte[1] & 0b0000_1111) | ((encodedByte[3] & 0b0000_1111) << 4)
	z := (encodedByte[2] & 0b0011_1111) | ((encodedByte[3] & 0b0011_0000) << 2)
	output[opos-32] = z
	output[opos-32*2] = y
	output[opos-32*3] = x
	return opos
}

// CalcBlobFee computes the blob base fee from the parent's excess blob gas,
// per the EIP-4844 fake-exponential.
func CalcBlobFee(excessBlobGas uint64) *big.Int {
	return fakeExponential(big.NewInt(minBlobGasPrice), new(big.Int).SetUint64(excessBlobGas), big.NewInt(blobBaseFeeUpdateFrac))
}

// fakeExponential approximates factor * e ** (numerator / denominator) with
// Taylor expansion, as defined by EIP-4844.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	var (
		output = new(big.Int)
		accum  = new(big.Int).Mul(factor, denominator)
	)
	for i := 1; accum.Sign() > 0; i++ {
		output.Add(output, accum)

		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(int64(i)))
	}
	return output.Div(output, denominator)
}
