package eth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidOutput = errors.New("invalid output")

// OutputVersionV0 is the version byte of the only output-root format in use.
var OutputVersionV0 = Bytes32{}

// Output is a versioned L2 output commitment pre-image.
type Output interface {
	Version() Bytes32
	Marshal() []byte
}

// OutputV0 is the version-0 output: the L2 state root, the storage root of the
// L2-to-L1 message passer predeploy, and the hash of the block the output is for.
type OutputV0 struct {
	StateRoot                Bytes32
	MessagePasserStorageRoot Bytes32
	BlockHash                common.Hash
}

func (o *OutputV0) Version() Bytes32 {
	return OutputVersionV0
}

func (o *OutputV0) Marshal() []byte {
	var buf [128]byte
	version := o.Version()
	copy(buf[:32], version[:])
	copy(buf[32:], o.StateRoot[:])
	copy(buf[64:], o.MessagePasserStorageRoot[:])
	copy(buf[96:], o.BlockHash[:])
	return buf[:]
}

// OutputRoot hashes a versioned output pre-image into the 32-byte output root.
func OutputRoot(output Output) Bytes32 {
	return Bytes32(crypto.Keccak256Hash(output.Marshal()))
}

// UnmarshalOutput decodes a versioned output pre-image.
func UnmarshalOutput(data []byte) (Output, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("%w: data too short to contain version: %d", ErrInvalidOutput, len(data))
	}
	var ver Bytes32
	copy(ver[:], data[:32])
	switch ver {
	case OutputVersionV0:
		return unmarshalOutputV0(data)
	default:
		return nil, fmt.Errorf("%w: unsupported version %s", ErrInvalidOutput, ver)
	}
}

func unmarshalOutputV0(data []byte) (*OutputV0, error) {
	if len(data) != 128 {
		return nil, fmt.Errorf("%w: invalid v0 output length: %d", ErrInvalidOutput, len(data))
	}
	var output OutputV0
	copy(output.StateRoot[:], data[32:64])
	copy(output.MessagePasserStorageRoot[:], data[64:96])
	copy(output.BlockHash[:], data[96:128])
	return &output, nil
}
