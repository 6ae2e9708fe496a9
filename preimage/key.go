package preimage

import "encoding/binary"

// KeyType is the high-order byte of a pre-image key, identifying how the
// remaining 31 bytes are interpreted.
type KeyType byte

const (
	// LocalKeyType is for input-type pre-images, specific to the local program instance.
	LocalKeyType KeyType = 1
	// Keccak256KeyType is for keccak256 pre-images, for any global shared pre-images.
	Keccak256KeyType KeyType = 2
	// GlobalGenericKeyType is a reserved key type for generic global data.
	GlobalGenericKeyType KeyType = 3
	// Sha256KeyType is for sha256 pre-images, for any global shared pre-images.
	Sha256KeyType KeyType = 4
	// BlobKeyType is for blob point pre-images.
	BlobKeyType KeyType = 5
	// PrecompileKeyType is for precompile result pre-images.
	PrecompileKeyType KeyType = 6
)

// Key types a 32-byte pre-image oracle key.
type Key interface {
	// PreimageKey changes the Key commitment into a
	// 32-byte type-prefixed pre-image key.
	PreimageKey() [32]byte
}

// LocalIndexKey is a key local to the program, indexing a special program input.
type LocalIndexKey uint64

func (k LocalIndexKey) PreimageKey() (out [32]byte) {
	out[0] = byte(LocalKeyType)
	binary.BigEndian.PutUint64(out[24:], uint64(k))
	return
}

// GlobalGenericKey wraps a generic global commitment to use it as a typed
// pre-image key. Reserved; no generic pre-images are served yet.
type GlobalGenericKey [32]byte

func (k GlobalGenericKey) PreimageKey() (out [32]byte) {
	out = k
	out[0] = byte(GlobalGenericKeyType)
	return
}

// Keccak256Key wraps a keccak256 hash to use it as a typed pre-image key.
type Keccak256Key [32]byte

func (k Keccak256Key) PreimageKey() (out [32]byte) {
	out = k                          // copy the keccak hash
	out[0] = byte(Keccak256KeyType) // apply prefix
	return
}

func (k Keccak256Key) String() string {
	return "0x" + hexEncode(k[:])
}

// Sha256Key wraps a sha256 hash to use it as a typed pre-image key.
type Sha256Key [32]byte

func (k Sha256Key) PreimageKey() (out [32]byte) {
	out = k
	out[0] = byte(Sha256KeyType)
	return
}

func (k Sha256Key) String() string {
	return "0x" + hexEncode(k[:])
}

// BlobKey wraps a keccak256 hash of a (commitment, field-element-index) pair
// to use it as a typed pre-image key for a single blob field element.
type BlobKey [32]byte

func (k BlobKey) PreimageKey() (out [32]byte) {
	out = k
	out[0] = byte(BlobKeyType)
	return
}

func (k BlobKey) String() string {
	return "0x" + hexEncode(k[:])
}

// PrecompileKey wraps a keccak256 hash of a (precompile-address, input) pair
// to use it as a typed pre-image key for an accelerated precompile result.
type PrecompileKey [32]byte

func (k PrecompileKey) PreimageKey() (out [32]byte) {
	out = k
	out[0] = byte(PrecompileKeyType)
	return
}

func (k PrecompileKey) String() string {
	return "0x" + hexEncode(k[:])
}

const hextable = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
