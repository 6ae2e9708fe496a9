package kvstore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oplabs/fp-program/preimage"
)

// ErrCommitmentMismatch is returned when the server returns data that does not
// hash back to the requested key.
var ErrCommitmentMismatch = errors.New("commitment mismatch")

// RemoteKV is an HTTP client for a shared pre-image store, so multiple hosts
// can serve proofs from one populated KV. It verifies keccak-keyed responses
// against their key before returning them.
type RemoteKV struct {
	url string
	// verify enables commitment verification on read.
	// SHOULD be enabled if the store is not trusted.
	verify bool
}

func NewRemoteKV(url string, verify bool) *RemoteKV {
	return &RemoteKV{url: url, verify: verify}
}

func (c *RemoteKV) Get(key common.Hash) ([]byte, error) {
	resp, err := http.Get(fmt.Sprintf("%s/get/%s", c.url, key))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get pre-image: status %v", resp.StatusCode)
	}
	value, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.verify {
		if err := verifyPreimage(key, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (c *RemoteKV) Put(key common.Hash, value []byte) error {
	url := fmt.Sprintf("%s/put/%s", c.url, key)
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(value))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to store pre-image: status %v", resp.StatusCode)
	}
	return nil
}

// verifyPreimage checks hash-typed keys; local and blob/precompile keys are
// not content-addressed by a plain hash and pass through.
func verifyPreimage(key common.Hash, value []byte) error {
	var computed common.Hash
	switch preimage.KeyType(key[0]) {
	case preimage.Keccak256KeyType:
		computed = common.Hash(preimage.Keccak256Key(crypto.Keccak256Hash(value)).PreimageKey())
	case preimage.Sha256KeyType:
		computed = common.Hash(preimage.Sha256Key(sha256Hash(value)).PreimageKey())
	default:
		return nil
	}
	if computed != key {
		return fmt.Errorf("%w: got %s, want %s", ErrCommitmentMismatch, computed, key)
	}
	return nil
}

func sha256Hash(data []byte) (out [32]byte) {
	return sha256.Sum256(data)
}
