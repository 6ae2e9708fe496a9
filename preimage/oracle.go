package preimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// OracleClient implements the Oracle by writing the pre-image key to the
// channel and reading the length-prefixed pre-image in response.
type OracleClient struct {
	rw io.ReadWriter
}

func NewOracleClient(rw io.ReadWriter) *OracleClient {
	return &OracleClient{rw: rw}
}

var _ Oracle = (*OracleClient)(nil)

func (o *OracleClient) Get(key Key) []byte {
	h := key.PreimageKey()
	if _, err := o.rw.Write(h[:]); err != nil {
		panic(fmt.Errorf("failed to write key %x: %w", h, err))
	}

	var length uint64
	if err := binary.Read(o.rw, binary.BigEndian, &length); err != nil {
		panic(fmt.Errorf("failed to read pre-image length of key %x: %w", h, err))
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(o.rw, payload); err != nil {
		panic(fmt.Errorf("failed to read pre-image payload of key %x: %w", h, err))
	}
	return payload
}

// GetExact retrieves the pre-image of key into the caller's buffer.
// The pre-image length must exactly match the buffer length.
func (o *OracleClient) GetExact(key Key, dest []byte) {
	h := key.PreimageKey()
	if _, err := o.rw.Write(h[:]); err != nil {
		panic(fmt.Errorf("failed to write key %x: %w", h, err))
	}

	var length uint64
	if err := binary.Read(o.rw, binary.BigEndian, &length); err != nil {
		panic(fmt.Errorf("failed to read pre-image length of key %x: %w", h, err))
	}
	if length != uint64(len(dest)) {
		panic(fmt.Errorf("pre-image length mismatch for key %x: have %d, need %d", h, length, len(dest)))
	}
	if _, err := io.ReadFull(o.rw, dest); err != nil {
		panic(fmt.Errorf("failed to read pre-image payload of key %x: %w", h, err))
	}
}

// PreimageGetter is the host-side source of pre-images, keyed by raw 32-byte key.
type PreimageGetter func(key [32]byte) ([]byte, error)

// OracleServer serves pre-image requests on the host side of the channel.
type OracleServer struct {
	rw io.ReadWriter
}

func NewOracleServer(rw io.ReadWriter) *OracleServer {
	return &OracleServer{rw: rw}
}

func (o *OracleServer) NextPreimageRequest(getPreimage PreimageGetter) error {
	var key [32]byte
	if _, err := io.ReadFull(o.rw, key[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read requested pre-image key: %w", err)
	}
	value, err := getPreimage(key)
	if err != nil {
		return fmt.Errorf("failed to serve pre-image %x request: %w", key, err)
	}

	if err := binary.Write(o.rw, binary.BigEndian, uint64(len(value))); err != nil {
		return fmt.Errorf("failed to write pre-image length: %w", err)
	}
	// An empty pre-image has no payload: the client reads no bytes for it, and
	// a zero-length write on a pipe would block until a read arrives.
	if len(value) > 0 {
		if _, err := o.rw.Write(value); err != nil {
			return fmt.Errorf("failed to write pre-image payload: %w", err)
		}
	}
	return nil
}
