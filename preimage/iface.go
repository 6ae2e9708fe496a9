package preimage

import "io"

// Oracle provides pre-images of data.
// E.g. the pre-image of a hash, or the pre-image of bootstrap data.
type Oracle interface {
	// Get the full pre-image of a given pre-image key.
	// This returns no error: the client user is not supposed to handle invalid pre-images,
	// the host does not serve those. Missing pre-images are a fatal program exit.
	Get(key Key) []byte
}

// OracleFn implements the Oracle interface with a function.
type OracleFn func(key Key) []byte

func (fn OracleFn) Get(key Key) []byte {
	return fn(key)
}

// Hinter sends hints to the host, to prepare the pre-images it will need later.
type Hinter interface {
	// Hint instructs the host to prepare the pre-image(s) that the hint describes.
	// The hint is advisory: the program must not depend on its side effects,
	// only on the pre-images it later requests.
	Hint(v Hint)
}

// HinterFn implements the Hinter interface with a function.
type HinterFn func(v Hint)

func (fn HinterFn) Hint(v Hint) {
	fn(v)
}

// Hint is an interface to enable any program type to function as a hint,
// when passed to the Hinter interface, returning a string representation
// of what data the host should prepare pre-images for.
type Hint interface {
	Hint() string
}

// RawHint is a hint that is already encoded as its wire string.
type RawHint string

func (rh RawHint) Hint() string {
	return string(rh)
}

// Channel is a bidirectional byte stream between program and host.
// On the FPVM this is a pair of file descriptors; native builds use in-process pipes.
type Channel interface {
	io.ReadWriteCloser
}
