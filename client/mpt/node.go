package mpt

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// EmptyRootHash is the root of an empty trie: keccak256(rlp("")).
var EmptyRootHash = common.HexToHash("56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")

var (
	ErrInvalidNodeType = errors.New("invalid trie node type")
	ErrKeyNotFound     = errors.New("key not found in trie")
)

// NodeKind discriminates the trie node union.
type NodeKind uint8

const (
	// KindEmpty is an absent node.
	KindEmpty NodeKind = iota
	// KindBlinded is a node known only by its hash; the pre-image must be
	// fetched from the provider before the node can be traversed.
	KindBlinded
	// KindLeaf terminates a trie path with a value.
	KindLeaf
	// KindExtension shares a nibble-path prefix with a single child.
	KindExtension
	// KindBranch fans out over 16 nibbles plus a terminator value slot.
	KindBranch
)

// Node is a Merkle-Patricia trie node.
type Node struct {
	Kind NodeKind

	// Hash of the blinded form; only valid for KindBlinded.
	Hash common.Hash

	// Path holds the key nibbles of a leaf or extension node.
	Path []byte

	// Value is the leaf value, or the terminator slot of a branch.
	Value []byte

	// Child is the extension target.
	Child *Node

	// Children are the 16 branch slots.
	Children [16]*Node
}

// TrieProvider resolves blinded trie nodes by their hash.
type TrieProvider interface {
	// TrieNodeByHash returns the decoded node whose RLP encoding hashes to hash.
	TrieNodeByHash(hash common.Hash) (*Node, error)
}

// TrieProviderFn implements TrieProvider with a function.
type TrieProviderFn func(hash common.Hash) (*Node, error)

func (fn TrieProviderFn) TrieNodeByHash(hash common.Hash) (*Node, error) {
	return fn(hash)
}

// NewEmptyNode returns an empty node.
func NewEmptyNode() *Node {
	return &Node{Kind: KindEmpty}
}

// NewBlindedNode returns a node known only by its hash.
func NewBlindedNode(hash common.Hash) *Node {
	if hash == EmptyRootHash {
		return NewEmptyNode()
	}
	return &Node{Kind: KindBlinded, Hash: hash}
}

// Encode returns the canonical RLP encoding of the node.
func (n *Node) Encode() []byte {
	return n.encode()
}

// encodeInto writes the node encoding into w.
func (n *Node) encodeInto(w *rlpListWriter) {
	switch n.Kind {
	case KindEmpty:
		w.writeEmpty()
	case KindBlinded:
		w.writeBytes(n.Hash.Bytes())
	case KindLeaf:
		w.openList()
		w.writeBytes(hexToCompact(n.Path, true))
		w.writeBytes(n.Value)
		w.closeList()
	case KindExtension:
		w.openList()
		w.writeBytes(hexToCompact(n.Path, false))
		n.Child.encodeRef(w)
		w.closeList()
	case KindBranch:
		w.openList()
		for i := 0; i < 16; i++ {
			child := n.Children[i]
			if child == nil {
				w.writeEmpty()
			} else {
				child.encodeRef(w)
			}
		}
		w.writeBytes(n.Value)
		w.closeList()
	}
}

// encodeRef writes the reference form of a child: the raw encoding when it
// fits inline (< 32 bytes), the keccak hash otherwise.
func (n *Node) encodeRef(w *rlpListWriter) {
	if n == nil || n.Kind == KindEmpty {
		w.writeEmpty()
		return
	}
	if n.Kind == KindBlinded {
		w.writeBytes(n.Hash.Bytes())
		return
	}
	enc := n.encode()
	if len(enc) < 32 {
		w.writeRaw(enc)
		return
	}
	w.writeBytes(crypto.Keccak256(enc))
}

// encode is the internal canonical encoding of a non-empty, non-blinded node.
func (n *Node) encode() []byte {
	w := newRLPListWriter()
	n.encodeInto(w)
	return w.finish()
}

// NodeHash computes the hash of the node's canonical encoding.
func (n *Node) NodeHash() common.Hash {
	switch n.Kind {
	case KindEmpty:
		return EmptyRootHash
	case KindBlinded:
		return n.Hash
	default:
		return crypto.Keccak256Hash(n.encode())
	}
}

// DecodeNode parses the canonical RLP encoding of a trie node.
func DecodeNode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidNodeType)
	}
	kind, content, _, err := rlp.Split(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNodeType, err)
	}
	switch kind {
	case rlp.String:
		switch len(content) {
		case 0:
			return NewEmptyNode(), nil
		case common.HashLength:
			return NewBlindedNode(common.BytesToHash(content)), nil
		default:
			return nil, fmt.Errorf("%w: string node of length %d", ErrInvalidNodeType, len(content))
		}
	case rlp.List:
		elems, _, err := rlp.SplitList(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNodeType, err)
		}
		count, err := rlp.CountValues(elems)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNodeType, err)
		}
		switch count {
		case 2:
			return decodeShortNode(elems)
		case 17:
			return decodeBranchNode(elems)
		default:
			return nil, fmt.Errorf("%w: list node with %d items", ErrInvalidNodeType, count)
		}
	default:
		return nil, fmt.Errorf("%w: byte node", ErrInvalidNodeType)
	}
}

func decodeShortNode(elems []byte) (*Node, error) {
	compact, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, fmt.Errorf("%w: bad short-node path: %v", ErrInvalidNodeType, err)
	}
	path, isLeaf, err := compactToHex(compact)
	if err != nil {
		return nil, err
	}
	if isLeaf {
		value, _, err := rlp.SplitString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: bad leaf value: %v", ErrInvalidNodeType, err)
		}
		return &Node{Kind: KindLeaf, Path: path, Value: value}, nil
	}
	child, err := decodeRef(rest)
	if err != nil {
		return nil, err
	}
	if child.Kind == KindEmpty {
		return nil, fmt.Errorf("%w: extension with empty child", ErrInvalidNodeType)
	}
	return &Node{Kind: KindExtension, Path: path, Child: child}, nil
}

func decodeBranchNode(elems []byte) (*Node, error) {
	node := &Node{Kind: KindBranch}
	rest := elems
	var err error
	for i := 0; i < 16; i++ {
		var child *Node
		child, rest, err = decodeRefAdvance(rest)
		if err != nil {
			return nil, err
		}
		if child.Kind != KindEmpty {
			node.Children[i] = child
		}
	}
	value, _, err := rlp.SplitString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: bad branch terminator: %v", ErrInvalidNodeType, err)
	}
	if len(value) > 0 {
		node.Value = value
	}
	return node, nil
}

func decodeRef(buf []byte) (*Node, error) {
	node, _, err := decodeRefAdvance(buf)
	return node, err
}

func decodeRefAdvance(buf []byte) (*Node, []byte, error) {
	kind, content, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad child reference: %v", ErrInvalidNodeType, err)
	}
	switch {
	case kind == rlp.List:
		// Inline node: the full encoding is embedded, it must be < 32 bytes.
		size := len(buf) - len(rest)
		if size >= common.HashLength {
			return nil, nil, fmt.Errorf("%w: oversized inline node (%d bytes)", ErrInvalidNodeType, size)
		}
		node, err := DecodeNode(buf[:size])
		if err != nil {
			return nil, nil, err
		}
		return node, rest, nil
	case len(content) == 0:
		return NewEmptyNode(), rest, nil
	case len(content) == common.HashLength:
		return NewBlindedNode(common.BytesToHash(content)), rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: child reference of length %d", ErrInvalidNodeType, len(content))
	}
}
