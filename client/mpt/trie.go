package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Trie is an oriented view over a Merkle-Patricia trie root. Unknown subtrees
// stay blinded until a walk needs them, at which point the provider supplies
// the node pre-image.
type Trie struct {
	root     *Node
	provider TrieProvider
}

// NewTrie opens a trie at the given root hash.
func NewTrie(root common.Hash, provider TrieProvider) *Trie {
	return &Trie{root: NewBlindedNode(root), provider: provider}
}

// NewEmptyTrie creates a trie with no contents.
func NewEmptyTrie() *Trie {
	return &Trie{root: NewEmptyNode()}
}

// Hash computes the root hash without modifying the trie.
func (t *Trie) Hash() common.Hash {
	return t.root.NodeHash()
}

// Blind collapses the trie back to its root commitment. Idempotent.
func (t *Trie) Blind() common.Hash {
	hash := t.root.NodeHash()
	t.root = NewBlindedNode(hash)
	return hash
}

// Get returns the value stored under key, or nil if the key is absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.get(&t.root, keyToNibbles(key))
}

// Insert stores value under key, unblinding and restructuring nodes as needed.
func (t *Trie) Insert(key, value []byte) error {
	root, err := t.insert(t.root, keyToNibbles(key), value)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// Delete removes key from the trie and collapses degenerate ancestors.
// Deleting an absent key is an error: the caller walks proven paths only.
func (t *Trie) Delete(key []byte) error {
	root, err := t.delete(t.root, keyToNibbles(key))
	if err != nil {
		return err
	}
	if root == nil {
		root = NewEmptyNode()
	}
	t.root = root
	return nil
}

func (t *Trie) resolve(slot **Node) error {
	n := *slot
	if n == nil || n.Kind != KindBlinded {
		return nil
	}
	if t.provider == nil {
		return fmt.Errorf("%w: blinded node %s with no provider", ErrKeyNotFound, n.Hash)
	}
	resolved, err := t.provider.TrieNodeByHash(n.Hash)
	if err != nil {
		return fmt.Errorf("failed to resolve trie node %s: %w", n.Hash, err)
	}
	*slot = resolved
	return nil
}

func (t *Trie) get(slot **Node, path []byte) ([]byte, error) {
	if *slot == nil {
		return nil, nil
	}
	if err := t.resolve(slot); err != nil {
		return nil, err
	}
	n := *slot
	switch n.Kind {
	case KindEmpty:
		return nil, nil
	case KindLeaf:
		if bytes.Equal(n.Path, path) {
			return n.Value, nil
		}
		return nil, nil
	case KindExtension:
		if len(path) < len(n.Path) || !bytes.Equal(path[:len(n.Path)], n.Path) {
			return nil, nil
		}
		return t.get(&n.Child, path[len(n.Path):])
	case KindBranch:
		if len(path) == 0 {
			return n.Value, nil
		}
		return t.get(&n.Children[path[0]], path[1:])
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidNodeType, n.Kind)
	}
}

func (t *Trie) insert(n *Node, path, value []byte) (*Node, error) {
	if n == nil {
		return &Node{Kind: KindLeaf, Path: path, Value: value}, nil
	}
	if err := t.resolve(&n); err != nil {
		return nil, err
	}
	switch n.Kind {
	case KindEmpty:
		return &Node{Kind: KindLeaf, Path: path, Value: value}, nil
	case KindLeaf:
		return t.insertAtLeaf(n, path, value)
	case KindExtension:
		return t.insertAtExtension(n, path, value)
	case KindBranch:
		if len(path) == 0 {
			n.Value = value
			return n, nil
		}
		child, err := t.insert(n.Children[path[0]], path[1:], value)
		if err != nil {
			return nil, err
		}
		n.Children[path[0]] = child
		return n, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidNodeType, n.Kind)
	}
}

func (t *Trie) insertAtLeaf(n *Node, path, value []byte) (*Node, error) {
	if bytes.Equal(n.Path, path) {
		n.Value = value
		return n, nil
	}
	common := commonPrefixLen(n.Path, path)
	branch := &Node{Kind: KindBranch}

	oldRest := n.Path[common:]
	if len(oldRest) == 0 {
		branch.Value = n.Value
	} else {
		branch.Children[oldRest[0]] = &Node{Kind: KindLeaf, Path: oldRest[1:], Value: n.Value}
	}
	newRest := path[common:]
	if len(newRest) == 0 {
		branch.Value = value
	} else {
		branch.Children[newRest[0]] = &Node{Kind: KindLeaf, Path: newRest[1:], Value: value}
	}

	if common > 0 {
		return &Node{Kind: KindExtension, Path: path[:common], Child: branch}, nil
	}
	return branch, nil
}

func (t *Trie) insertAtExtension(n *Node, path, value []byte) (*Node, error) {
	common := commonPrefixLen(n.Path, path)
	if common == len(n.Path) {
		child, err := t.insert(n.Child, path[common:], value)
		if err != nil {
			return nil, err
		}
		n.Child = child
		return n, nil
	}

	// The new path diverges inside the extension: split it around a branch.
	branch := &Node{Kind: KindBranch}
	extRest := n.Path[common:]
	if len(extRest) == 1 {
		branch.Children[extRest[0]] = n.Child
	} else {
		branch.Children[extRest[0]] = &Node{Kind: KindExtension, Path: extRest[1:], Child: n.Child}
	}
	newRest := path[common:]
	if len(newRest) == 0 {
		branch.Value = value
	} else {
		branch.Children[newRest[0]] = &Node{Kind: KindLeaf, Path: newRest[1:], Value: value}
	}

	if common > 0 {
		return &Node{Kind: KindExtension, Path: path[:common], Child: branch}, nil
	}
	return branch, nil
}

func (t *Trie) delete(n *Node, path []byte) (*Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node on delete path", ErrKeyNotFound)
	}
	if err := t.resolve(&n); err != nil {
		return nil, err
	}
	switch n.Kind {
	case KindEmpty:
		return nil, fmt.Errorf("%w: empty node on delete path", ErrKeyNotFound)
	case KindLeaf:
		if !bytes.Equal(n.Path, path) {
			return nil, fmt.Errorf("%w: leaf mismatch on delete", ErrKeyNotFound)
		}
		return nil, nil
	case KindExtension:
		if len(path) < len(n.Path) || !bytes.Equal(path[:len(n.Path)], n.Path) {
			return nil, fmt.Errorf("%w: extension mismatch on delete", ErrKeyNotFound)
		}
		child, err := t.delete(n.Child, path[len(n.Path):])
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		return t.collapseExtension(n, child)
	case KindBranch:
		return t.deleteFromBranch(n, path)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidNodeType, n.Kind)
	}
}

func (t *Trie) deleteFromBranch(n *Node, path []byte) (*Node, error) {
	if len(path) == 0 {
		if n.Value == nil {
			return nil, fmt.Errorf("%w: branch has no terminator value", ErrKeyNotFound)
		}
		n.Value = nil
	} else {
		child, err := t.delete(n.Children[path[0]], path[1:])
		if err != nil {
			return nil, err
		}
		n.Children[path[0]] = child
	}

	// Collapse the branch if it degenerated to a single entry.
	liveChildren := 0
	lastIdx := -1
	for i, child := range n.Children {
		if child != nil {
			liveChildren++
			lastIdx = i
		}
	}
	switch {
	case liveChildren == 0 && n.Value == nil:
		return nil, nil
	case liveChildren == 0:
		return &Node{Kind: KindLeaf, Path: nil, Value: n.Value}, nil
	case liveChildren == 1 && n.Value == nil:
		return t.mergeSingleChild(byte(lastIdx), n.Children[lastIdx])
	default:
		return n, nil
	}
}

// mergeSingleChild folds a branch with exactly one live child into its child,
// prefixing the child's path with the branch nibble. The child may be blinded;
// the caller is expected to have hinted the surrounding proof so the node
// pre-image is available.
func (t *Trie) mergeSingleChild(nibble byte, child *Node) (*Node, error) {
	if err := t.resolve(&child); err != nil {
		return nil, err
	}
	switch child.Kind {
	case KindLeaf:
		return &Node{Kind: KindLeaf, Path: append([]byte{nibble}, child.Path...), Value: child.Value}, nil
	case KindExtension:
		return &Node{Kind: KindExtension, Path: append([]byte{nibble}, child.Path...), Child: child.Child}, nil
	case KindBranch:
		return &Node{Kind: KindExtension, Path: []byte{nibble}, Child: child}, nil
	default:
		return nil, fmt.Errorf("%w: kind %d after branch collapse", ErrInvalidNodeType, child.Kind)
	}
}

func (t *Trie) collapseExtension(n *Node, child *Node) (*Node, error) {
	if err := t.resolve(&child); err != nil {
		return nil, err
	}
	switch child.Kind {
	case KindLeaf:
		return &Node{Kind: KindLeaf, Path: append(append([]byte{}, n.Path...), child.Path...), Value: child.Value}, nil
	case KindExtension:
		return &Node{Kind: KindExtension, Path: append(append([]byte{}, n.Path...), child.Path...), Child: child.Child}, nil
	case KindBranch:
		n.Child = child
		return n, nil
	default:
		return nil, fmt.Errorf("%w: kind %d under extension", ErrInvalidNodeType, child.Kind)
	}
}

// walkNodes visits every materialized node encoding that is referenced by
// hash (>= 32 bytes), in depth-first order, including the root.
func (t *Trie) walkNodes(visit func(encoded []byte)) {
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || n.Kind == KindEmpty || n.Kind == KindBlinded {
			return
		}
		enc := n.encode()
		if len(enc) >= 32 {
			visit(enc)
		}
		switch n.Kind {
		case KindExtension:
			walk(n.Child)
		case KindBranch:
			for _, child := range n.Children {
				walk(child)
			}
		}
	}
	if t.root != nil && t.root.Kind != KindEmpty && t.root.Kind != KindBlinded {
		// The root is always referenced by hash, regardless of size.
		if enc := t.root.encode(); len(enc) < 32 {
			visit(enc)
		}
	}
	walk(t.root)
}
