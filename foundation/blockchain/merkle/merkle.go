// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides a pure, order-sensitive Merkle tree used to bind
// the transaction set of a block to a single root hash.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"hash"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// =============================================================================

// Tree represents a merkle tree built over leaves of some type T that
// exhibits the behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root         *Node[T]
	Leafs        []*Node[T]
	MerkleRoot   []byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy overrides the default sha256 hash strategy used when
// constructing a new tree.
func WithHashStrategy[T Hashable[T]](hashStrategy func() hash.Hash) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a new merkle tree from the given leaf values. The last
// node is duplicated when a level has an odd count so every level pairs
// evenly; a tree of exactly one leaf has that leaf's hash as its root.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := Tree[T]{
		hashStrategy: sha256.New,
	}

	for _, option := range options {
		option(&t)
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate constructs the leaves and intermediate nodes of the tree from the
// specified values. Calling it again rebuilds the tree from scratch.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return errors.New("merkle: cannot construct a tree with no content")
	}

	leafs := make([]*Node[T], 0, len(values))
	for _, value := range values {
		h, err := value.Hash()
		if err != nil {
			return err
		}

		leafs = append(leafs, &Node[T]{Hash: h, Value: value, leaf: true, tree: t})
	}

	if len(leafs) == 1 {
		t.Root = leafs[0]
		t.Leafs = leafs
		t.MerkleRoot = leafs[0].Hash
		return nil
	}

	if len(leafs)%2 == 1 {
		last := leafs[len(leafs)-1]
		leafs = append(leafs, &Node[T]{Hash: last.Hash, Value: last.Value, leaf: true, dup: true, tree: t})
	}

	root, err := buildIntermediate(leafs, t)
	if err != nil {
		return err
	}

	t.Root = root
	t.Leafs = leafs
	t.MerkleRoot = root.Hash

	return nil
}

// Verify recomputes the hash of every node bottom-up and compares the
// result against the stored root hash.
func (t *Tree[T]) Verify() error {
	calculated, err := t.Root.verify()
	if err != nil {
		return err
	}

	if !bytes.Equal(t.MerkleRoot, calculated) {
		return errors.New("merkle: root hash is invalid")
	}

	return nil
}

// Values returns the leaf values stored in the tree in their original,
// insertion order. The synthetic duplicate leaf added to balance an odd
// leaf count is never returned.
func (t *Tree[T]) Values() []T {
	values := make([]T, 0, len(t.Leafs))
	for _, n := range t.Leafs {
		values = append(values, n.Value)
	}

	l := len(t.Leafs)
	if l >= 2 && bytes.Equal(t.Leafs[l-1].Hash, t.Leafs[l-2].Hash) {
		return values[:l-1]
	}

	return values
}

// RootHex returns the merkle root as a 0x-prefixed hex string.
func (t *Tree[T]) RootHex() string {
	return hexutil.Encode(t.MerkleRoot)
}

// MarshalText panics. The tree should never be serialized directly; use
// Values to obtain the leaf data and serialize that instead.
func (t *Tree[T]) MarshalText() ([]byte, error) {
	panic("merkle: do not marshal a Tree directly, use Values")
}

// =============================================================================

// Node represents a root, intermediate, or leaf node in the tree.
type Node[T Hashable[T]] struct {
	tree   *Tree[T]
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   []byte
	Value  T
	leaf   bool
	dup    bool
}

// verify walks down to the leaves, recomputing the hash at every level on
// the way back up.
func (n *Node[T]) verify() ([]byte, error) {
	if n.leaf {
		return n.Value.Hash()
	}

	left, err := n.Left.verify()
	if err != nil {
		return nil, err
	}

	right, err := n.Right.verify()
	if err != nil {
		return nil, err
	}

	h := n.tree.hashStrategy()
	if _, err := h.Write(append(left, right...)); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// =============================================================================

// buildIntermediate recursively pairs adjacent nodes, hashing the
// concatenation of their hashes, until a single root node remains.
func buildIntermediate[T Hashable[T]](nl []*Node[T], t *Tree[T]) (*Node[T], error) {
	var nodes []*Node[T]

	for i := 0; i < len(nl); i += 2 {
		left, right := i, i+1
		if i+1 == len(nl) {
			right = i
		}

		h := t.hashStrategy()
		if _, err := h.Write(append(nl[left].Hash, nl[right].Hash...)); err != nil {
			return nil, err
		}

		n := Node[T]{Left: nl[left], Right: nl[right], Hash: h.Sum(nil), tree: t}

		nl[left].Parent = &n
		nl[right].Parent = &n

		if len(nl) == 2 {
			return &n, nil
		}

		nodes = append(nodes, &n)
	}

	return buildIntermediate(nodes, t)
}
