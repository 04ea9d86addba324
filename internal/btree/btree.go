// Package btree is the persistent B-tree engine: top-down insertion with
// eager node splitting, root promotion, and an ordered range walk, all
// addressed through fixed 1024-byte blocks on a blockdevice.Device.
//
// The root always lives at block offset RootOffset. Every other node is
// reachable from the root by following child pointers. Height h=0 means
// the root is itself a leaf.
package btree

import (
	"bytes"

	"github.com/oda/blockdb/internal/blockdevice"
	"github.com/oda/blockdb/internal/bnode"
	"github.com/oda/blockdb/internal/dberr"
)

const (
	// RootOffset is the fixed block address of the tree's root node.
	RootOffset = 1024

	// MetaHeightOffset is the byte offset within block 0 (the meta-block)
	// at which the tree height is stored, updated on every root promotion.
	MetaHeightOffset = 260

	// minBranchingFactor is the smallest M that still lets a node hold
	// at least one entry below the split threshold after an insertion.
	minBranchingFactor = 4
)

// BranchingFactor returns M, the maximum number of entries a node with
// the given keySize may hold, derived from the 1024-byte block size: one
// flag byte plus a 4-byte count leaves 1019 bytes for entries, each
// keySize+8 bytes wide.
func BranchingFactor(keySize int) int32 {
	return 1019 / int32(keySize+8)
}

// Tree is the in-memory working set for an open index: the root node,
// current height, key size, branching factor, and the node-count
// allocator cursor. All other nodes are paged in and out on demand.
type Tree struct {
	device    *blockdevice.Device
	keySize   int
	m         int32
	height    int32
	nodeCount int64
	root      *bnode.Node
}

// NewEmpty creates a brand new tree: an empty leaf root persisted at
// RootOffset, height 0, and a node counter of 1 (the root counts).
func NewEmpty(device *blockdevice.Device, keySize int) (*Tree, error) {
	m := BranchingFactor(keySize)
	if keySize <= 0 {
		return nil, dberr.New(dberr.BadArgument, "key size must be positive")
	}
	if m < minBranchingFactor {
		return nil, dberr.New(dberr.BadArgument, "key size too large: branching factor would fall below 4")
	}

	t := &Tree{
		device:    device,
		keySize:   keySize,
		m:         m,
		height:    0,
		nodeCount: 1,
		root:      bnode.New(),
	}
	if err := t.persist(t.root, RootOffset); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reconstructs a Tree over an already-populated device: height and
// nodeCount come from the caller (read out of the meta-block by the
// index lifecycle layer), and the root is deserialized from block 1024.
func Load(device *blockdevice.Device, keySize int, height int32, nodeCount int64) (*Tree, error) {
	m := BranchingFactor(keySize)
	if keySize <= 0 || m < minBranchingFactor {
		return nil, dberr.New(dberr.BadArgument, "invalid key size in meta-block")
	}

	t := &Tree{
		device:    device,
		keySize:   keySize,
		m:         m,
		height:    height,
		nodeCount: nodeCount,
	}

	root, err := t.read(RootOffset)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

// Height returns the tree's current height.
func (t *Tree) Height() int32 { return t.height }

// M returns the branching factor for this tree.
func (t *Tree) M() int32 { return t.m }

func (t *Tree) allocateBlock() int64 {
	t.nodeCount++
	return t.nodeCount * blockdevice.BlockSize
}

func (t *Tree) read(offset int64) (*bnode.Node, error) {
	t.device.Seek(offset)
	block, err := t.device.ReadBytes(bnode.BlockSize)
	if err != nil {
		return nil, err
	}
	return bnode.Decode(block, t.keySize, t.m)
}

func (t *Tree) persist(n *bnode.Node, offset int64) error {
	block := bnode.Encode(n, t.keySize)
	t.device.Seek(offset)
	return t.device.WriteBytes(block)
}

// childIndex finds the entry whose subtree should hold key: the first
// entry j such that key < entries[j+1].Key, or the last entry if no such
// j exists. Shared by
// Search and Insert for internal-node descent, per spec.
func childIndex(entries []bnode.Entry, key []byte) int {
	for j := 0; j < len(entries)-1; j++ {
		if bytes.Compare(key, entries[j+1].Key) < 0 {
			return j
		}
	}
	return len(entries) - 1
}

// Search descends h levels from the root and returns the value-offset
// associated with key, or ok=false if no entry matches.
func (t *Tree) Search(key []byte) (int64, bool, error) {
	if len(key) != t.keySize {
		return 0, false, dberr.New(dberr.BadArgument, "key length does not match index key size")
	}
	return t.search(t.root, t.height, key)
}

func (t *Tree) search(node *bnode.Node, ht int32, key []byte) (int64, bool, error) {
	if ht == 0 {
		for _, e := range node.Entries {
			if bytes.Equal(e.Key, key) {
				return e.Value, true, nil
			}
		}
		return 0, false, nil
	}

	if len(node.Entries) == 0 {
		return 0, false, nil
	}
	j := childIndex(node.Entries, key)
	child, err := t.read(node.Entries[j].Child)
	if err != nil {
		return 0, false, err
	}
	return t.search(child, ht-1, key)
}

// Insert adds (key, value) to the tree. The caller is responsible for
// ensuring key is not already present (Search first); Insert does not
// re-check and will happily create a second entry with the same key if
// asked to.
func (t *Tree) Insert(key []byte, value int64) error {
	if len(key) != t.keySize {
		return dberr.New(dberr.BadArgument, "key length does not match index key size")
	}

	splitRight, sibling, siblingOffset, err := t.insert(t.root, RootOffset, t.height, key, value)
	if err != nil {
		return err
	}
	if !splitRight {
		return nil
	}
	return t.promoteRoot(sibling, siblingOffset)
}

// insert is the top-down recursive insert with split propagation. It
// mutates node in place (including truncating it to its lower half on a
// split) and persists every node it touches. Returns whether this level
// produced a right sibling that must be linked into the parent.
func (t *Tree) insert(node *bnode.Node, nodeOffset int64, ht int32, key []byte, value int64) (bool, *bnode.Node, int64, error) {
	if ht == 0 {
		return t.insertLeaf(node, nodeOffset, key, value)
	}
	return t.insertInternal(node, nodeOffset, ht, key, value)
}

func (t *Tree) insertLeaf(node *bnode.Node, nodeOffset int64, key []byte, value int64) (bool, *bnode.Node, int64, error) {
	j := len(node.Entries)
	for i, e := range node.Entries {
		if bytes.Compare(e.Key, key) > 0 {
			j = i
			break
		}
	}

	node.Entries = append(node.Entries, bnode.Entry{})
	copy(node.Entries[j+1:], node.Entries[j:])
	node.Entries[j] = bnode.Entry{Key: append([]byte(nil), key...), Value: value}

	if int32(len(node.Entries)) < t.m {
		return false, nil, 0, t.persist(node, nodeOffset)
	}
	return t.split(node, nodeOffset)
}

func (t *Tree) insertInternal(node *bnode.Node, nodeOffset int64, ht int32, key []byte, value int64) (bool, *bnode.Node, int64, error) {
	j := childIndex(node.Entries, key)
	childOffset := node.Entries[j].Child

	child, err := t.read(childOffset)
	if err != nil {
		return false, nil, 0, err
	}

	splitRight, sibling, siblingOffset, err := t.insert(child, childOffset, ht-1, key, value)
	if err != nil {
		return false, nil, 0, err
	}
	if !splitRight {
		return false, nil, 0, nil
	}

	newEntry := bnode.Entry{Key: append([]byte(nil), sibling.Entries[0].Key...), Child: siblingOffset}
	node.Entries = append(node.Entries, bnode.Entry{})
	copy(node.Entries[j+2:], node.Entries[j+1:])
	node.Entries[j+1] = newEntry

	if int32(len(node.Entries)) < t.m {
		return false, nil, 0, t.persist(node, nodeOffset)
	}
	return t.split(node, nodeOffset)
}

// split halves an overfull node: the upper half moves to a freshly
// allocated sibling block; node is truncated in place to the lower half.
// Both are persisted; the sibling is returned for the parent to link.
func (t *Tree) split(node *bnode.Node, nodeOffset int64) (bool, *bnode.Node, int64, error) {
	mid := int(t.m / 2)
	sibling := &bnode.Node{
		Internal: node.Internal,
		Entries:  append([]bnode.Entry(nil), node.Entries[mid:]...),
	}
	node.Entries = node.Entries[:mid]

	siblingOffset := t.allocateBlock()
	if err := t.persist(node, nodeOffset); err != nil {
		return false, nil, 0, err
	}
	if err := t.persist(sibling, siblingOffset); err != nil {
		return false, nil, 0, err
	}
	return true, sibling, siblingOffset, nil
}

// promoteRoot handles the case where the top-level insert split the
// root. The root's current (lower-half) content is copied to a fresh
// block; a new internal root with two entries is written at RootOffset;
// height is incremented and persisted into the meta-block.
func (t *Tree) promoteRoot(sibling *bnode.Node, siblingOffset int64) error {
	oldRootOffset := t.allocateBlock()
	if err := t.persist(t.root, oldRootOffset); err != nil {
		return err
	}

	newRoot := &bnode.Node{
		Internal: true,
		Entries: []bnode.Entry{
			{Key: append([]byte(nil), t.root.Entries[0].Key...), Child: oldRootOffset},
			{Key: append([]byte(nil), sibling.Entries[0].Key...), Child: siblingOffset},
		},
	}
	if err := t.persist(newRoot, RootOffset); err != nil {
		return err
	}
	t.root = newRoot
	t.height++

	t.device.Seek(MetaHeightOffset)
	return t.device.WriteInt32(t.height)
}

// RangeList walks the tree in ascending key order starting from the
// first entry whose key is >= probeKey, invoking emit for up to k
// entries. It stops early if emit returns an error.
func (t *Tree) RangeList(probeKey []byte, k int, emit func(key []byte, value int64) error) error {
	if k <= 0 {
		return nil
	}
	remaining := k
	return t.rangeList(t.root, t.height, probeKey, &remaining, emit)
}

func (t *Tree) rangeList(node *bnode.Node, ht int32, probeKey []byte, remaining *int, emit func([]byte, int64) error) error {
	if *remaining <= 0 {
		return nil
	}

	if ht == 0 {
		for _, e := range node.Entries {
			if *remaining <= 0 {
				return nil
			}
			if bytes.Compare(e.Key, probeKey) >= 0 {
				if err := emit(e.Key, e.Value); err != nil {
					return err
				}
				*remaining--
			}
		}
		return nil
	}

	start := 0
	for start < len(node.Entries)-1 && bytes.Compare(node.Entries[start+1].Key, probeKey) <= 0 {
		start++
	}

	for j := start; j < len(node.Entries) && *remaining > 0; j++ {
		child, err := t.read(node.Entries[j].Child)
		if err != nil {
			return err
		}
		if err := t.rangeList(child, ht-1, probeKey, remaining, emit); err != nil {
			return err
		}
	}
	return nil
}
