// Package bnode codes a single B-tree node to and from exactly one fixed
// 1024-byte block, per the on-disk layout:
//
//	byte 0       internal flag (bool)
//	bytes 1-4    entry count n (int32, big-endian)
//	bytes 5..    n entries of (keySize+8) bytes each: key bytes followed
//	             by an 8-byte big-endian integer (child pointer for an
//	             internal entry, value-offset for a leaf entry)
//	trailing     unused, contents unspecified
package bnode

import (
	"encoding/binary"

	"github.com/oda/blockdb/internal/dberr"
)

const (
	// HeaderSize is the fixed size of the flag+count header.
	HeaderSize = 5

	// BlockSize is the total size of one node's block.
	BlockSize = 1024
)

// Entry is one key together with either a value-offset (leaf) or a child
// block pointer (internal). Only one of Value/Child is meaningful,
// depending on the node's Internal flag.
type Entry struct {
	Key   []byte
	Value int64 // leaf: data-file offset
	Child int64 // internal: child block address
}

// Node is the in-memory image of one block: the internal/leaf flag and
// its live entries, sorted ascending by key.
type Node struct {
	Internal bool
	Entries  []Entry
}

// New returns an empty leaf node.
func New() *Node {
	return &Node{}
}

// Encode serializes n into a fresh BlockSize-byte buffer. keySize must
// match every entry's key length.
func Encode(n *Node, keySize int) []byte {
	buf := make([]byte, BlockSize)
	if n.Internal {
		buf[0] = 0x01
	} else {
		buf[0] = 0x00
	}
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(n.Entries)))

	entrySize := keySize + 8
	for i, e := range n.Entries {
		off := HeaderSize + i*entrySize
		copy(buf[off:off+keySize], e.Key)
		v := e.Value
		if n.Internal {
			v = e.Child
		}
		binary.BigEndian.PutUint64(buf[off+keySize:off+keySize+8], uint64(v))
	}
	return buf
}

// Decode reconstructs a Node from a BlockSize-byte block. M is the
// branching factor in effect for this index, used to reject a count that
// would indicate a corrupt block (spec invariant: 0 <= n < M).
func Decode(block []byte, keySize int, m int32) (*Node, error) {
	if len(block) != BlockSize {
		return nil, dberr.New(dberr.CorruptIndex, "node block has wrong size")
	}

	flag := block[0]
	if flag != 0x00 && flag != 0x01 {
		return nil, dberr.New(dberr.CorruptIndex, "node flag byte out of range")
	}
	internal := flag == 0x01

	count := int32(binary.BigEndian.Uint32(block[1:5]))
	if count < 0 || count >= m {
		return nil, dberr.New(dberr.CorruptIndex, "node entry count out of range")
	}

	entrySize := keySize + 8
	entries := make([]Entry, count)
	for i := int32(0); i < count; i++ {
		off := HeaderSize + int(i)*entrySize
		if off+entrySize > len(block) {
			return nil, dberr.New(dberr.CorruptIndex, "node entries overrun block")
		}
		key := make([]byte, keySize)
		copy(key, block[off:off+keySize])
		v := int64(binary.BigEndian.Uint64(block[off+keySize : off+keySize+8]))
		if internal {
			entries[i] = Entry{Key: key, Child: v}
		} else {
			entries[i] = Entry{Key: key, Value: v}
		}
	}

	return &Node{Internal: internal, Entries: entries}, nil
}
