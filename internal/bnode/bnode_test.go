package bnode

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeLeaf(t *testing.T) {
	n := &Node{
		Internal: false,
		Entries: []Entry{
			{Key: []byte("AAA"), Value: 0},
			{Key: []byte("BBB"), Value: 9},
			{Key: []byte("CCC"), Value: 18},
		},
	}

	block := Encode(n, 3)
	if len(block) != BlockSize {
		t.Fatalf("expected block size %d, got %d", BlockSize, len(block))
	}

	got, err := Decode(block, 3, 113)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Internal {
		t.Error("expected leaf node")
	}
	if len(got.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got.Entries))
	}
	for i, e := range n.Entries {
		if !bytes.Equal(got.Entries[i].Key, e.Key) {
			t.Errorf("entry %d: key mismatch: got %q want %q", i, got.Entries[i].Key, e.Key)
		}
		if got.Entries[i].Value != e.Value {
			t.Errorf("entry %d: value mismatch: got %d want %d", i, got.Entries[i].Value, e.Value)
		}
	}
}

func TestEncodeDecodeInternal(t *testing.T) {
	n := &Node{
		Internal: true,
		Entries: []Entry{
			{Key: []byte("A"), Child: 1024},
			{Key: []byte("M"), Child: 2048},
		},
	}

	block := Encode(n, 1)
	got, err := Decode(block, 1, 113)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Internal {
		t.Error("expected internal node")
	}
	for i, e := range n.Entries {
		if got.Entries[i].Child != e.Child {
			t.Errorf("entry %d: child mismatch: got %d want %d", i, got.Entries[i].Child, e.Child)
		}
	}
}

func TestDecodeRejectsBadFlag(t *testing.T) {
	block := make([]byte, BlockSize)
	block[0] = 0x7f
	if _, err := Decode(block, 3, 113); err == nil {
		t.Fatal("expected error for bad flag byte")
	}
}

func TestDecodeRejectsOverfullCount(t *testing.T) {
	block := make([]byte, BlockSize)
	block[0] = 0x00
	// count == m is invalid; a node must split before reaching m.
	block[4] = 113
	if _, err := Decode(block, 3, 113); err == nil {
		t.Fatal("expected error for entry count >= M")
	}
}

func TestDecodeRejectsWrongBlockSize(t *testing.T) {
	if _, err := Decode(make([]byte, 10), 3, 113); err == nil {
		t.Fatal("expected error for wrong block size")
	}
}
