// Package blockdb is a disk-resident B-tree index over a flat text data
// file. Each data-file line has a fixed-width key prefix; the index maps
// that key to the byte offset at which the line begins.
package blockdb

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/oda/blockdb/internal/blockdevice"
	"github.com/oda/blockdb/internal/btree"
	"github.com/oda/blockdb/internal/datafile"
	"github.com/oda/blockdb/internal/dberr"
)

const metaPathSize = 256

// Index is an open B-tree index: a block-addressed index file and the
// data file it indexes. Both file handles are owned exclusively by this
// instance for its lifetime and must be released with Close.
type Index struct {
	device  *blockdevice.Device
	tree    *btree.Tree
	data    *datafile.File
	keySize int
}

// Create builds a brand new, empty index at indexPath: the meta-block
// (data-file path, key size, height 0) and an empty leaf root persisted
// at block offset 1024. Any existing content at indexPath is discarded.
func Create(dataFilePath, indexPath string, keySize int) (*Index, error) {
	if keySize <= 0 {
		return nil, dberr.New(dberr.BadArgument, "key size must be positive")
	}
	if len(dataFilePath) >= metaPathSize {
		return nil, dberr.New(dberr.BadArgument, "data file path too long to fit the meta-block")
	}

	if err := os.Remove(indexPath); err != nil && !os.IsNotExist(err) {
		return nil, dberr.Wrap(dberr.IoError, "remove existing index file", err)
	}

	device, err := blockdevice.Open(indexPath)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, "open index file", err)
	}

	if err := writeMetaBlock(device, dataFilePath, keySize, 0); err != nil {
		device.Close()
		return nil, err
	}

	tree, err := btree.NewEmpty(device, keySize)
	if err != nil {
		device.Close()
		return nil, err
	}

	data, err := datafile.Open(dataFilePath)
	if err != nil {
		device.Close()
		return nil, err
	}

	return &Index{device: device, tree: tree, data: data, keySize: keySize}, nil
}

// Open reopens an existing index: the meta-block is read to recover the
// data-file path, key size, and height; the node counter is derived from
// the index file's length; the root is loaded from block offset 1024.
func Open(indexPath string) (*Index, error) {
	device, err := blockdevice.Open(indexPath)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, "open index file", err)
	}

	if device.Length()%blockdevice.BlockSize != 0 {
		device.Close()
		return nil, dberr.New(dberr.CorruptIndex, "index file length is not a multiple of the block size")
	}

	dataFilePath, keySize, height, err := readMetaBlock(device)
	if err != nil {
		device.Close()
		return nil, err
	}

	nodeCount := int64(math.Ceil(float64(device.Length())/float64(blockdevice.BlockSize))) - 1

	tree, err := btree.Load(device, keySize, height, nodeCount)
	if err != nil {
		device.Close()
		return nil, err
	}

	data, err := datafile.Open(dataFilePath)
	if err != nil {
		device.Close()
		return nil, err
	}

	return &Index{device: device, tree: tree, data: data, keySize: keySize}, nil
}

// BuildFromDataFile creates a fresh index and bulk-indexes every line of
// an existing data file: for each line whose key is not already present,
// (key, lineStartOffset) is inserted. onDuplicate, if non-nil, is called
// for each line whose key was already seen; that line is skipped.
func BuildFromDataFile(dataFilePath, indexPath string, keySize int, onDuplicate func(key []byte, line string)) (*Index, error) {
	idx, err := Create(dataFilePath, indexPath, keySize)
	if err != nil {
		return nil, err
	}

	scanErr := idx.data.ScanLines(func(offset int64, line string) error {
		key, err := extractKey(line, keySize)
		if err != nil {
			return err
		}
		if err := idx.IndexLine(key, offset); err != nil {
			if dberr.Is(err, dberr.DuplicateKey) {
				if onDuplicate != nil {
					onDuplicate(key, line)
				}
				return nil
			}
			return err
		}
		return nil
	})
	if scanErr != nil {
		idx.Close()
		return nil, scanErr
	}

	return idx, nil
}

func extractKey(line string, keySize int) ([]byte, error) {
	if len(line) < keySize {
		return nil, dberr.New(dberr.BadArgument, "line shorter than key size")
	}
	return []byte(line[:keySize]), nil
}

// KeySize returns the fixed key length this index was created with.
func (idx *Index) KeySize() int { return idx.keySize }

// Height returns the tree's current height.
func (idx *Index) Height() int32 { return idx.tree.Height() }

// Find looks up key and, on a hit, returns its value-offset and the
// data-file line that begins there. A miss returns ErrNotFound.
func (idx *Index) Find(key []byte) (offset int64, line string, err error) {
	if len(key) != idx.keySize {
		return 0, "", dberr.New(dberr.BadArgument, "key length does not match index key size")
	}

	offset, ok, err := idx.tree.Search(key)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		return 0, "", ErrNotFound
	}

	line, err = idx.data.ReadLineAt(offset)
	if err != nil {
		return 0, "", err
	}
	return offset, line, nil
}

// IndexLine inserts (key, offset) into the tree without touching the
// data file. Used when the line already exists on disk (bulk-build from
// an existing data file). Returns ErrDuplicateKey if key is already
// present; the tree is left unchanged.
func (idx *Index) IndexLine(key []byte, offset int64) error {
	if len(key) != idx.keySize {
		return dberr.New(dberr.BadArgument, "key length does not match index key size")
	}

	if _, ok, err := idx.tree.Search(key); err != nil {
		return err
	} else if ok {
		return ErrDuplicateKey
	}

	return idx.tree.Insert(key, offset)
}

// InsertNewRecord takes the first KeySize bytes of record as its key. If
// the key already exists, its existing offset is returned alongside
// ErrDuplicateKey and nothing is modified. Otherwise record is appended
// to the data file and the new (key, offset) is inserted into the tree.
func (idx *Index) InsertNewRecord(record string) (offset int64, err error) {
	key, err := extractKey(record, idx.keySize)
	if err != nil {
		return 0, err
	}

	if existing, ok, err := idx.tree.Search(key); err != nil {
		return 0, err
	} else if ok {
		return existing, ErrDuplicateKey
	}

	offset, err = idx.data.Append(record)
	if err != nil {
		return 0, err
	}

	if err := idx.tree.Insert(key, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// List walks the tree in ascending key order starting from the first key
// >= probeKey, reading up to k data-file lines and passing each
// (offset, line) pair to emit. It stops early if emit returns an error.
func (idx *Index) List(probeKey []byte, k int, emit func(offset int64, line string) error) error {
	if len(probeKey) != idx.keySize {
		return dberr.New(dberr.BadArgument, "key length does not match index key size")
	}

	return idx.tree.RangeList(probeKey, k, func(key []byte, offset int64) error {
		line, err := idx.data.ReadLineAt(offset)
		if err != nil {
			return err
		}
		return emit(offset, line)
	})
}

// Close releases both the index file and the data file, even if one
// fails; both are attempted.
func (idx *Index) Close() error {
	deviceErr := idx.device.Close()
	dataErr := idx.data.Close()
	if deviceErr != nil {
		return dberr.Wrap(dberr.IoError, "close index file", deviceErr)
	}
	return dataErr
}

func writeMetaBlock(device *blockdevice.Device, dataFilePath string, keySize int, height int32) error {
	pathBytes := make([]byte, metaPathSize)
	copy(pathBytes, dataFilePath)

	device.Seek(0)
	if err := device.WriteBytes(pathBytes); err != nil {
		return err
	}

	device.Seek(256)
	if err := device.WriteInt32(int32(keySize)); err != nil {
		return err
	}

	device.Seek(btree.MetaHeightOffset)
	return device.WriteInt32(height)
}

func readMetaBlock(device *blockdevice.Device) (dataFilePath string, keySize int, height int32, err error) {
	device.Seek(0)
	pathBytes, err := device.ReadBytes(metaPathSize)
	if err != nil {
		return "", 0, 0, err
	}
	dataFilePath = strings.TrimRight(string(pathBytes), "\x00 \t\r\n")

	device.Seek(256)
	ks, err := device.ReadInt32()
	if err != nil {
		return "", 0, 0, err
	}
	if ks <= 0 {
		return "", 0, 0, dberr.New(dberr.CorruptIndex, fmt.Sprintf("meta-block key size out of range: %d", ks))
	}

	device.Seek(btree.MetaHeightOffset)
	h, err := device.ReadInt32()
	if err != nil {
		return "", 0, 0, err
	}

	return dataFilePath, int(ks), h, nil
}
