// Package blockdevice is a thin, fixed-block wrapper over a random-access
// file, memory-mapped for cheap repeated seeks and in-place updates.
package blockdevice

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/oda/blockdb/internal/dberr"
)

const (
	// BlockSize is the fixed size of every addressable block, in bytes.
	BlockSize = 1024
)

// Device is a growable, memory-mapped, random-access block file. All
// multi-byte integers are big-endian. A cursor tracks the current seek
// position the way a RandomAccessFile's file pointer does.
type Device struct {
	file   *os.File
	data   []byte
	size   int64
	cursor int64
}

// Open opens or creates the file at path and memory-maps it.
func Open(path string) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdevice: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blockdevice: stat %s: %w", path, err)
	}

	// A file of length 0 cannot be mmapped; a brand new device starts at
	// exactly one block. Length() then reflects the real, logical size of
	// the file at every point — no padding beyond what was actually
	// written — which is what callers computing nodeCount from file
	// length (spec's ceil(length/1024)-1) depend on.
	size := info.Size()
	if size < BlockSize {
		if err := file.Truncate(BlockSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("blockdevice: truncate %s: %w", path, err)
		}
		size = BlockSize
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blockdevice: mmap %s: %w", path, err)
	}

	return &Device{file: file, data: data, size: size}, nil
}

// Length returns the current size of the underlying file in bytes. This
// reflects growth performed by prior writes, not just the live content.
func (d *Device) Length() int64 {
	return d.size
}

// Seek positions the cursor at the given byte offset.
func (d *Device) Seek(offset int64) {
	d.cursor = offset
}

// Close unmaps and closes the underlying file.
func (d *Device) Close() error {
	if d.data == nil {
		return nil
	}
	err := unix.Munmap(d.data)
	d.data = nil
	if cerr := d.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	d.file = nil
	return err
}

// Sync flushes mapped changes to disk.
func (d *Device) Sync() error {
	if d.data == nil {
		return dberr.New(dberr.IoError, "blockdevice: use of closed device")
	}
	return unix.Msync(d.data, unix.MS_SYNC)
}

// grow extends the mapping so that bytes [offset, offset+n) are
// addressable. It grows to exactly the required size, not beyond: the
// file's length must stay a faithful record of how many blocks have
// actually been written (spec's nodeCount = ceil(length/1024) - 1
// depends on no extra padding being present).
func (d *Device) grow(offset int64, n int64) error {
	newSize := offset + n
	if newSize <= d.size {
		return nil
	}

	if err := unix.Munmap(d.data); err != nil {
		return fmt.Errorf("blockdevice: munmap during grow: %w", err)
	}
	if err := d.file.Truncate(newSize); err != nil {
		return fmt.Errorf("blockdevice: truncate during grow: %w", err)
	}
	data, err := unix.Mmap(int(d.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("blockdevice: remap during grow: %w", err)
	}

	d.data = data
	d.size = newSize
	return nil
}

func (d *Device) checkOpen() error {
	if d.data == nil {
		return dberr.New(dberr.IoError, "blockdevice: use of closed device")
	}
	return nil
}

// ReadBytes reads n bytes starting at the cursor and advances it.
func (d *Device) ReadBytes(n int) ([]byte, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if d.cursor < 0 || d.cursor+int64(n) > d.size {
		return nil, dberr.IOErrorAt(d.cursor, n, fmt.Errorf("read past end of device"))
	}
	out := make([]byte, n)
	copy(out, d.data[d.cursor:d.cursor+int64(n)])
	d.cursor += int64(n)
	return out, nil
}

// WriteBytes writes raw bytes at the cursor, growing the device if needed,
// and advances the cursor.
func (d *Device) WriteBytes(b []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.grow(d.cursor, int64(len(b))); err != nil {
		return dberr.IOErrorAt(d.cursor, len(b), err)
	}
	copy(d.data[d.cursor:d.cursor+int64(len(b))], b)
	d.cursor += int64(len(b))
	return nil
}

// ReadByte reads a single byte at the cursor and advances it.
func (d *Device) ReadByte() (byte, error) {
	b, err := d.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteByte writes a single byte at the cursor and advances it.
func (d *Device) WriteByte(v byte) error {
	return d.WriteBytes([]byte{v})
}

// ReadBool reads a one-byte boolean: 0x00 is false, anything else true.
func (d *Device) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0x00, nil
}

// WriteBool writes a one-byte boolean.
func (d *Device) WriteBool(v bool) error {
	if v {
		return d.WriteByte(0x01)
	}
	return d.WriteByte(0x00)
}

// ReadInt32 reads a big-endian int32 at the cursor and advances it.
func (d *Device) ReadInt32() (int32, error) {
	b, err := d.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// WriteInt32 writes a big-endian int32 at the cursor and advances it.
func (d *Device) WriteInt32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return d.WriteBytes(b[:])
}

// ReadInt64 reads a big-endian int64 at the cursor and advances it.
func (d *Device) ReadInt64() (int64, error) {
	b, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// WriteInt64 writes a big-endian int64 at the cursor and advances it.
func (d *Device) WriteInt64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return d.WriteBytes(b[:])
}
