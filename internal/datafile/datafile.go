// Package datafile adapts the line-oriented text file the index is built
// over: appending new records and reading the line that starts at a given
// byte offset. It never interprets line contents beyond what the caller
// asks for.
package datafile

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/oda/blockdb/internal/dberr"
)

// File wraps the single data file an index is built over.
type File struct {
	path string
	file *os.File
}

// Open opens (creating if necessary) the data file at path for read/write.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, fmt.Sprintf("open data file %s", path), err)
	}
	return &File{path: path, file: f}, nil
}

// Path returns the data file's path as given to Open.
func (f *File) Path() string { return f.path }

// Length returns the current size of the data file in bytes.
func (f *File) Length() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, dberr.Wrap(dberr.IoError, "stat data file", err)
	}
	return info.Size(), nil
}

// Append writes line to the end of the data file, adding a trailing
// newline if line doesn't already end with one. It returns the byte
// offset at which the write started — the value-offset to index the line
// under.
func (f *File) Append(line string) (int64, error) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	offset, err := f.Length()
	if err != nil {
		return 0, err
	}

	if _, err := f.file.Seek(offset, 0); err != nil {
		return 0, dberr.Wrap(dberr.IoError, "seek to end of data file", err)
	}
	if _, err := f.file.WriteString(line); err != nil {
		return 0, dberr.Wrap(dberr.IoError, "append to data file", err)
	}
	return offset, nil
}

// ReadLineAt reads the line starting at offset, up to but not including
// the next newline or end of file.
func (f *File) ReadLineAt(offset int64) (string, error) {
	if _, err := f.file.Seek(offset, 0); err != nil {
		return "", dberr.Wrap(dberr.IoError, "seek into data file", err)
	}

	reader := bufio.NewReader(f.file)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return "", dberr.Wrap(dberr.IoError, "read line from data file", err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// ScanLines reads the data file from the beginning, calling fn once per
// line with the line's starting byte offset and its content (trailing
// newline stripped). Used to bulk-index an existing data file.
func (f *File) ScanLines(fn func(offset int64, line string) error) error {
	if _, err := f.file.Seek(0, 0); err != nil {
		return dberr.Wrap(dberr.IoError, "seek to start of data file", err)
	}

	reader := bufio.NewReader(f.file)
	var offset int64
	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			break
		}

		trimmed := strings.TrimSuffix(line, "\n")
		if scanErr := fn(offset, trimmed); scanErr != nil {
			return scanErr
		}
		offset += int64(len(line))

		if err != nil {
			break
		}
	}
	return nil
}

// Close closes the underlying file handle.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return dberr.Wrap(dberr.IoError, "close data file", err)
	}
	return nil
}
