// Package dberr defines the error kinds shared across the index's layers.
package dberr

import "fmt"

// Kind classifies an error the way the index's layers need to distinguish
// routine results (NotFound, DuplicateKey) from hard failures (IoError,
// CorruptIndex, BadArgument).
type Kind int

const (
	// BadArgument marks an invalid caller-supplied argument: a nil/empty
	// key, a key of the wrong length, a non-positive key size, or a key
	// size that would make the branching factor fall below 4.
	BadArgument Kind = iota
	// NotFound marks a lookup that found no matching key. Not an
	// exceptional condition — callers are expected to check for it.
	NotFound
	// DuplicateKey marks an insert rejected because the key already
	// exists in the index. Not fatal; the operation is a no-op.
	DuplicateKey
	// IoError marks a failed read, write, seek, or length query on the
	// underlying block device or data file.
	IoError
	// CorruptIndex marks a structural check failure in the meta-block or
	// a node block (e.g. entry count out of range, bad flag byte, file
	// length not block-aligned).
	CorruptIndex
)

func (k Kind) String() string {
	switch k {
	case BadArgument:
		return "bad argument"
	case NotFound:
		return "not found"
	case DuplicateKey:
		return "duplicate key"
	case IoError:
		return "io error"
	case CorruptIndex:
		return "corrupt index"
	default:
		return "unknown"
	}
}

// Error is the single exported error type for the index. Every failure
// the blockdb package returns is, or wraps, an *Error. The block
// device's Open, Close and Sync return plain errors; blockdb wraps the
// ones it calls.
type Error struct {
	Kind    Kind
	Message string
	Offset  int64 // meaningful for IoError; zero otherwise
	Count   int   // requested byte count, meaningful for IoError
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a plain *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IOErrorAt builds an IoError carrying the offset and requested byte
// count at which the failure occurred, per the index's error design.
func IOErrorAt(offset int64, count int, err error) *Error {
	return &Error{Kind: IoError, Message: "block device I/O failure", Offset: offset, Count: count, Err: err}
}

// Is reports whether err is (or wraps) an *Error of the given kind. Kind
// is not an error value, so errors.Is cannot match on it; callers use
// this helper or inspect err.(*Error).Kind directly.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
