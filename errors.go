package blockdb

import "github.com/oda/blockdb/internal/dberr"

// Kind classifies a blockdb error: BadArgument, NotFound, DuplicateKey,
// IoError, or CorruptIndex, per the error design in the spec's error
// handling section.
type Kind = dberr.Kind

// The error kinds an Index operation can report.
const (
	BadArgument  = dberr.BadArgument
	NotFound     = dberr.NotFound
	DuplicateKey = dberr.DuplicateKey
	IoError      = dberr.IoError
	CorruptIndex = dberr.CorruptIndex
)

// Error is the single exported error type returned from this package.
// Use errors.As to recover the Kind, or the Is helper below.
type Error = dberr.Error

// ErrNotFound and ErrDuplicateKey are sentinels for errors.Is checks
// against the routine, expected results Find and InsertNewRecord report;
// neither is a hard failure.
var (
	ErrNotFound     = dberr.New(dberr.NotFound, "key not found")
	ErrDuplicateKey = dberr.New(dberr.DuplicateKey, "key already indexed")
)

// Is reports whether err is, or wraps, a blockdb Error of the given Kind.
func Is(err error, kind Kind) bool {
	return dberr.Is(err, kind)
}
