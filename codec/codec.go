// Package codec flattens object graphs into the mini-xpc wire format and
// rebuilds them from it.
//
// Every value is a 4-byte little-endian type tag followed by a body. Every
// field is padded with zeros to the next multiple of 4 bytes:
//
//	scalar      [tag][value 4 or 8][pad]
//	string      [tag][len incl. NUL][bytes NUL][pad]
//	data        [tag][len][bytes][pad]
//	uuid        [tag][16 bytes]
//	container   [tag][content size][entry count][entries...]
//	dict entry  [key NUL][pad][value]
//	handle      [tag]            descriptor travels beside the body
//
// The content size of a container counts everything after the size field:
// the entry count and the entries.
//
// Doubles are written as their IEEE-754 bit pattern in little-endian
// order, which assumes both peers represent doubles the same way.
package codec

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth bounds container nesting when Options.MaxDepth is zero.
const DefaultMaxDepth = 64

var (
	ErrUnsupportedKind = errors.New("codec: kind has no wire encoding")
	ErrShortBuffer     = errors.New("codec: buffer too small")
	ErrInvalidKey      = errors.New("codec: dictionary key contains NUL")
	ErrTooLarge        = errors.New("codec: length does not fit in 32 bits")

	ErrUnknownType       = errors.New("unknown type tag")
	ErrUnsupportedType   = errors.New("unsupported type tag")
	ErrTruncated         = errors.New("truncated input")
	ErrLengthOutOfRange  = errors.New("length exceeds remaining input")
	ErrMissingTerminator = errors.New("missing NUL terminator")
	ErrHandleUnderflow   = errors.New("handle tag without descriptor")
	ErrDepthExceeded     = errors.New("nesting too deep")
	ErrSizeMismatch      = errors.New("container size does not match content")
	ErrDuplicateKey      = errors.New("duplicate dictionary key")
)

// DecodeError reports where decoding failed.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options tunes encoding and decoding. The zero value is ready to use.
type Options struct {
	// MaxDepth is the deepest container nesting accepted in either
	// direction. Zero means DefaultMaxDepth.
	MaxDepth int
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

// padded rounds n up to a multiple of 4.
func padded(n int) int {
	return (n + 3) &^ 3
}
