package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"mini-xpc/object"
)

// Serializer writes one object graph into a byte buffer. A Serializer
// without a buffer only measures: it walks the same path and counts bytes.
type Serializer struct {
	buf       []byte
	off       int
	measuring bool
	depth     int
	maxDepth  int
	handles   []*object.Handle // in write order
}

// reservation marks a 4-byte slot patched after its content is written.
type reservation struct {
	at int
}

// NewSerializer returns a Serializer writing into buf.
func (o Options) NewSerializer(buf []byte) *Serializer {
	return &Serializer{buf: buf, maxDepth: o.maxDepth()}
}

// NewMeasurer returns a Serializer that only counts bytes.
func (o Options) NewMeasurer() *Serializer {
	return &Serializer{measuring: true, maxDepth: o.maxDepth()}
}

// Len returns the bytes written or measured so far.
func (s *Serializer) Len() int { return s.off }

// Handles returns the handles met so far, in write order.
func (s *Serializer) Handles() []*object.Handle { return s.handles }

// Measure returns the exact encoded size of o.
func Measure(o object.Object) (int, error) { return Options{}.Measure(o) }

// Write encodes o into buf and returns the bytes written together with the
// handles to transfer beside them.
func Write(o object.Object, buf []byte) (int, []*object.Handle, error) {
	return Options{}.Write(o, buf)
}

// Measure returns the exact encoded size of o.
func (opts Options) Measure(o object.Object) (int, error) {
	s := opts.NewMeasurer()
	if err := s.WriteObject(o); err != nil {
		return 0, err
	}
	return s.off, nil
}

// Write encodes o into buf. Fails with ErrShortBuffer if buf cannot hold
// the encoding, leaving its contents unspecified.
func (opts Options) Write(o object.Object, buf []byte) (int, []*object.Handle, error) {
	s := opts.NewSerializer(buf)
	if err := s.WriteObject(o); err != nil {
		return 0, nil, err
	}
	return s.off, s.handles, nil
}

// Append encodes o after the end of dst, growing it to the measured size.
func (opts Options) Append(dst []byte, o object.Object) ([]byte, []*object.Handle, error) {
	n, err := opts.Measure(o)
	if err != nil {
		return dst, nil, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	_, handles, err := opts.Write(o, dst[start:])
	if err != nil {
		return dst[:start], nil, err
	}
	return dst, handles, nil
}

// WriteObject appends the encoding of o.
func (s *Serializer) WriteObject(o object.Object) error {
	if o == nil {
		o = object.Null
	}
	tag, ok := TagOf(o.Kind())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, o.Kind())
	}
	if err := s.WriteU32(tag); err != nil {
		return err
	}

	switch v := o.(type) {
	case *object.Bool:
		var b uint32
		if v.Value() {
			b = 1
		}
		return s.WriteU32(b)
	case *object.Int64:
		return s.WriteU64(uint64(v.Value()))
	case *object.Uint64:
		return s.WriteU64(v.Value())
	case *object.Double:
		return s.WriteU64(v.Bits())
	case *object.Date:
		return s.WriteU64(uint64(v.UnixNano()))
	case *object.String:
		// length incl. NUL -- 4 bytes, then bytes + NUL, padded
		n, err := length(v.Len() + 1)
		if err != nil {
			return err
		}
		if err := s.WriteU32(n); err != nil {
			return err
		}
		return s.writeCString(v.Value())
	case *object.Data:
		// length -- 4 bytes, then bytes, padded
		n, err := length(v.Len())
		if err != nil {
			return err
		}
		if err := s.WriteU32(n); err != nil {
			return err
		}
		return s.WriteBytes(v.Bytes())
	case *object.UUID:
		id := v.Value()
		return s.WriteBytes(id[:])
	case *object.Array:
		return s.writeContainer(func() (uint32, error) {
			var err error
			v.ForEach(func(_ int, child object.Object) bool {
				err = s.WriteObject(child)
				return err == nil
			})
			return uint32(v.Count()), err
		})
	case *object.Dictionary:
		return s.writeContainer(func() (uint32, error) {
			var err error
			v.ForEach(func(key string, child object.Object) bool {
				// the decoder ends a key at its first NUL
				if strings.IndexByte(key, 0) >= 0 {
					err = fmt.Errorf("%w: %q", ErrInvalidKey, key)
					return false
				}
				if err = s.writeCString(key); err != nil {
					return false
				}
				err = s.WriteObject(child)
				return err == nil
			})
			return uint32(v.Count()), err
		})
	case *object.Handle:
		// tag only, the descriptor travels out of band
		s.handles = append(s.handles, v)
		return nil
	}
	// Null carries no body.
	return nil
}

// writeContainer frames the entries written by body with their content
// size and count.
func (s *Serializer) writeContainer(body func() (uint32, error)) error {
	s.depth++
	defer func() { s.depth-- }()
	if s.depth > s.maxDepth {
		return fmt.Errorf("codec: %w (limit %d)", ErrDepthExceeded, s.maxDepth)
	}

	size, err := s.reserve()
	if err != nil {
		return err
	}
	start := s.off
	count, err := s.reserve()
	if err != nil {
		return err
	}
	n, err := body()
	if err != nil {
		return err
	}
	content, err := length(s.off - start)
	if err != nil {
		return err
	}
	s.commit(count, n)
	s.commit(size, content)
	return nil
}

// length checks that n fits a 32-bit length field.
func length(n int) (uint32, error) {
	if uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrTooLarge, n)
	}
	return uint32(n), nil
}

// WriteU32 appends a little-endian uint32.
func (s *Serializer) WriteU32(v uint32) error {
	if s.measuring {
		s.off += 4
		return nil
	}
	if len(s.buf)-s.off < 4 {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(s.buf[s.off:], v)
	s.off += 4
	return nil
}

// WriteU64 appends a little-endian uint64.
func (s *Serializer) WriteU64(v uint64) error {
	if s.measuring {
		s.off += 8
		return nil
	}
	if len(s.buf)-s.off < 8 {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(s.buf[s.off:], v)
	s.off += 8
	return nil
}

// WriteBytes appends b followed by zero padding to a 4-byte boundary.
func (s *Serializer) WriteBytes(b []byte) error {
	n := padded(len(b))
	if s.measuring {
		s.off += n
		return nil
	}
	if len(s.buf)-s.off < n {
		return ErrShortBuffer
	}
	copy(s.buf[s.off:], b)
	clear(s.buf[s.off+len(b) : s.off+n])
	s.off += n
	return nil
}

// writeCString appends str, a NUL and padding.
func (s *Serializer) writeCString(str string) error {
	n := padded(len(str) + 1)
	if s.measuring {
		s.off += n
		return nil
	}
	if len(s.buf)-s.off < n {
		return ErrShortBuffer
	}
	copy(s.buf[s.off:], str)
	clear(s.buf[s.off+len(str) : s.off+n])
	s.off += n
	return nil
}

// reserve skips a 4-byte slot to be filled by commit.
func (s *Serializer) reserve() (reservation, error) {
	r := reservation{at: s.off}
	return r, s.WriteU32(0)
}

func (s *Serializer) commit(r reservation, v uint32) {
	if s.measuring {
		return
	}
	binary.LittleEndian.PutUint32(s.buf[r.at:], v)
}
