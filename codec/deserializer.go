package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"mini-xpc/object"
)

// Deserializer rebuilds an object graph from a buffer and the descriptors
// that arrived with it. Every read is checked against the enclosing
// container's bounds, never the whole buffer.
type Deserializer struct {
	buf      []byte
	off      int
	end      int // bound of the innermost open container
	descs    []object.Descriptor
	next     int // next unclaimed descriptor
	depth    int
	maxDepth int
}

// NewDeserializer returns a Deserializer reading buf. Handle tags claim
// descs in order.
func (o Options) NewDeserializer(buf []byte, descs []object.Descriptor) *Deserializer {
	return &Deserializer{buf: buf, end: len(buf), descs: descs, maxDepth: o.maxDepth()}
}

// ReadObject decodes one value from the front of buf and reports how many
// bytes it consumed. Descriptors claimed by handle tags belong to the
// returned graph. On error nothing is returned, and every descriptor the
// decoder claimed is already closed.
//
// Descriptors after the claimed ones stay with the caller.
func ReadObject(buf []byte, descs []object.Descriptor) (object.Object, int, error) {
	return Options{}.ReadObject(buf, descs)
}

// ReadObject is ReadObject with these options.
func (opts Options) ReadObject(buf []byte, descs []object.Descriptor) (object.Object, int, error) {
	d := opts.NewDeserializer(buf, descs)
	o, err := d.ReadObject()
	if err != nil {
		return nil, 0, err
	}
	return o, d.off, nil
}

// Offset returns the bytes consumed so far.
func (d *Deserializer) Offset() int { return d.off }

// Claimed returns the number of descriptors adopted by handle values.
func (d *Deserializer) Claimed() int { return d.next }

// Unclaimed returns the descriptors no handle tag has claimed yet.
func (d *Deserializer) Unclaimed() []object.Descriptor { return d.descs[d.next:] }

// ReadObject decodes the next value. The caller owns the result.
func (d *Deserializer) ReadObject() (object.Object, error) {
	at := d.off
	tag, err := d.readU32()
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeNull:
		return object.Null, nil
	case TypeBool:
		v, err := d.readU32()
		if err != nil {
			return nil, err
		}
		return object.NewBool(v != 0), nil
	case TypeInt64:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return object.NewInt64(int64(v)), nil
	case TypeUint64:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return object.NewUint64(v), nil
	case TypeDouble:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return object.NewDouble(math.Float64frombits(v)), nil
	case TypeDate:
		v, err := d.readU64()
		if err != nil {
			return nil, err
		}
		return object.NewDateFromUnixNano(int64(v)), nil
	case TypeString:
		return d.readString()
	case TypeData:
		return d.readData()
	case TypeUUID:
		b, err := d.readPadded(16)
		if err != nil {
			return nil, err
		}
		id, err := object.NewUUIDFromBytes(b)
		if err != nil {
			return nil, d.errAt(at, err)
		}
		return id, nil
	case TypeArray:
		return d.readArray(at)
	case TypeDictionary:
		return d.readDictionary(at)
	}

	if kind, ok := handleKind(tag); ok {
		return d.claim(at, kind)
	}
	if reserved(tag) {
		return nil, d.errAt(at, fmt.Errorf("%w 0x%x", ErrUnsupportedType, tag))
	}
	return nil, d.errAt(at, fmt.Errorf("%w 0x%x", ErrUnknownType, tag))
}

func (d *Deserializer) readString() (object.Object, error) {
	at := d.off
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, d.errAt(at, ErrMissingTerminator)
	}
	b, err := d.readPadded(n)
	if err != nil {
		return nil, err
	}
	if b[n-1] != 0 {
		return nil, d.errAt(at, ErrMissingTerminator)
	}
	return object.NewString(string(b[:n-1])), nil
}

func (d *Deserializer) readData() (object.Object, error) {
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	b, err := d.readPadded(n)
	if err != nil {
		return nil, err
	}
	return object.NewData(b), nil
}

func (d *Deserializer) readArray(at int) (object.Object, error) {
	arr := object.NewArray()
	err := d.readContainer(at, func() error {
		child, err := d.ReadObject()
		if err != nil {
			return err
		}
		arr.Append(child)
		object.Release(child)
		return nil
	})
	if err != nil {
		object.Release(arr)
		return nil, err
	}
	return arr, nil
}

func (d *Deserializer) readDictionary(at int) (object.Object, error) {
	dict := object.NewDictionary()
	err := d.readContainer(at, func() error {
		keyAt := d.off
		key, err := d.readKey()
		if err != nil {
			return err
		}
		child, err := d.ReadObject()
		if err != nil {
			return err
		}
		before := dict.Count()
		dict.Set(key, child)
		object.Release(child)
		if dict.Count() == before {
			return d.errAt(keyAt, fmt.Errorf("%w %q", ErrDuplicateKey, key))
		}
		return nil
	})
	if err != nil {
		object.Release(dict)
		return nil, err
	}
	return dict, nil
}

// readContainer reads the size and count fields, then calls entry once per
// entry with reads confined to the declared content.
func (d *Deserializer) readContainer(at int, entry func() error) error {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > d.maxDepth {
		return d.errAt(at, fmt.Errorf("%w (limit %d)", ErrDepthExceeded, d.maxDepth))
	}

	sizeAt := d.off
	size, err := d.readU32()
	if err != nil {
		return err
	}
	if size < 4 || uint64(size) > uint64(d.end-d.off) {
		return d.errAt(sizeAt, fmt.Errorf("%w: content size %d", ErrLengthOutOfRange, size))
	}
	outer := d.end
	d.end = d.off + int(size)
	defer func() { d.end = outer }()

	count, err := d.readU32()
	if err != nil {
		return err
	}
	// every entry takes at least 4 bytes
	if uint64(count) > uint64(d.end-d.off)/4 {
		return d.errAt(sizeAt, fmt.Errorf("%w: %d entries in %d bytes", ErrSizeMismatch, count, size))
	}
	for range count {
		if err := entry(); err != nil {
			return err
		}
	}
	if d.off != d.end {
		return d.errAt(d.off, fmt.Errorf("%w: %d bytes left", ErrSizeMismatch, d.end-d.off))
	}
	return nil
}

// readKey reads a NUL-terminated dictionary key and its padding.
func (d *Deserializer) readKey() (string, error) {
	at := d.off
	i := bytes.IndexByte(d.buf[d.off:d.end], 0)
	if i < 0 {
		return "", d.errAt(at, ErrMissingTerminator)
	}
	b, err := d.readPadded(i + 1)
	if err != nil {
		return "", err
	}
	return string(b[:i]), nil
}

// claim adopts the next descriptor into a handle of kind.
func (d *Deserializer) claim(at int, kind object.Kind) (object.Object, error) {
	if d.next >= len(d.descs) {
		return nil, d.errAt(at, fmt.Errorf("%w: %d descriptors", ErrHandleUnderflow, len(d.descs)))
	}
	h, err := object.Adopt(kind, d.descs[d.next])
	if err != nil {
		return nil, d.errAt(at, err)
	}
	d.next++
	return h, nil
}

func (d *Deserializer) readU32() (uint32, error) {
	if d.end-d.off < 4 {
		return 0, d.errAt(d.off, ErrTruncated)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Deserializer) readU64() (uint64, error) {
	if d.end-d.off < 8 {
		return 0, d.errAt(d.off, ErrTruncated)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// readLength reads a length prefix no larger than the remaining content.
func (d *Deserializer) readLength() (int, error) {
	at := d.off
	n, err := d.readU32()
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(d.end-d.off) {
		return 0, d.errAt(at, fmt.Errorf("%w: %d > %d", ErrLengthOutOfRange, n, d.end-d.off))
	}
	return int(n), nil
}

// readPadded returns the next n bytes and skips their padding.
func (d *Deserializer) readPadded(n int) ([]byte, error) {
	if padded(n) > d.end-d.off {
		return nil, d.errAt(d.off, ErrTruncated)
	}
	b := d.buf[d.off : d.off+n]
	d.off += padded(n)
	return b, nil
}

func (d *Deserializer) errAt(offset int, err error) error {
	return &DecodeError{Offset: offset, Err: err}
}
