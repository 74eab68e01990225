// Package protocol implements the mini-xpc envelope and the frame that
// carries it over a stream socket.
//
// The envelope wraps exactly one serialized dictionary:
//
//	0        4        8
//	┌────────┬────────┬──────────────────────┐
//	│ magic  │version │   root dictionary    │
//	│ "@XPC" │   5    │   (codec encoding)   │
//	└────────┴────────┴──────────────────────┘
//
// The frame adds what the transport needs to deliver an envelope: its
// length, the descriptors that travel beside it, and the routing fields
// that pair replies with requests. Every field is little-endian.
//
//	0        4        8                16       20       24
//	┌────────┬────────┬────────────────┬────────┬────────┬─────────────┬──────────┐
//	│ msgID  │ flags  │      seq       │bodyLen │handles │dispositions │ envelope │
//	│ uint32 │ uint32 │     uint64     │ uint32 │ uint32 │ 4 × handles │ bodyLen  │
//	└────────┴────────┴────────────────┴────────┴────────┴─────────────┴──────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"mini-xpc/codec"
	"mini-xpc/object"
)

const (
	Magic        uint32 = 0x40585043 // "@XPC"
	Version      uint32 = 5
	EnvelopeSize int    = 8 // 4 (magic) + 4 (version)

	DefaultMaxMessageSize = 16 << 20
	DefaultMaxHandles     = 253 // SCM_MAX_FD
)

var (
	ErrBadMagic       = errors.New("protocol: bad magic")
	ErrBadVersion     = errors.New("protocol: unsupported version")
	ErrNotDictionary  = errors.New("protocol: root value is not a dictionary")
	ErrTrailingData   = errors.New("protocol: bytes after root value")
	ErrExtraHandles   = errors.New("protocol: descriptors left over after decode")
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds size limit")
	ErrTooManyHandles = errors.New("protocol: too many handles")
)

// Options bounds what Marshal, Unmarshal and Decode accept. Zero fields
// take the defaults.
type Options struct {
	Codec          codec.Options
	MaxMessageSize int // envelope bytes
	MaxHandles     int // descriptors per message
}

func (o Options) maxMessageSize() int {
	if o.MaxMessageSize <= 0 {
		return DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

func (o Options) maxHandles() int {
	if o.MaxHandles <= 0 {
		return DefaultMaxHandles
	}
	return o.MaxHandles
}

// Marshal encodes root as an envelope.
func Marshal(root *object.Dictionary) ([]byte, []*object.Handle, error) {
	return Options{}.Marshal(root)
}

// Unmarshal decodes an envelope and re-attaches descs to its handle values.
func Unmarshal(body []byte, descs []object.Descriptor) (*object.Dictionary, error) {
	return Options{}.Unmarshal(body, descs)
}

// Marshal measures root, allocates exactly, and writes the envelope.
func (o Options) Marshal(root *object.Dictionary) ([]byte, []*object.Handle, error) {
	if root == nil {
		return nil, nil, ErrNotDictionary
	}
	n, err := o.Codec.Measure(root)
	if err != nil {
		return nil, nil, err
	}
	if EnvelopeSize+n > o.maxMessageSize() {
		return nil, nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, EnvelopeSize+n, o.maxMessageSize())
	}

	buf := make([]byte, EnvelopeSize+n)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	written, handles, err := o.Codec.Write(root, buf[EnvelopeSize:])
	if err != nil {
		return nil, nil, err
	}
	if written != n {
		return nil, nil, fmt.Errorf("protocol: wrote %d bytes, measured %d", written, n)
	}
	if len(handles) > o.maxHandles() {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrTooManyHandles, len(handles), o.maxHandles())
	}
	return buf, handles, nil
}

// Unmarshal validates the envelope and decodes its dictionary. The body
// must be consumed exactly and every descriptor must be claimed by a handle
// value. On error every descriptor in descs has been closed.
func (o Options) Unmarshal(body []byte, descs []object.Descriptor) (*object.Dictionary, error) {
	// Step 1: Validate the envelope before touching descriptors
	if len(body) < EnvelopeSize {
		return nil, closeAll(fmt.Errorf("%w: %d byte message", ErrBadMagic, len(body)), descs)
	}
	if m := binary.LittleEndian.Uint32(body[0:4]); m != Magic {
		return nil, closeAll(fmt.Errorf("%w: 0x%08x", ErrBadMagic, m), descs)
	}
	if v := binary.LittleEndian.Uint32(body[4:8]); v != Version {
		return nil, closeAll(fmt.Errorf("%w: %d", ErrBadVersion, v), descs)
	}

	// Step 2: Decode the root value; claimed descriptors now belong to it
	d := o.Codec.NewDeserializer(body[EnvelopeSize:], descs)
	root, err := d.ReadObject()
	if err != nil {
		return nil, closeAll(err, d.Unclaimed())
	}

	// Step 3: The root must account for every byte and every descriptor
	var fail error
	switch {
	case d.Offset() != len(body)-EnvelopeSize:
		fail = fmt.Errorf("%w: %d of %d bytes", ErrTrailingData, d.Offset(), len(body)-EnvelopeSize)
	case len(d.Unclaimed()) > 0:
		fail = fmt.Errorf("%w: %d", ErrExtraHandles, len(d.Unclaimed()))
	case root.Kind() != object.KindDictionary:
		fail = fmt.Errorf("%w: %s", ErrNotDictionary, root.Kind())
	}
	if fail != nil {
		object.Release(root)
		return nil, closeAll(fail, d.Unclaimed())
	}
	return root.(*object.Dictionary), nil
}

// closeAll closes descs and folds any close failures into err.
func closeAll(err error, descs []object.Descriptor) error {
	for _, d := range descs {
		err = multierr.Append(err, d.Close())
	}
	return err
}
