package object

import (
	"bytes"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Equal reports whether a and b are structurally equal: same kind and same
// content. Arrays compare element by element in order; dictionaries
// compare by key regardless of insertion order. Doubles compare by bit
// pattern. Handles compare by kind and disposition, since descriptor
// numbers are local to a process.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case *nullObject:
		return true
	case *Bool:
		return av.value == b.(*Bool).value
	case *Int64:
		return av.value == b.(*Int64).value
	case *Uint64:
		return av.value == b.(*Uint64).value
	case *Double:
		return av.Bits() == b.(*Double).Bits()
	case *Date:
		return av.nanos == b.(*Date).nanos
	case *String:
		return av.value == b.(*String).value
	case *Data:
		return bytes.Equal(av.bytes, b.(*Data).bytes)
	case *UUID:
		return av.value == b.(*UUID).value
	case *Array:
		bv := b.(*Array)
		if len(av.items) != len(bv.items) {
			return false
		}
		for i := range av.items {
			if !Equal(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	case *Dictionary:
		bv := b.(*Dictionary)
		if len(av.keys) != len(bv.keys) {
			return false
		}
		for k, v := range av.values {
			w, ok := bv.values[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Handle:
		return av.disposition == b.(*Handle).disposition
	case *Error:
		return av.message == b.(*Error).message
	}
	panic("object: unhandled kind " + a.Kind().String())
}

// Hash returns a hash of o consistent with Equal.
func Hash(o Object) uint64 {
	h := blake3.New()
	hashInto(h, o)
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

func hashInto(h *blake3.Hasher, o Object) {
	var scratch [9]byte
	if o == nil {
		h.Write(scratch[:1])
		return
	}
	scratch[0] = byte(o.Kind()) + 1
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[1:], v)
		h.Write(scratch[:])
	}
	switch v := o.(type) {
	case *nullObject:
		h.Write(scratch[:1])
	case *Bool:
		if v.value {
			word(1)
		} else {
			word(0)
		}
	case *Int64:
		word(uint64(v.value))
	case *Uint64:
		word(v.value)
	case *Double:
		word(v.Bits())
	case *Date:
		word(uint64(v.nanos))
	case *String:
		word(uint64(len(v.value)))
		h.Write([]byte(v.value))
	case *Data:
		word(uint64(len(v.bytes)))
		h.Write(v.bytes)
	case *UUID:
		h.Write(scratch[:1])
		h.Write(v.value[:])
	case *Array:
		word(uint64(len(v.items)))
		for _, item := range v.items {
			hashInto(h, item)
		}
	case *Dictionary:
		// Entries are hashed on their own and summed so that insertion
		// order does not matter.
		var sum uint64
		for k, item := range v.values {
			entry := blake3.New()
			entry.Write([]byte(k))
			entry.Write([]byte{0})
			hashInto(entry, item)
			sum += binary.LittleEndian.Uint64(entry.Sum(nil))
		}
		word(uint64(len(v.keys)))
		word(sum)
	case *Handle:
		word(uint64(v.disposition))
	case *Error:
		word(uint64(len(v.message)))
		h.Write([]byte(v.message))
	default:
		panic("object: unhandled kind " + o.Kind().String())
	}
}
