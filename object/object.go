// Package object implements the value model carried by mini-xpc messages.
//
// Every value is one of a closed set of concrete types behind the sealed
// Object interface:
//
//	scalars    Null  Bool  Int64  Uint64  Double  Date  UUID
//	buffers    String  Data
//	containers Array  Dictionary
//	handles    FileHandle  SharedMemory  SendHandle  ReceiveHandle  (*Handle)
//	other      Error
//
// Lifetime is reference counted. A constructor returns a value holding one
// reference owned by the caller; containers retain what is stored in them
// and release it when replaced, removed, or torn down. The count is updated
// atomically, so retain/release may race freely across goroutines.
// Mutating the same container (or replacing Data content) from several
// goroutines is not synchronized here: callers serialize mutation
// themselves.
//
// Null, True and False are process-wide singletons. Retaining or releasing
// them does nothing.
package object

import (
	"fmt"
	"sync/atomic"
)

// Object is any value of the model. The set of implementations is closed.
type Object interface {
	// Kind reports the concrete kind of the value.
	Kind() Kind
	fmt.Stringer

	hdr() *header
	teardown()
}

// header is the reference count shared by every heap value.
type header struct {
	refs     atomic.Int32
	immortal bool
}

// live counts heap values constructed and not yet torn down.
var live atomic.Int64

func (h *header) init() {
	h.refs.Store(1)
	live.Add(1)
}

func (h *header) hdr() *header { return h }

// Retain adds a reference to o and returns it.
//
//	kept := object.Retain(dict.Get("payload"))
func Retain[T Object](o T) T {
	h := o.hdr()
	if h.immortal {
		return o
	}
	if h.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("object: retain of released %s", o.Kind()))
	}
	return o
}

// Release drops a reference to o. When the last reference goes away the
// value is torn down: buffers are dropped, children are released and owned
// descriptors are closed. Release of a nil Object is a no-op.
func Release(o Object) {
	if o == nil {
		return
	}
	h := o.hdr()
	if h.immortal {
		return
	}
	switch n := h.refs.Add(-1); {
	case n == 0:
		o.teardown()
		live.Add(-1)
	case n < 0:
		panic(fmt.Sprintf("object: over-release of %s", o.Kind()))
	}
}

// RefCount reports the current number of references to o. Singletons
// always report 1.
func RefCount(o Object) int32 {
	h := o.hdr()
	if h.immortal {
		return 1
	}
	return h.refs.Load()
}

// Live reports how many heap values exist that have not been torn down.
// Tests use it to check that failure paths release what they built.
func Live() int64 {
	return live.Load()
}
