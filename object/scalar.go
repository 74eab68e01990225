package object

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// nullObject backs the Null singleton.
type nullObject struct{ header }

// Null is the only null value.
var Null Object = &nullObject{header{immortal: true}}

func (*nullObject) Kind() Kind { return KindNull }
func (*nullObject) String() string { return "<null>" }
func (*nullObject) teardown() {}

// NewNull returns the null singleton.
func NewNull() Object { return Null }

// Bool is a boolean value. The only instances are True and False.
type Bool struct {
	header
	value bool
}

var (
	True  = &Bool{header: header{immortal: true}, value: true}
	False = &Bool{header: header{immortal: true}, value: false}
)

// NewBool returns True or False.
func NewBool(b bool) *Bool {
	if b {
		return True
	}
	return False
}

func (*Bool) Kind() Kind { return KindBool }
func (b *Bool) Value() bool { return b.value }
func (b *Bool) String() string { return strconv.FormatBool(b.value) }
func (*Bool) teardown() {}

// Int64 is a signed 64-bit integer value.
type Int64 struct {
	header
	value int64
}

func NewInt64(v int64) *Int64 {
	o := &Int64{value: v}
	o.init()
	return o
}

func (*Int64) Kind() Kind { return KindInt64 }
func (o *Int64) Value() int64 { return o.value }
func (o *Int64) String() string { return strconv.FormatInt(o.value, 10) }
func (*Int64) teardown() {}

// Uint64 is an unsigned 64-bit integer value.
type Uint64 struct {
	header
	value uint64
}

func NewUint64(v uint64) *Uint64 {
	o := &Uint64{value: v}
	o.init()
	return o
}

func (*Uint64) Kind() Kind { return KindUint64 }
func (o *Uint64) Value() uint64 { return o.value }
func (o *Uint64) String() string { return strconv.FormatUint(o.value, 10) }
func (*Uint64) teardown() {}

// Double is a 64-bit IEEE-754 value.
type Double struct {
	header
	value float64
}

func NewDouble(v float64) *Double {
	o := &Double{value: v}
	o.init()
	return o
}

func (*Double) Kind() Kind { return KindDouble }
func (o *Double) Value() float64 { return o.value }
func (o *Double) String() string { return strconv.FormatFloat(o.value, 'g', -1, 64) }
func (*Double) teardown() {}

// Bits returns the IEEE-754 bit pattern, which is what Equal and Hash
// compare.
func (o *Double) Bits() uint64 { return math.Float64bits(o.value) }

// Date is a point in time with nanosecond resolution.
type Date struct {
	header
	nanos int64
}

// NewDate returns a Date for t.
func NewDate(t time.Time) *Date {
	return NewDateFromUnixNano(t.UnixNano())
}

// NewDateFromUnixNano returns a Date nanos nanoseconds after the Unix epoch.
func NewDateFromUnixNano(nanos int64) *Date {
	o := &Date{nanos: nanos}
	o.init()
	return o
}

func (*Date) Kind() Kind { return KindDate }
func (o *Date) UnixNano() int64 { return o.nanos }
func (o *Date) Time() time.Time { return time.Unix(0, o.nanos).UTC() }
func (o *Date) String() string { return o.Time().Format(time.RFC3339Nano) }
func (*Date) teardown() {}

// UUID is a 16-byte universally unique identifier.
type UUID struct {
	header
	value uuid.UUID
}

func NewUUID(id uuid.UUID) *UUID {
	o := &UUID{value: id}
	o.init()
	return o
}

// NewUUIDFromBytes copies a 16-byte UUID. It returns an error when b has
// the wrong length.
func NewUUIDFromBytes(b []byte) (*UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("object: %w", err)
	}
	return NewUUID(id), nil
}

func (*UUID) Kind() Kind { return KindUUID }
func (o *UUID) Value() uuid.UUID { return o.value }
func (o *UUID) String() string { return o.value.String() }
func (*UUID) teardown() {}

// Error is an error value. It can be built and inspected locally but has
// no wire encoding.
type Error struct {
	header
	message string
}

func NewError(message string) *Error {
	o := &Error{message: message}
	o.init()
	return o
}

func (*Error) Kind() Kind { return KindError }
func (o *Error) Message() string { return o.message }
func (o *Error) String() string { return "error: " + o.message }
func (*Error) teardown() {}
