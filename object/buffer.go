package object

import (
	"encoding/hex"
	"strconv"
)

// String is an immutable UTF-8 string. Equality is by content.
type String struct {
	header
	value string
}

func NewString(s string) *String {
	o := &String{value: s}
	o.init()
	return o
}

func (*String) Kind() Kind { return KindString }

// Value returns the string content.
func (o *String) Value() string { return o.value }

// Len returns the content length in bytes, not counting a terminator.
func (o *String) Len() int { return len(o.value) }

func (o *String) String() string { return strconv.Quote(o.value) }

func (o *String) teardown() { o.value = "" }

// Data is an owned byte buffer whose content may be replaced in place.
// Replace is not synchronized against concurrent readers.
type Data struct {
	header
	bytes []byte
}

// NewData copies b into a new Data value.
func NewData(b []byte) *Data {
	o := &Data{bytes: append([]byte(nil), b...)}
	o.init()
	return o
}

func (*Data) Kind() Kind { return KindData }

// Bytes returns the content. The slice aliases the value's buffer.
func (o *Data) Bytes() []byte { return o.bytes }

func (o *Data) Len() int { return len(o.bytes) }

// Replace copies b over the current content, keeping the value's identity.
func (o *Data) Replace(b []byte) {
	o.bytes = append(o.bytes[:0], b...)
}

func (o *Data) String() string {
	const max = 32
	if len(o.bytes) > max {
		return "<" + strconv.Itoa(len(o.bytes)) + " bytes: " + hex.EncodeToString(o.bytes[:max]) + "...>"
	}
	return "<" + strconv.Itoa(len(o.bytes)) + " bytes: " + hex.EncodeToString(o.bytes) + ">"
}

func (o *Data) teardown() { o.bytes = nil }
