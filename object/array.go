package object

import (
	"fmt"
	"iter"
)

// Array is an ordered sequence of values. Duplicates are allowed.
type Array struct {
	header
	items []Object
}

// NewArray returns an array holding values, each retained.
func NewArray(values ...Object) *Array {
	o := &Array{items: make([]Object, 0, len(values))}
	o.init()
	for _, v := range values {
		o.Append(v)
	}
	return o
}

func (*Array) Kind() Kind { return KindArray }

// Count returns the number of elements.
func (a *Array) Count() int { return len(a.items) }

// Append retains v and adds it at the end. A nil v appends Null.
func (a *Array) Append(v Object) {
	if v == nil {
		v = Null
	}
	a.items = append(a.items, Retain(v))
}

// Get returns the element at index without retaining it, or nil when index
// is out of range.
func (a *Array) Get(index int) Object {
	if index < 0 || index >= len(a.items) {
		return nil
	}
	return a.items[index]
}

// Set replaces the element at index, releasing the old value and retaining
// v.
func (a *Array) Set(index int, v Object) error {
	if index < 0 || index >= len(a.items) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(a.items))
	}
	if v == nil {
		v = Null
	}
	old := a.items[index]
	a.items[index] = Retain(v)
	Release(old)
	return nil
}

// ForEach calls fn for each element in order until fn returns false. It
// reports whether every element was visited.
func (a *Array) ForEach(fn func(index int, v Object) bool) bool {
	for i, v := range a.items {
		if !fn(i, v) {
			return false
		}
	}
	return true
}

// All iterates over the elements in order.
func (a *Array) All() iter.Seq2[int, Object] {
	return func(yield func(int, Object) bool) {
		a.ForEach(yield)
	}
}

// Typed getters return the zero value when the element is missing or has
// another kind.

func (a *Array) GetInt64(index int) int64 {
	v, _ := a.Get(index).(*Int64)
	if v == nil {
		return 0
	}
	return v.value
}

func (a *Array) GetString(index int) string {
	v, _ := a.Get(index).(*String)
	if v == nil {
		return ""
	}
	return v.value
}

func (a *Array) String() string { return Describe(a) }

func (a *Array) teardown() {
	items := a.items
	a.items = nil
	for _, v := range items {
		Release(v)
	}
}
