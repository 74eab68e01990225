package object

import (
	"iter"
	"time"
	"weak"

	"github.com/google/uuid"
)

// Dictionary maps string keys to values. Keys are unique and matched byte
// for byte. Iteration follows insertion order; equality ignores it.
//
// A dictionary that arrived over a pipe also carries the sequence id its
// reply must be routed with and a weak reference to the connection it
// came from.
type Dictionary struct {
	header
	keys   []string
	values map[string]Object

	replyID  uint64
	hasReply bool
	remote   weak.Pointer[Connection]
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	o := &Dictionary{values: make(map[string]Object)}
	o.init()
	return o
}

// CreateReply returns an empty dictionary addressed back to the sender of
// request: it shares the request's reply id and remote connection. It
// returns nil when request did not arrive from a peer.
func CreateReply(request *Dictionary) *Dictionary {
	if request == nil || !request.hasReply {
		return nil
	}
	reply := NewDictionary()
	reply.replyID = request.replyID
	reply.hasReply = true
	reply.remote = request.remote
	return reply
}

func (*Dictionary) Kind() Kind { return KindDictionary }

// Count returns the number of entries.
func (d *Dictionary) Count() int { return len(d.keys) }

// Set stores v under key, retaining it. An existing entry keeps its
// position and its old value is released. A nil v removes the key.
func (d *Dictionary) Set(key string, v Object) {
	if v == nil {
		d.Remove(key)
		return
	}
	Retain(v)
	if old, ok := d.values[key]; ok {
		d.values[key] = v
		Release(old)
		return
	}
	d.keys = append(d.keys, key)
	d.values[key] = v
}

// Get returns the value for key without retaining it, or nil.
func (d *Dictionary) Get(key string) Object {
	return d.values[key]
}

// Remove deletes key and releases its value. It reports whether the key
// was present.
func (d *Dictionary) Remove(key string) bool {
	old, ok := d.values[key]
	if !ok {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	Release(old)
	return true
}

// ForEach calls fn for each entry in insertion order until fn returns
// false. It reports whether every entry was visited.
func (d *Dictionary) ForEach(fn func(key string, v Object) bool) bool {
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return false
		}
	}
	return true
}

// All iterates over the entries in insertion order.
func (d *Dictionary) All() iter.Seq2[string, Object] {
	return func(yield func(string, Object) bool) {
		d.ForEach(yield)
	}
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []string {
	return append([]string(nil), d.keys...)
}

// SetReplyID records the sequence id a reply to this message is routed
// with.
func (d *Dictionary) SetReplyID(id uint64) {
	d.replyID = id
	d.hasReply = true
}

// ReplyID returns the reply sequence id, if one was recorded.
func (d *Dictionary) ReplyID() (uint64, bool) {
	return d.replyID, d.hasReply
}

// SetRemoteConnection records the connection this message arrived on. The
// dictionary does not keep the connection alive.
func (d *Dictionary) SetRemoteConnection(c *Connection) {
	if c == nil {
		d.remote = weak.Pointer[Connection]{}
		return
	}
	d.remote = weak.Make(c)
}

// RemoteConnection returns the connection this message arrived on, or nil
// if there is none or it has been collected.
func (d *Dictionary) RemoteConnection() *Connection {
	return d.remote.Value()
}

// Typed setters wrap the scalar in a new value owned by the dictionary.

func (d *Dictionary) SetBool(key string, v bool) { d.Set(key, NewBool(v)) }
func (d *Dictionary) SetInt64(key string, v int64) { d.setOwned(key, NewInt64(v)) }
func (d *Dictionary) SetUint64(key string, v uint64) { d.setOwned(key, NewUint64(v)) }
func (d *Dictionary) SetDouble(key string, v float64) { d.setOwned(key, NewDouble(v)) }
func (d *Dictionary) SetString(key string, v string) { d.setOwned(key, NewString(v)) }
func (d *Dictionary) SetData(key string, v []byte) { d.setOwned(key, NewData(v)) }
func (d *Dictionary) SetUUID(key string, v uuid.UUID) { d.setOwned(key, NewUUID(v)) }
func (d *Dictionary) SetDate(key string, v time.Time) { d.setOwned(key, NewDate(v)) }

// SetFileHandle stores a duplicate of fd under key.
func (d *Dictionary) SetFileHandle(key string, fd int) error {
	h, err := NewFileHandle(fd, DispositionCopy)
	if err != nil {
		return err
	}
	d.setOwned(key, h)
	return nil
}

func (d *Dictionary) setOwned(key string, v Object) {
	d.Set(key, v)
	Release(v)
}

// Typed getters return the zero value when the key is missing or holds
// another kind.

func (d *Dictionary) GetBool(key string) bool {
	v, _ := d.values[key].(*Bool)
	return v != nil && v.value
}

func (d *Dictionary) GetInt64(key string) int64 {
	if v, ok := d.values[key].(*Int64); ok {
		return v.value
	}
	return 0
}

func (d *Dictionary) GetUint64(key string) uint64 {
	if v, ok := d.values[key].(*Uint64); ok {
		return v.value
	}
	return 0
}

func (d *Dictionary) GetDouble(key string) float64 {
	if v, ok := d.values[key].(*Double); ok {
		return v.value
	}
	return 0
}

func (d *Dictionary) GetString(key string) string {
	if v, ok := d.values[key].(*String); ok {
		return v.value
	}
	return ""
}

func (d *Dictionary) GetData(key string) []byte {
	if v, ok := d.values[key].(*Data); ok {
		return v.bytes
	}
	return nil
}

func (d *Dictionary) GetUUID(key string) uuid.UUID {
	if v, ok := d.values[key].(*UUID); ok {
		return v.value
	}
	return uuid.Nil
}

func (d *Dictionary) GetDate(key string) time.Time {
	if v, ok := d.values[key].(*Date); ok {
		return v.Time()
	}
	return time.Time{}
}

func (d *Dictionary) GetArray(key string) *Array {
	v, _ := d.values[key].(*Array)
	return v
}

func (d *Dictionary) GetDictionary(key string) *Dictionary {
	v, _ := d.values[key].(*Dictionary)
	return v
}

// DupFileHandle returns a fresh duplicate of the descriptor stored under
// key. The caller owns the result.
func (d *Dictionary) DupFileHandle(key string) (int, error) {
	h, ok := d.values[key].(*Handle)
	if !ok || h.kind != KindFileHandle {
		return -1, ErrTypeMismatch
	}
	return h.Dup()
}

func (d *Dictionary) String() string { return Describe(d) }

func (d *Dictionary) teardown() {
	values := d.values
	keys := d.keys
	d.values, d.keys = nil, nil
	d.remote = weak.Pointer[Connection]{}
	for _, k := range keys {
		Release(values[k])
	}
}
