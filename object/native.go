package object

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedNative is returned by FromNative for Go values with no
// counterpart in the model.
var ErrUnsupportedNative = errors.New("object: unsupported native value")

// ToNative converts o into plain Go values: nil, bool, int64, uint64,
// float64, time.Time, string, []byte, uuid.UUID, []any and map[string]any.
// Handles and errors become their descriptive strings.
func ToNative(o Object) any {
	switch v := o.(type) {
	case nil, *nullObject:
		return nil
	case *Bool:
		return v.value
	case *Int64:
		return v.value
	case *Uint64:
		return v.value
	case *Double:
		return v.value
	case *Date:
		return v.Time()
	case *String:
		return v.value
	case *Data:
		return append([]byte(nil), v.bytes...)
	case *UUID:
		return v.value
	case *Array:
		out := make([]any, 0, len(v.items))
		for _, item := range v.items {
			out = append(out, ToNative(item))
		}
		return out
	case *Dictionary:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = ToNative(v.values[k])
		}
		return out
	case *Handle:
		return v.String()
	case *Error:
		return v.String()
	}
	panic("object: unhandled kind " + o.Kind().String())
}

// FromNative builds a value graph from plain Go values, the inverse of
// ToNative. Values that are already Objects are retained and used as is.
// The caller owns the result.
func FromNative(v any) (Object, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Object:
		return Retain(x), nil
	case bool:
		return NewBool(x), nil
	case int:
		return NewInt64(int64(x)), nil
	case int8:
		return NewInt64(int64(x)), nil
	case int16:
		return NewInt64(int64(x)), nil
	case int32:
		return NewInt64(int64(x)), nil
	case int64:
		return NewInt64(x), nil
	case uint:
		return NewUint64(uint64(x)), nil
	case uint8:
		return NewUint64(uint64(x)), nil
	case uint16:
		return NewUint64(uint64(x)), nil
	case uint32:
		return NewUint64(uint64(x)), nil
	case uint64:
		return NewUint64(x), nil
	case float32:
		return NewDouble(float64(x)), nil
	case float64:
		return NewDouble(x), nil
	case string:
		return NewString(x), nil
	case []byte:
		return NewData(x), nil
	case time.Time:
		return NewDate(x), nil
	case uuid.UUID:
		return NewUUID(x), nil
	case []any:
		arr := NewArray()
		for i, item := range x {
			child, err := FromNative(item)
			if err != nil {
				Release(arr)
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr.Append(child)
			Release(child)
		}
		return arr, nil
	case map[string]any:
		dict := NewDictionary()
		for k, item := range x {
			if err := setNative(dict, k, item); err != nil {
				Release(dict)
				return nil, err
			}
		}
		return dict, nil
	case map[any]any:
		dict := NewDictionary()
		for k, item := range x {
			key, ok := k.(string)
			if !ok {
				Release(dict)
				return nil, fmt.Errorf("%w: key of type %T", ErrUnsupportedNative, k)
			}
			if err := setNative(dict, key, item); err != nil {
				Release(dict)
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedNative, v)
}

func setNative(dict *Dictionary, key string, v any) error {
	child, err := FromNative(v)
	if err != nil {
		return fmt.Errorf("%q: %w", key, err)
	}
	dict.Set(key, child)
	Release(child)
	return nil
}
