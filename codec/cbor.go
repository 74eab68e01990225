package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"mini-xpc/object"
)

// CBOR is a lossy export of an object graph for tooling: signed and
// unsigned integers share CBOR's integer types, UUIDs become text and
// handles become their descriptions. It is never used on a pipe.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// keep nanoseconds and mark dates so they decode as time.Time
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TimeTag = cbor.EncTagRequired
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR encodes o with Core Deterministic Encoding, so equal graphs
// produce identical bytes.
func MarshalCBOR(o object.Object) ([]byte, error) {
	return cborEnc.Marshal(object.ToNative(o))
}

// UnmarshalCBOR builds a graph from CBOR data. The caller owns the result.
func UnmarshalCBOR(data []byte) (object.Object, error) {
	var v any
	if err := cborDec.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return object.FromNative(v)
}

// DiagnoseCBOR returns the RFC 8949 diagnostic notation for data.
func DiagnoseCBOR(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
