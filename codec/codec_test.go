package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"mini-xpc/object"
)

// wire builds expected encodings by hand.
type wire struct{ bytes.Buffer }

func (w *wire) u32(v uint32) *wire {
	binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *wire) u64(v uint64) *wire {
	binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *wire) cstr(s string) *wire {
	w.WriteString(s)
	w.WriteByte(0)
	for w.Len()%4 != 0 {
		w.WriteByte(0)
	}
	return w
}

func (w *wire) str(s string) *wire {
	return w.u32(TypeString).u32(uint32(len(s) + 1)).cstr(s)
}

func encode(t *testing.T, o object.Object) []byte {
	t.Helper()
	n, err := Measure(o)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	buf := make([]byte, n)
	written, _, err := Write(o, buf)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if written != n {
		t.Fatalf("Write wrote %d bytes, Measure said %d", written, n)
	}
	return buf
}

func scenario() *object.Dictionary {
	d := object.NewDictionary()
	d.SetString("name", "Foo Bar")
	d.SetInt64("size", 500)
	d.SetBool("flags", true)
	tags := object.NewArray()
	for _, s := range []string{"red", "green", "blue"} {
		str := object.NewString(s)
		tags.Append(str)
		object.Release(str)
	}
	d.Set("tags", tags)
	object.Release(tags)
	return d
}

func pipeFDs(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestScenarioLayout(t *testing.T) {
	d := scenario()
	defer object.Release(d)

	arr := new(wire)
	arr.u32(3).str("red").str("green").str("blue")

	entries := new(wire)
	entries.u32(4)
	entries.cstr("name").str("Foo Bar")
	entries.cstr("size").u32(TypeInt64).u64(500)
	entries.cstr("flags").u32(TypeBool).u32(1)
	entries.cstr("tags").u32(TypeArray).u32(uint32(arr.Len()))
	entries.Write(arr.Bytes())

	want := new(wire)
	want.u32(TypeDictionary).u32(uint32(entries.Len()))
	want.Write(entries.Bytes())

	got := encode(t, d)
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("encoding mismatch:\ngot  %x\nwant %x", got, want.Bytes())
	}
	if len(got) != 136 {
		t.Errorf("encoded length = %d, want 136", len(got))
	}
	if size := binary.LittleEndian.Uint32(got[4:]); size != 128 {
		t.Errorf("content size = %d, want 128", size)
	}

	o, n, err := ReadObject(got, nil)
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	defer object.Release(o)
	if n != len(got) {
		t.Errorf("consumed %d bytes, want %d", n, len(got))
	}
	back := o.(*object.Dictionary)
	if back.GetInt64("size") != 500 {
		t.Errorf("size = %d, want 500", back.GetInt64("size"))
	}
	tags := back.GetArray("tags")
	if tags == nil || tags.Count() != 3 {
		t.Fatalf("tags = %v", tags)
	}
	for i, want := range []string{"red", "green", "blue"} {
		if tags.GetString(i) != want {
			t.Errorf("tags[%d] = %q, want %q", i, tags.GetString(i), want)
		}
	}
	if keys := back.Keys(); len(keys) != 4 || keys[0] != "name" || keys[3] != "tags" {
		t.Errorf("keys = %v", keys)
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	d := object.NewDictionary()
	d.Set("null", object.Null)
	d.SetBool("no", false)
	d.SetInt64("neg", math.MinInt64)
	d.SetUint64("big", math.MaxUint64)
	d.SetDouble("pi", math.Pi)
	d.SetDouble("nan", math.NaN())
	d.SetDate("when", time.Unix(1700000000, 123456789))
	d.SetString("empty", "")
	d.SetString("utf8", "héllo wörld")
	d.SetData("blob", []byte{1, 2, 3, 4, 5})
	d.SetData("none", nil)
	d.SetUUID("id", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	inner := object.NewDictionary()
	inner.Set("list", object.NewArray())
	object.Release(inner.Get("list"))
	d.Set("inner", inner)
	object.Release(inner)
	defer object.Release(d)

	buf := encode(t, d)
	o, _, err := ReadObject(buf, nil)
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	defer object.Release(o)
	if !object.Equal(d, o) {
		t.Fatalf("round trip mismatch:\n%s\nvs\n%s", object.Describe(d), object.Describe(o))
	}

	again := encode(t, o)
	if !bytes.Equal(buf, again) {
		t.Error("re-encoding differs from original bytes")
	}
}

func TestEmptyContainers(t *testing.T) {
	for _, o := range []object.Object{object.NewArray(), object.NewDictionary()} {
		buf := encode(t, o)
		if len(buf) != 12 {
			t.Errorf("%s: length = %d, want 12", o.Kind(), len(buf))
		}
		if size := binary.LittleEndian.Uint32(buf[4:]); size != 4 {
			t.Errorf("%s: content size = %d, want 4", o.Kind(), size)
		}
		back, _, err := ReadObject(buf, nil)
		if err != nil {
			t.Errorf("%s: ReadObject failed: %v", o.Kind(), err)
		} else {
			object.Release(back)
		}
		object.Release(o)
	}
}

func TestPadding(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abc", "abcd"} {
		str := object.NewString(s)
		buf := encode(t, str)
		if len(buf)%4 != 0 {
			t.Errorf("%q: length %d not aligned", s, len(buf))
		}
		if want := 8 + padded(len(s)+1); len(buf) != want {
			t.Errorf("%q: length = %d, want %d", s, len(buf), want)
		}
		object.Release(str)

		data := object.NewData([]byte(s))
		buf = encode(t, data)
		if want := 8 + padded(len(s)); len(buf) != want {
			t.Errorf("data %q: length = %d, want %d", s, len(buf), want)
		}
		object.Release(data)
	}
}

func TestWriteShortBuffer(t *testing.T) {
	d := scenario()
	defer object.Release(d)
	n, _ := Measure(d)
	_, _, err := Write(d, make([]byte, n-1))
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Write into short buffer = %v, want ErrShortBuffer", err)
	}
}

func TestUnsupportedKind(t *testing.T) {
	e := object.NewError("boom")
	d := object.NewDictionary()
	d.Set("err", e)
	object.Release(e)
	defer object.Release(d)

	if _, err := Measure(d); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Measure = %v, want ErrUnsupportedKind", err)
	}
	if _, _, err := Write(d, make([]byte, 256)); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Write = %v, want ErrUnsupportedKind", err)
	}
}

func TestKeyWithNUL(t *testing.T) {
	d := object.NewDictionary()
	d.SetInt64("a\x00b", 7)
	defer object.Release(d)

	if _, err := Measure(d); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Measure = %v, want ErrInvalidKey", err)
	}
	if _, _, err := Write(d, make([]byte, 256)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Write = %v, want ErrInvalidKey", err)
	}
}

func TestLengthField(t *testing.T) {
	if n, err := length(math.MaxUint32); err != nil || n != math.MaxUint32 {
		t.Errorf("length(MaxUint32) = %d, %v", n, err)
	}
	if _, err := length(math.MaxUint32 + 1); !errors.Is(err, ErrTooLarge) {
		t.Errorf("length(MaxUint32+1) = %v, want ErrTooLarge", err)
	}
}

func TestTruncationNeverLeaks(t *testing.T) {
	d := scenario()
	buf := encode(t, d)
	object.Release(d)

	before := object.Live()
	for i := 0; i < len(buf); i++ {
		o, _, err := ReadObject(buf[:i], nil)
		if err == nil {
			object.Release(o)
			t.Fatalf("prefix of %d bytes decoded", i)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("prefix %d: error %v is not a DecodeError", i, err)
		}
	}
	if live := object.Live(); live != before {
		t.Errorf("live objects = %d after failed decodes, want %d", live, before)
	}
}

func TestMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"unknown tag", new(wire).u32(0x99000).Bytes(), ErrUnknownType},
		{"error tag", new(wire).u32(TypeError).Bytes(), ErrUnsupportedType},
		{"pointer tag", new(wire).u32(TypePointer).u64(0).Bytes(), ErrUnsupportedType},
		{"oversize string", new(wire).u32(TypeString).u32(1 << 30).cstr("abc").Bytes(), ErrLengthOutOfRange},
		{"zero length string", new(wire).u32(TypeString).u32(0).Bytes(), ErrMissingTerminator},
		{"unterminated string", new(wire).u32(TypeString).u32(4).u32(0x61616161).Bytes(), ErrMissingTerminator},
		{"oversize data", new(wire).u32(TypeData).u32(9).u64(0).Bytes(), ErrLengthOutOfRange},
		{"short int64", new(wire).u32(TypeInt64).u32(1).Bytes(), ErrTruncated},
		{"short uuid", new(wire).u32(TypeUUID).u64(1).Bytes(), ErrTruncated},
		{"content size below count", new(wire).u32(TypeArray).u32(0).u32(0).Bytes(), ErrLengthOutOfRange},
		{"content size past end", new(wire).u32(TypeArray).u32(64).u32(0).Bytes(), ErrLengthOutOfRange},
		{"count past content", new(wire).u32(TypeArray).u32(8).u32(100).u32(TypeNull).Bytes(), ErrSizeMismatch},
		{"slack in container", new(wire).u32(TypeArray).u32(12).u32(1).u32(TypeNull).u32(0).Bytes(), ErrSizeMismatch},
		{"key without NUL", new(wire).u32(TypeDictionary).u32(8).u32(1).u32(0x61616161).Bytes(), ErrMissingTerminator},
		{"child past container", new(wire).u32(TypeArray).u32(8).u32(1).u32(TypeInt64).u64(1).Bytes(), ErrTruncated},
		{"handle without descriptor", new(wire).u32(TypeFileHandle).Bytes(), ErrHandleUnderflow},
		{"duplicate key", new(wire).u32(TypeDictionary).u32(36).u32(2).
			cstr("k").u32(TypeInt64).u64(1).
			cstr("k").u32(TypeInt64).u64(2).Bytes(), ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := object.Live()
			o, _, err := ReadObject(tt.in, nil)
			if err == nil {
				object.Release(o)
				t.Fatalf("decode succeeded, want %v", tt.want)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if live := object.Live(); live != before {
				t.Errorf("leaked %d objects", live-before)
			}
		})
	}
}

func TestNonZeroBoolIsTrue(t *testing.T) {
	o, _, err := ReadObject(new(wire).u32(TypeBool).u32(7).Bytes(), nil)
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	if o != object.True {
		t.Errorf("decoded %v, want the true singleton", o)
	}
}

func TestDepthLimit(t *testing.T) {
	var o object.Object = object.NewArray()
	for i := 0; i < DefaultMaxDepth; i++ {
		outer := object.NewArray(o)
		object.Release(o)
		o = outer
	}
	defer object.Release(o)

	if _, err := Measure(o); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("Measure = %v, want ErrDepthExceeded", err)
	}

	deep := Options{MaxDepth: DefaultMaxDepth + 1}
	n, err := deep.Measure(o)
	if err != nil {
		t.Fatalf("Measure with raised limit failed: %v", err)
	}
	buf := make([]byte, n)
	if _, _, err := deep.Write(o, buf); err != nil {
		t.Fatalf("Write with raised limit failed: %v", err)
	}

	before := object.Live()
	if _, _, err := ReadObject(buf, nil); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("ReadObject = %v, want ErrDepthExceeded", err)
	}
	if live := object.Live(); live != before {
		t.Errorf("leaked %d objects", live-before)
	}
	back, _, err := deep.ReadObject(buf, nil)
	if err != nil {
		t.Fatalf("ReadObject with raised limit failed: %v", err)
	}
	object.Release(back)
}

func TestHandlesTravelBeside(t *testing.T) {
	r, _ := pipeFDs(t)
	d := object.NewDictionary()
	d.SetString("op", "open")
	if err := d.SetFileHandle("fd", r); err != nil {
		t.Fatalf("SetFileHandle failed: %v", err)
	}
	defer object.Release(d)

	buf := encode(t, d)
	_, handles, err := Write(d, make([]byte, len(buf)))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(handles) != 1 || handles[0].Kind() != object.KindFileHandle {
		t.Fatalf("handles = %v", handles)
	}
	// "fd\0" + pad, then the tag alone
	if !bytes.HasSuffix(buf, new(wire).cstr("fd").u32(TypeFileHandle).Bytes()) {
		t.Errorf("handle entry not encoded as tag only: %x", buf)
	}

	dup, err := handles[0].Dup()
	if err != nil {
		t.Fatalf("Dup failed: %v", err)
	}
	o, _, err := ReadObject(buf, []object.Descriptor{{FD: dup, Disposition: object.DispositionMove}})
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	h := o.(*object.Dictionary).Get("fd").(*object.Handle)
	if h.FD() != dup {
		t.Errorf("handle fd = %d, want %d", h.FD(), dup)
	}
	object.Release(o)
	if isOpen(dup) {
		t.Error("adopted descriptor still open after release")
	}
}

func TestFailedDecodeClosesClaimedHandles(t *testing.T) {
	_, w := pipeFDs(t)
	fd, err := unix.Dup(w)
	if err != nil {
		t.Fatal(err)
	}
	extra, err := unix.Dup(w)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(extra)

	// [fd, <truncated string>]
	in := new(wire).u32(TypeArray).u32(16).u32(2).u32(TypeFileHandle).u32(TypeString).u32(64).Bytes()
	descs := []object.Descriptor{{FD: fd}, {FD: extra}}
	d := Options{}.NewDeserializer(in, descs)
	if _, err := d.ReadObject(); err == nil {
		t.Fatal("decode succeeded")
	}
	if isOpen(fd) {
		t.Error("claimed descriptor left open")
	}
	if got := d.Unclaimed(); len(got) != 1 || got[0].FD != extra {
		t.Errorf("Unclaimed = %v", got)
	}
	if !isOpen(extra) {
		t.Error("unclaimed descriptor was closed")
	}
}

func TestMutationsNeverPanic(t *testing.T) {
	d := scenario()
	buf := encode(t, d)
	object.Release(d)

	before := object.Live()
	mutated := make([]byte, len(buf))
	for i := range buf {
		for _, b := range []byte{0x00, 0x01, 0x7f, 0xff} {
			copy(mutated, buf)
			mutated[i] = b
			if o, _, err := ReadObject(mutated, nil); err == nil {
				object.Release(o)
			}
		}
	}
	if live := object.Live(); live != before {
		t.Errorf("leaked %d objects", live-before)
	}
}

func FuzzReadObject(f *testing.F) {
	d := scenario()
	n, _ := Measure(d)
	seed := make([]byte, n)
	Write(d, seed)
	object.Release(d)
	f.Add(seed)
	f.Add(new(wire).u32(TypeArray).u32(4).u32(0).Bytes())

	f.Fuzz(func(t *testing.T, in []byte) {
		o, consumed, err := ReadObject(in, nil)
		if err != nil {
			return
		}
		defer object.Release(o)
		if consumed > len(in) || consumed%4 != 0 {
			t.Fatalf("consumed %d of %d bytes", consumed, len(in))
		}
		if _, err := Measure(o); err != nil {
			t.Fatalf("decoded value does not re-encode: %v", err)
		}
	})
}

func TestCBORExport(t *testing.T) {
	d := scenario()
	defer object.Release(d)

	first, err := MarshalCBOR(d)
	if err != nil {
		t.Fatalf("MarshalCBOR failed: %v", err)
	}
	second, _ := MarshalCBOR(d)
	if !bytes.Equal(first, second) {
		t.Error("CBOR encoding is not deterministic")
	}

	o, err := UnmarshalCBOR(first)
	if err != nil {
		t.Fatalf("UnmarshalCBOR failed: %v", err)
	}
	defer object.Release(o)
	back := o.(*object.Dictionary)
	if back.GetString("name") != "Foo Bar" || !back.GetBool("flags") {
		t.Errorf("decoded %s", object.Describe(back))
	}
	// CBOR has no signed/unsigned distinction for positive integers
	if v, ok := back.Get("size").(*object.Uint64); !ok || v.Value() != 500 {
		t.Errorf("size = %v", back.Get("size"))
	}
	if back.GetArray("tags").GetString(2) != "blue" {
		t.Errorf("tags = %v", back.GetArray("tags"))
	}

	diag, err := DiagnoseCBOR(first)
	if err != nil || !bytes.Contains([]byte(diag), []byte(`"Foo Bar"`)) {
		t.Errorf("DiagnoseCBOR = %q, %v", diag, err)
	}
}
