package object

import (
	"errors"
	"math"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

func TestSingletonIdentity(t *testing.T) {
	if NewBool(true) != NewBool(true) {
		t.Fatal("NewBool(true) returned distinct objects")
	}
	if NewBool(false) != NewBool(false) {
		t.Fatal("NewBool(false) returned distinct objects")
	}
	if NewNull() != NewNull() {
		t.Fatal("NewNull returned distinct objects")
	}

	before := Live()
	Retain(True)
	Release(True)
	Release(True)
	Release(Null)
	if Live() != before {
		t.Fatalf("singleton retain/release changed live count: %d -> %d", before, Live())
	}
	if !True.Value() || False.Value() {
		t.Fatal("singleton values changed")
	}
}

func TestRetainReleaseIdempotent(t *testing.T) {
	s := NewString("hello")
	defer Release(s)

	Release(Retain(s))
	if got := RefCount(s); got != 1 {
		t.Fatalf("refcount after retain/release: got %d, want 1", got)
	}
	if s.Value() != "hello" || s.Len() != 5 {
		t.Fatalf("string unusable after retain/release: %q", s.Value())
	}
}

func TestConcurrentRetainRelease(t *testing.T) {
	arr := NewArray(NewString("a"), NewInt64(1))
	// NewArray retained both; drop the constructor references.
	Release(arr.Get(0))
	Release(arr.Get(1))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				Release(Retain(arr))
			}
		}()
	}
	wg.Wait()

	if got := RefCount(arr); got != 1 {
		t.Fatalf("refcount after concurrent retain/release: got %d, want 1", got)
	}
	before := Live()
	Release(arr)
	if got := before - Live(); got != 3 {
		t.Fatalf("teardown freed %d values, want 3", got)
	}
}

func TestOverReleasePanics(t *testing.T) {
	v := NewInt64(7)
	Release(v)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on over-release")
		}
	}()
	Release(v)
}

func TestDictionaryReplace(t *testing.T) {
	d := NewDictionary()
	defer Release(d)

	v1 := NewInt64(1)
	v2 := NewInt64(2)
	d.Set("k", v1)
	if got := RefCount(v1); got != 2 {
		t.Fatalf("v1 refcount after first set: got %d, want 2", got)
	}

	d.Set("k", v2)
	if got := RefCount(v1); got != 1 {
		t.Fatalf("v1 refcount after replace: got %d, want 1", got)
	}
	if d.Get("k") != Object(v2) {
		t.Fatal("get after replace did not return v2")
	}
	if d.Count() != 1 {
		t.Fatalf("count after replace: got %d, want 1", d.Count())
	}
	Release(v1)
	Release(v2)
}

func TestDictionaryOrderAndRemove(t *testing.T) {
	d := NewDictionary()
	defer Release(d)

	d.SetString("c", "3")
	d.SetString("a", "1")
	d.SetString("b", "2")
	d.SetString("a", "one")

	want := []string{"c", "a", "b"}
	var got []string
	for k := range d.All() {
		got = append(got, k)
	}
	if len(got) != len(want) {
		t.Fatalf("keys: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys: got %v, want %v", got, want)
		}
	}

	if !d.Remove("a") || d.Remove("a") {
		t.Fatal("remove reported wrong presence")
	}
	d.Set("b", nil)
	if d.Count() != 1 || d.GetString("c") != "3" {
		t.Fatalf("unexpected contents after removal: %v", d.Keys())
	}

	visited := 0
	complete := d.ForEach(func(string, Object) bool {
		visited++
		return false
	})
	if complete || visited != 1 {
		t.Fatalf("early exit: complete=%v visited=%d", complete, visited)
	}
}

func TestDictionaryTypedGetters(t *testing.T) {
	d := NewDictionary()
	defer Release(d)

	id := uuid.New()
	now := time.Unix(1700000000, 123).UTC()
	d.SetBool("flag", true)
	d.SetInt64("size", 500)
	d.SetUint64("count", 3)
	d.SetDouble("ratio", 0.5)
	d.SetString("name", "Foo Bar")
	d.SetData("blob", []byte{1, 2, 3})
	d.SetUUID("id", id)
	d.SetDate("when", now)

	if !d.GetBool("flag") || d.GetInt64("size") != 500 || d.GetUint64("count") != 3 ||
		d.GetDouble("ratio") != 0.5 || d.GetString("name") != "Foo Bar" ||
		len(d.GetData("blob")) != 3 || d.GetUUID("id") != id || !d.GetDate("when").Equal(now) {
		t.Fatalf("typed getters returned wrong values:\n%s", Describe(d))
	}

	// Mismatched kinds and missing keys yield zero values.
	if d.GetInt64("name") != 0 || d.GetString("size") != "" || d.GetBool("missing") {
		t.Fatal("type mismatch did not return zero value")
	}
	if d.GetArray("name") != nil || d.GetDictionary("size") != nil {
		t.Fatal("container getter on scalar did not return nil")
	}
}

func TestArraySet(t *testing.T) {
	old := NewString("old")
	arr := NewArray(old)
	defer Release(arr)

	repl := NewString("new")
	if err := arr.Set(0, repl); err != nil {
		t.Fatal(err)
	}
	if RefCount(old) != 1 || RefCount(repl) != 2 {
		t.Fatalf("refcounts after set: old=%d new=%d", RefCount(old), RefCount(repl))
	}
	if err := arr.Set(5, repl); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("set out of range: got %v", err)
	}
	if arr.Get(-1) != nil || arr.Get(1) != nil {
		t.Fatal("get out of range returned a value")
	}
	if arr.GetString(0) != "new" || arr.GetInt64(0) != 0 {
		t.Fatal("typed array getters returned wrong values")
	}
	Release(old)
	Release(repl)
}

func TestEqualAndHash(t *testing.T) {
	build := func(order []string) *Dictionary {
		d := NewDictionary()
		for _, k := range order {
			switch k {
			case "n":
				d.SetInt64(k, 500)
			case "s":
				d.SetString(k, "x")
			case "a":
				arr := NewArray(NewString("red"), NewString("green"))
				Release(arr.Get(0))
				Release(arr.Get(1))
				d.Set(k, arr)
				Release(arr)
			case "f":
				d.SetDouble(k, math.NaN())
			}
		}
		return d
	}
	a := build([]string{"n", "s", "a", "f"})
	b := build([]string{"f", "a", "s", "n"})
	defer Release(a)
	defer Release(b)

	if !Equal(a, b) {
		t.Fatalf("dictionaries with different insertion order not equal:\n%s\n%s", a, b)
	}
	if Hash(a) != Hash(b) {
		t.Fatal("equal dictionaries hash differently")
	}

	b.SetInt64("n", 501)
	if Equal(a, b) {
		t.Fatal("dictionaries with different values compare equal")
	}

	x := NewArray(NewInt64(1), NewInt64(2))
	y := NewArray(NewInt64(2), NewInt64(1))
	defer Release(x)
	defer Release(y)
	for _, arr := range []*Array{x, y} {
		Release(arr.Get(0))
		Release(arr.Get(1))
	}
	if Equal(x, y) {
		t.Fatal("arrays compare equal regardless of order")
	}

	i, u := NewInt64(1), NewUint64(1)
	defer Release(i)
	defer Release(u)
	if Equal(i, u) {
		t.Fatal("int64 and uint64 compare equal")
	}
}

func TestTeardownReleasesChildren(t *testing.T) {
	before := Live()

	root := NewDictionary()
	inner := NewArray()
	for i := 0; i < 10; i++ {
		v := NewInt64(int64(i))
		inner.Append(v)
		Release(v)
	}
	root.Set("inner", inner)
	Release(inner)
	root.SetString("name", "x")
	root.SetBool("flag", true)

	if Live() == before {
		t.Fatal("live count did not grow")
	}
	Release(root)
	if Live() != before {
		t.Fatalf("leak after teardown: before=%d after=%d", before, Live())
	}
}

func TestRemoteConnectionIsWeak(t *testing.T) {
	d := NewDictionary()
	defer Release(d)

	func() {
		c := NewConnection("peer", nil)
		d.SetRemoteConnection(c)
		if d.RemoteConnection() != c {
			t.Fatal("remote connection not recorded")
		}
		runtime.KeepAlive(c)
	}()

	for i := 0; i < 10 && d.RemoteConnection() != nil; i++ {
		runtime.GC()
	}
	if d.RemoteConnection() != nil {
		t.Fatal("dictionary kept its connection alive")
	}
}

func TestCreateReply(t *testing.T) {
	req := NewDictionary()
	defer Release(req)
	if CreateReply(req) != nil {
		t.Fatal("reply created for a local dictionary")
	}

	conn := NewConnection("peer", nil)
	req.SetReplyID(42)
	req.SetRemoteConnection(conn)

	reply := CreateReply(req)
	defer Release(reply)
	if id, ok := reply.ReplyID(); !ok || id != 42 {
		t.Fatalf("reply id: got %d %v, want 42", id, ok)
	}
	if reply.RemoteConnection() != conn {
		t.Fatal("reply lost remote connection")
	}
	runtime.KeepAlive(conn)
}

func TestDataReplace(t *testing.T) {
	d := NewData([]byte("abc"))
	defer Release(d)
	src := []byte("xyz")
	d2 := NewData(src)
	defer Release(d2)
	src[0] = 'q'
	if string(d2.Bytes()) != "xyz" {
		t.Fatal("NewData did not copy its input")
	}

	d.Replace([]byte("longer content"))
	if string(d.Bytes()) != "longer content" || d.Len() != 14 {
		t.Fatalf("replace: got %q", d.Bytes())
	}
}

func TestFileHandleOwnership(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	h, err := NewFileHandle(int(w.Fd()), DispositionCopy)
	if err != nil {
		t.Fatal(err)
	}
	if h.FD() == int(w.Fd()) {
		t.Fatal("copy disposition did not duplicate the descriptor")
	}

	if _, err := unix.Write(h.FD(), []byte("x")); err != nil {
		t.Fatalf("write through duplicate: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil || buf[0] != 'x' {
		t.Fatalf("read: %v %q", err, buf)
	}

	fd := h.FD()
	Release(h)
	if h.FD() != -1 {
		t.Fatal("teardown left descriptor in place")
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err == nil {
		t.Fatal("descriptor still open after teardown")
	}
	if _, err := w.Write([]byte("y")); err != nil {
		t.Fatalf("original descriptor closed by copy handle: %v", err)
	}
}

func TestNativeRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "Foo Bar",
		"size":  int64(500),
		"flags": true,
		"tags":  []any{"red", "green", "blue"},
		"ratio": 1.5,
		"none":  nil,
	}
	o, err := FromNative(in)
	if err != nil {
		t.Fatal(err)
	}
	defer Release(o)

	d := o.(*Dictionary)
	if d.GetInt64("size") != 500 || d.GetArray("tags").Count() != 3 || d.Get("none") != Null {
		t.Fatalf("unexpected graph:\n%s", Describe(d))
	}

	out := ToNative(o).(map[string]any)
	if out["name"] != "Foo Bar" || out["size"] != int64(500) || out["flags"] != true {
		t.Fatalf("unexpected native value: %v", out)
	}

	before := Live()
	if _, err := FromNative(map[string]any{"ok": 1, "bad": make(chan int)}); !errors.Is(err, ErrUnsupportedNative) {
		t.Fatalf("expected ErrUnsupportedNative, got %v", err)
	}
	if Live() != before {
		t.Fatal("failed conversion leaked values")
	}
}
