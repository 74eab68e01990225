package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mini-xpc/codec"
	"mini-xpc/object"
	"mini-xpc/protocol"
)

func sample(t *testing.T) *object.Dictionary {
	t.Helper()
	d := object.NewDictionary()
	d.SetString("message-type", "echo")
	d.SetInt64("count", 3)
	t.Cleanup(func() { object.Release(d) })
	return d
}

func TestDumpEnvelope(t *testing.T) {
	body, _, err := protocol.Marshal(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := dump(&out, body, "envelope", "text", 0); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if !strings.Contains(out.String(), `"message-type": (string) "echo"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestDumpFrameWithHandle(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	d := sample(t)
	if err := d.SetFileHandle("log", int(w.Fd())); err != nil {
		t.Fatal(err)
	}
	body, handles, err := protocol.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	h := &protocol.Header{MsgID: protocol.MsgSyncMessage, Flags: protocol.FlagWantsReply, Seq: 9}
	for _, hd := range handles {
		h.Dispositions = append(h.Dispositions, hd.Disposition())
	}
	frame := protocol.AppendFrame(nil, h, body)

	var out bytes.Buffer
	if err := dump(&out, frame, "frame", "text", 0); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "seq=9") || !strings.Contains(got, "handles=1") || !strings.Contains(got, `"log": (fd)`) {
		t.Errorf("output = %q", got)
	}
}

func TestDumpRaw(t *testing.T) {
	arr := object.NewArray(object.NewString("a"), object.True)
	defer object.Release(arr)
	raw, _, err := codec.Options{}.Append(nil, arr)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := dump(&out, raw, "raw", "json", 0); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if got := strings.Join(strings.Fields(out.String()), ""); got != `["a",true]` {
		t.Errorf("output = %q", got)
	}

	if err := dump(&out, append(raw, 0, 0, 0, 0), "raw", "json", 0); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestDumpRejects(t *testing.T) {
	var out bytes.Buffer
	if err := dump(&out, []byte("junk"), "envelope", "text", 0); err == nil {
		t.Error("expected error for a malformed envelope")
	}
	if err := dump(&out, nil, "pcap", "text", 0); err == nil {
		t.Error("expected error for an unknown input")
	}
}

func TestRunReadsFile(t *testing.T) {
	body, _, err := protocol.Marshal(sample(t))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "msg.bin")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run([]string{"--format", "yaml", path}, nil, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "count: 3") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := run([]string{"-f", "json", "-"}, bytes.NewReader(body), &out); err != nil {
		t.Fatalf("run on stdin failed: %v", err)
	}
	if err := run(nil, nil, &out); err == nil {
		t.Error("expected usage error without a file")
	}
}
