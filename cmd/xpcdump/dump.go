package main

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"mini-xpc/cmd/internal/render"
	"mini-xpc/codec"
	"mini-xpc/object"
	"mini-xpc/protocol"
)

// dump decodes data laid out as input and renders it to w.
func dump(w io.Writer, data []byte, input, format string, maxDepth int) error {
	opts := protocol.Options{Codec: codec.Options{MaxDepth: maxDepth}}

	var root object.Object
	switch input {
	case "envelope":
		dict, err := opts.Unmarshal(data, nil)
		if err != nil {
			return err
		}
		root = dict
	case "frame":
		h, body, err := opts.Decode(bytes.NewReader(data))
		if err != nil {
			return err
		}
		descs, err := standIns(h.Dispositions)
		if err != nil {
			return err
		}
		dict, err := opts.Unmarshal(body, descs)
		if err != nil {
			return err
		}
		root = dict
		if format == "text" {
			fmt.Fprintf(w, "%s seq=%d flags=%#x handles=%d\n", h.MsgID, h.Seq, uint32(h.Flags), len(h.Dispositions))
		}
	case "raw":
		o, n, err := opts.Codec.ReadObject(data, nil)
		if err != nil {
			return err
		}
		if n != len(data) {
			object.Release(o)
			return fmt.Errorf("%d bytes after the value", len(data)-n)
		}
		root = o
	default:
		return fmt.Errorf("unknown input %q (want envelope, frame or raw)", input)
	}
	defer object.Release(root)
	return render.Write(w, root, format)
}

// standIns opens /dev/null once per disposition.
func standIns(dispositions []object.Disposition) ([]object.Descriptor, error) {
	descs := make([]object.Descriptor, 0, len(dispositions))
	for _, d := range dispositions {
		fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			for _, open := range descs {
				open.Close()
			}
			return nil, err
		}
		descs = append(descs, object.Descriptor{FD: fd, Disposition: d})
	}
	return descs, nil
}
