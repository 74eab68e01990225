// Package render prints object graphs for the command-line tools.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"mini-xpc/codec"
	"mini-xpc/object"
)

// Formats lists the accepted output formats.
var Formats = []string{"text", "yaml", "json", "cbor", "cbor-diag"}

// Write renders o to w in format.
func Write(w io.Writer, o object.Object, format string) error {
	switch format {
	case "text":
		_, err := io.WriteString(w, object.Describe(o))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(object.ToNative(o)); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(object.ToNative(o))
	case "cbor", "cbor-diag":
		data, err := codec.MarshalCBOR(o)
		if err != nil {
			return err
		}
		if format == "cbor" {
			_, err = w.Write(data)
			return err
		}
		diag, err := codec.DiagnoseCBOR(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, diag)
		return err
	}
	return fmt.Errorf("unknown format %q (want one of %v)", format, Formats)
}

// Parse builds a dictionary from a YAML or JSON document. The caller owns
// the result.
func Parse(data []byte) (*object.Dictionary, error) {
	var native map[string]any
	if err := yaml.Unmarshal(data, &native); err != nil {
		return nil, err
	}
	if native == nil {
		return object.NewDictionary(), nil
	}
	o, err := object.FromNative(native)
	if err != nil {
		return nil, err
	}
	return o.(*object.Dictionary), nil
}
