// xpcdump decodes a mini-xpc message and prints it.
//
// The input is a file (or stdin with "-") holding one of:
//
//	envelope  magic, version and a dictionary (default)
//	frame     a frame header followed by its envelope, as on a socket
//	raw       a single encoded value with no envelope
//
// Descriptors do not survive a capture, so handle values in a frame are
// shown attached to /dev/null.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"mini-xpc/cmd/internal/render"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var input, format string
	var maxDepth int
	flagSet := pflag.NewFlagSet("xpcdump", pflag.ContinueOnError)
	flagSet.StringVarP(&input, "input", "i", "envelope", "input layout: envelope, frame or raw")
	flagSet.StringVarP(&format, "format", "f", "text", "output format: "+strings.Join(render.Formats, ", "))
	flagSet.IntVar(&maxDepth, "max-depth", 0, "deepest container nesting to accept (default 64)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: xpcdump [flags] FILE")
	}

	var data []byte
	var err error
	if path := flagSet.Arg(0); path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	return dump(stdout, data, input, format, maxDepth)
}
