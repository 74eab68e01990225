// xpccall sends a dictionary to a service and prints the reply.
//
// The request is a YAML or JSON mapping read from FILE, or stdin when FILE
// is "-" or missing:
//
//	echo '{"message-type": "echo", "echo": [1, 2]}' | xpccall --socket /tmp/echo.sock
//
// The destination is either a socket path or a service name resolved
// through etcd. Files named with --fd travel as file handles.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mini-xpc/cmd/internal/render"
	"mini-xpc/loadbalance"
	"mini-xpc/object"
	"mini-xpc/pipe"
	"mini-xpc/registry"
)

type options struct {
	socket    string
	service   string
	endpoints []string
	balancer  string
	name      string
	fds       []string
	format    string
	timeout   time.Duration
	noReply   bool
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if code, ok := err.(pipe.Code); ok {
			fmt.Fprintf(os.Stderr, "error: %v\n", code)
			os.Exit(int(code.Errno()))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("xpccall", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.socket, "socket", "s", "", "socket path of the service")
	flagSet.StringVar(&opts.service, "service", "", "service name to resolve through the registry")
	flagSet.StringSliceVar(&opts.endpoints, "etcd", []string{"127.0.0.1:2379"}, "etcd endpoints for --service")
	flagSet.StringVar(&opts.balancer, "balancer", "RoundRobin", "instance choice for --service: RoundRobin, WeightedRandom, ConsistentHash")
	flagSet.StringVar(&opts.name, "name", "xpccall", "name to check in with")
	flagSet.StringArrayVar(&opts.fds, "fd", nil, "attach KEY=PATH as a file handle (repeatable)")
	flagSet.StringVarP(&opts.format, "format", "f", "text", "output format: "+strings.Join(render.Formats, ", "))
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "give up after this long")
	flagSet.BoolVar(&opts.noReply, "no-reply", false, "send one-way and exit")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if (opts.socket == "") == (opts.service == "") {
		return fmt.Errorf("exactly one of --socket and --service is required")
	}

	var data []byte
	var err error
	if path := flagSet.Arg(0); path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	req, err := buildRequest(data, opts.fds)
	if err != nil {
		return err
	}
	defer object.Release(req)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	p, err := connect(ctx, &opts)
	if err != nil {
		return err
	}
	defer p.Close()

	if opts.noReply {
		return p.SendNoReply(ctx, req)
	}
	reply, err := p.Call(ctx, req)
	if err != nil {
		return err
	}
	defer object.Release(reply)
	return render.Write(stdout, reply, opts.format)
}

func connect(ctx context.Context, opts *options) (*pipe.Pipe, error) {
	if opts.socket != "" {
		return pipe.Dial(ctx, opts.socket, pipe.WithName(opts.name))
	}
	reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
		Endpoints:   opts.endpoints,
		DialTimeout: opts.timeout,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	return pipe.DialService(ctx, reg, loadbalance.New(opts.balancer), opts.service, pipe.WithName(opts.name))
}

// buildRequest parses data and attaches each KEY=PATH in fds as a file
// handle. The caller owns the result.
func buildRequest(data []byte, fds []string) (*object.Dictionary, error) {
	req, err := render.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	for _, spec := range fds {
		key, path, ok := strings.Cut(spec, "=")
		if !ok || key == "" {
			object.Release(req)
			return nil, fmt.Errorf("--fd %q: want KEY=PATH", spec)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			object.Release(req)
			return nil, err
		}
		err = req.SetFileHandle(key, int(f.Fd()))
		f.Close()
		if err != nil {
			object.Release(req)
			return nil, err
		}
	}
	return req, nil
}
