// xpc-echo is a test service. It answers three message types, named under
// the "message-type" key:
//
//	poke   one-way, logged and never answered
//	hello  answered with a greeting under "hello"
//	echo   answered with the value sent under "echo", or null
//
// Configuration comes from --config or MINI_XPC_CONFIG; without either the
// defaults are used. With registry endpoints configured the socket is
// announced under server.service_name.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mini-xpc/config"
	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/registry"
	"mini-xpc/server"
)

const messageTypeKey = "message-type"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, socketPath string
	flagSet := pflag.NewFlagSet("xpc-echo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $MINI_XPC_CONFIG)")
	flagSet.StringVar(&socketPath, "socket", "", "listen on this path instead of server.socket_path")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Server.SocketPath = socketPath
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []server.Option{server.WithLogger(logger), server.WithLimits(cfg.Codec.Limits())}
	if etcdCfg, ok := cfg.Registry.Etcd(logger); ok {
		reg, err := registry.NewEtcdRegistry(etcdCfg)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.Server.ServiceName, cfg.Registry.LeaseTTL))
	}

	svr := server.NewServer(newMux(logger).ServeMessage, opts...)
	requestTimeout, shutdownTimeout := cfg.Server.Timeouts()
	svr.Use(middleware.Logging(logger))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if requestTimeout > 0 {
		svr.Use(middleware.Timeout(requestTimeout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	served := make(chan error, 1)
	go func() { served <- svr.ListenAndServe(cfg.Server.SocketPath) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	if err := svr.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return <-served
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("MINI_XPC_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newMux(logger *zap.Logger) *server.Mux {
	mux := server.NewMux(messageTypeKey)

	mux.Handle("poke", func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
		logger.Info("received poke", zap.String("peer", peer(req)))
		return nil
	})

	mux.Handle("hello", func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
		logger.Info("received hello", zap.String("peer", peer(req)), zap.String("hello", req.GetString("hello")))
		reply := object.CreateReply(req)
		if reply != nil {
			reply.SetString(messageTypeKey, "hello")
			reply.SetString("hello", "Hello from the server (as a reply)!")
		}
		return reply
	})

	mux.Handle("echo", func(ctx context.Context, req *object.Dictionary) *object.Dictionary {
		item := req.Get("echo")
		if item == nil {
			item = object.Null
		}
		logger.Info("received echo", zap.String("peer", peer(req)), zap.Stringer("item", describer{item}))
		reply := object.CreateReply(req)
		if reply != nil {
			reply.SetString(messageTypeKey, "echo")
			reply.Set("echo", item)
		}
		return reply
	})
	return mux
}

func peer(req *object.Dictionary) string {
	if conn := req.RemoteConnection(); conn != nil {
		return conn.Name()
	}
	return ""
}

type describer struct{ o object.Object }

func (d describer) String() string { return object.Describe(d.o) }
