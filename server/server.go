// Package server accepts pipes on a Unix socket and serves the messages
// that arrive on them.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine receives frames per pipe)
//	  → checkin: record the peer's name
//	  → message: go handleRequest (parallel processing)
//	    → Middleware Chain → handler → pipe.Reply on the pipe it came from
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/pipe"
	"mini-xpc/protocol"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// ErrShutdownTimeout is returned by Shutdown when requests are still
// running after the timeout.
var ErrShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")

// Server serves one handler to every pipe connected to its socket.
type Server struct {
	handler     middleware.HandlerFunc  // Final handler, wrapped by the middlewares
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	chain       middleware.HandlerFunc  // middleware(middleware(...(handler)))
	logger      *zap.Logger
	limits      protocol.Options

	ctx    context.Context // Handed to handlers, cancelled after Shutdown
	cancel context.CancelFunc

	mu       sync.Mutex
	listener *net.UnixListener
	peers    map[*pipe.Pipe]string // Connected pipes → checked-in name

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors

	registry registry.Registry // nil if not announcing
	service  string
	ttl      int64
	version  string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithLimits bounds the messages accepted from and sent to peers.
func WithLimits(o protocol.Options) Option {
	return func(s *Server) { s.limits = o }
}

// WithRegistry announces the socket under service while serving. The
// entry expires ttl seconds after the server stops renewing it.
func WithRegistry(reg registry.Registry, service string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.ttl = ttl
	}
}

// WithVersion sets the version announced in the registry.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server that passes every received message to handler.
func NewServer(handler middleware.HandlerFunc, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		logger:  zap.NewNop(),
		peers:   make(map[*pipe.Pipe]string),
		ttl:     10,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware. Middlewares are applied in the order they
// are added and must be registered before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe listens on the socket at path and serves it. A stale
// socket left at path is removed first.
func (s *Server) ListenAndServe(path string) error {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("server: remove stale socket: %w", err)
		}
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts pipes on ln until Shutdown. It returns nil after Shutdown.
func (s *Server) Serve(ln *net.UnixListener) error {
	// Build the middleware chain once at startup (not per-request)
	s.chain = middleware.Chain(s.middlewares...)(s.handler)

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	path := ln.Addr().String()
	s.logger.Info("serving", zap.String("path", path))

	if s.registry != nil {
		inst := registry.Instance{Path: path, Weight: 1, Version: s.version, PID: os.Getpid()}
		if err := s.registry.Register(s.ctx, s.service, inst, s.ttl); err != nil {
			ln.Close()
			return fmt.Errorf("server: announce %s: %w", s.service, err)
		}
	}

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Addr returns the socket path being served, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConn receives from one pipe until it fails. Frames are read by
// this goroutine alone; each request is handled on its own goroutine.
func (s *Server) handleConn(conn *net.UnixConn) {
	p := pipe.New(transport.NewUnixConn(conn, s.limits),
		pipe.WithLogger(s.logger), pipe.WithLimits(s.limits))
	if !s.track(p) {
		p.Invalidate()
		return
	}
	defer s.untrack(p)

	for {
		msg, id, err := p.Receive(s.ctx)
		if err != nil {
			if err == pipe.CodeBrokenPipe || s.shutdown.Load() {
				s.logger.Debug("peer disconnected", zap.String("peer", s.peerName(p)))
			} else {
				s.logger.Warn("dropping peer", zap.String("peer", s.peerName(p)), zap.Error(err))
			}
			return
		}

		switch id {
		case protocol.MsgCheckin:
			s.checkin(p, msg)
			object.Release(msg)
		case protocol.MsgAsyncReply:
			s.logger.Warn("unsolicited reply", zap.String("peer", s.peerName(p)))
			object.Release(msg)
		default:
			if !s.admit() {
				s.logger.Debug("dropping request during shutdown", zap.String("peer", s.peerName(p)))
				object.Release(msg)
				continue
			}
			go s.handleRequest(msg)
		}
	}
}

// admit counts a request in unless Shutdown has begun. The flag is set
// under mu, so no Add can race Shutdown's Wait.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// handleRequest runs msg through the chain and routes the reply back to
// the pipe msg arrived on.
func (s *Server) handleRequest(msg *object.Dictionary) {
	defer s.wg.Done()
	defer object.Release(msg)

	reply := s.chain(s.ctx, msg)
	if reply == nil {
		return
	}
	defer object.Release(reply)
	if _, ok := reply.ReplyID(); !ok {
		s.logger.Warn("handler reply is not addressed to a request")
		return
	}
	if err := pipe.Reply(s.ctx, reply); err != nil {
		name := ""
		if conn := reply.RemoteConnection(); conn != nil {
			name = conn.Name()
		}
		s.logger.Warn("reply failed", zap.String("peer", name), zap.Error(err))
	}
}

func (s *Server) checkin(p *pipe.Pipe, msg *object.Dictionary) {
	name := msg.GetString("name")
	s.mu.Lock()
	if _, ok := s.peers[p]; ok {
		s.peers[p] = name
	}
	s.mu.Unlock()
	s.logger.Info("peer checked in", zap.String("peer", name), zap.Int64("pid", msg.GetInt64("pid")))
}

func (s *Server) track(p *pipe.Pipe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.peers[p] = p.Name()
	return true
}

func (s *Server) untrack(p *pipe.Pipe) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	p.Invalidate()
}

func (s *Server) peerName(p *pipe.Pipe) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[p]
}

// Peers returns the names of the connected pipes, sorted. Pipes that have
// not checked in are listed under their socket name.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.peers))
	for _, name := range s.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Broadcast sends msg as a notification to every connected pipe.
func (s *Server) Broadcast(ctx context.Context, msg *object.Dictionary) error {
	s.mu.Lock()
	targets := make(map[*pipe.Pipe]string, len(s.peers))
	for p, name := range s.peers {
		targets[p] = name
	}
	s.mu.Unlock()

	var err error
	for p, name := range targets {
		if e := p.Notify(ctx, msg); e != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", name, e))
		}
	}
	return err
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop resolving to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new pipes)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Cancel handler contexts and close every pipe
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error

	// Step 1: Deregister FIRST so clients stop dialing this socket
	if s.registry != nil {
		if path := s.Addr(); path != "" {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err = multierr.Append(err, s.registry.Deregister(ctx, s.service, path))
			cancel()
		}
	}

	// Step 2: Set shutdown flag BEFORE closing listener
	s.mu.Lock()
	s.shutdown.Store(true)
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	// Step 3: Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, ErrShutdownTimeout)
	}

	// Step 4: Release everything still connected
	s.cancel()
	s.mu.Lock()
	for p := range s.peers {
		p.Invalidate()
	}
	s.mu.Unlock()
	s.logger.Info("shut down", zap.Error(err))
	return err
}
