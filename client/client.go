// Package client calls named services: it resolves the name through a
// registry, picks an instance with a balancer, and runs the call on a
// pooled pipe to that instance's socket.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-xpc/loadbalance"
	"mini-xpc/object"
	"mini-xpc/pipe"
	"mini-xpc/registry"
)

type Client struct {
	registry registry.Registry // find service instance from registry
	balancer loadbalance.Balancer
	pools    map[string]*pipe.Pool // pipes for each socket path
	mu       sync.Mutex
	poolSize int
	pipeOpts []pipe.Option
	retries  int
	backoff  time.Duration
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPipeOptions configures every pipe the client dials.
func WithPipeOptions(opts ...pipe.Option) Option {
	return func(c *Client) { c.pipeOpts = append(c.pipeOpts, opts...) }
}

// WithRetry retries a call up to max more times when the chosen instance
// is gone, waiting base, 2*base, 4*base... between attempts. A retried
// request may already have been handled.
func WithRetry(max int, base time.Duration) Option {
	return func(c *Client) {
		c.retries = max
		c.backoff = base
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient keeps up to poolSize pipes open per instance.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, poolSize int, opts ...Option) *Client {
	c := &Client{
		registry: reg,
		balancer: bal,
		pools:    make(map[string]*pipe.Pool),
		poolSize: poolSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) pool(path string) *pipe.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[path]
	if !ok {
		p = pipe.NewPool(path, c.poolSize, c.pipeOpts...)
		c.pools[path] = p
	}
	return p
}

// drop closes the pool for an instance that stopped answering.
func (c *Client) drop(path string) {
	c.mu.Lock()
	p, ok := c.pools[path]
	delete(c.pools, path)
	c.mu.Unlock()
	if ok {
		p.Close()
	}
}

// Call sends req to an instance of service and returns its reply. Errors
// are pipe.Code values.
func (c *Client) Call(ctx context.Context, service string, req *object.Dictionary) (*object.Dictionary, error) {
	var err error
	for attempt := 0; ; attempt++ {
		var reply *object.Dictionary
		var path string
		reply, path, err = c.call(ctx, service, req)
		if err == nil {
			return reply, nil
		}
		if (err != pipe.CodeBrokenPipe && err != pipe.CodeNoSuchProcess) || attempt >= c.retries {
			return nil, err
		}
		if path != "" {
			c.drop(path)
		}

		// Log the retry attempt
		c.logger.Info("retrying call", zap.String("service", service), zap.String("path", path),
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(c.backoff * time.Duration(1<<attempt)): // Exponential backoff
		case <-ctx.Done():
			return nil, err
		}
	}
}

func (c *Client) call(ctx context.Context, service string, req *object.Dictionary) (*object.Dictionary, string, error) {
	// Get service instances from registry
	instances, err := registry.Lookup(ctx, c.registry, service)
	if err != nil {
		c.logger.Debug("lookup failed", zap.String("service", service), zap.Error(err))
		return nil, "", pipe.CodeNoSuchProcess
	}

	// Select an instance using load balancer
	instance, err := c.balancer.Pick(instances, service)
	if err != nil {
		return nil, "", pipe.CodeNoSuchProcess
	}

	reply, err := c.pool(instance.Path).Call(ctx, req)
	return reply, instance.Path, err
}

// Close closes every pooled pipe.
func (c *Client) Close() error {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*pipe.Pool)
	c.mu.Unlock()

	var err error
	for _, p := range pools {
		err = multierr.Append(err, p.Close())
	}
	return err
}
