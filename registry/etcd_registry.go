// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd is used as a phonebook for local services shared by several hosts'
// tooling, or by containers that mount the same socket directory:
//
//	Key:   /mini-xpc/{ServiceName}/{SocketPath}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed, so no stale socket paths remain.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EtcdConfig configures an EtcdRegistry.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string      // key prefix, default "/mini-xpc/"
	Logger      *zap.Logger // also handed to the etcd client
}

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]registration // key → lease kept alive by this process
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // stops KeepAlive
}

// NewEtcdRegistry creates a new registry connected to the configured endpoints.
func NewEtcdRegistry(cfg EtcdConfig) (*EtcdRegistry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/mini-xpc/"
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		prefix: prefix,
		logger: logger,
		leases: make(map[string]registration),
	}, nil
}

func (r *EtcdRegistry) key(name, path string) string {
	return r.prefix + name + "/" + path
}

// Register adds an instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease until Deregister
func (r *EtcdRegistry) Register(ctx context.Context, name string, instance Instance, ttl int64) error {
	// Create a TTL-based lease; if KeepAlive stops, the entry auto-expires
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.key(name, instance.Path)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	// KeepAlive outlives the caller's ctx; Deregister or Close stops it
	keepCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()

	r.logger.Info("registered", zap.String("service", name), zap.String("path", instance.Path), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes an instance from etcd and stops renewing its lease.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string, path string) error {
	key := r.key(name, path)
	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		reg.cancel()
	}

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	return nil
}

// Watch monitors a service prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	prefix := r.prefix + name + "/"

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(ctx, name)
			if err != nil {
				r.logger.Warn("watch refresh failed", zap.String("service", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, r.prefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", name, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close revokes every lease this registry holds and closes the client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]registration)
	r.mu.Unlock()

	var err error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, reg := range leases {
		reg.cancel()
		if _, rerr := r.client.Revoke(ctx, reg.lease); rerr != nil {
			err = multierr.Append(err, rerr)
		}
	}
	return multierr.Append(err, r.client.Close())
}
