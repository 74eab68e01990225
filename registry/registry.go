// Package registry maps service names to the sockets that serve them.
//
// A server announces each socket it listens on under its service name; a
// client looks the name up and connects to one of the returned paths.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Lookup when no instance serves a name.
var ErrNotFound = errors.New("registry: no such service")

// Instance is one socket serving a service.
type Instance struct {
	Path    string `json:"path"`    // Unix socket path
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version"` // Server build, informational
	PID     int    `json:"pid"`     // Serving process, for diagnostics
}

type Registry interface {
	Register(ctx context.Context, name string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, name string, path string) error
	Discover(ctx context.Context, name string) ([]Instance, error)
	// Watch emits the full instance list each time it changes, until ctx
	// ends.
	Watch(ctx context.Context, name string) <-chan []Instance
}

// Lookup discovers name and fails with ErrNotFound when nothing serves it.
func Lookup(ctx context.Context, r Registry, name string) ([]Instance, error) {
	instances, err := r.Discover(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return instances, nil
}
