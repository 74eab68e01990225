// Package loadbalance picks which socket serves a call when a service name
// resolves to several instances.
//
// Three strategies are implemented:
//   - RoundRobin:      Equal-capacity instances
//   - WeightedRandom:  Instances with different capacity, by Weight
//   - ConsistentHash:  Keyed affinity, so one client keeps reaching one server
package loadbalance

import (
	"errors"

	"mini-xpc/registry"
)

// ErrNoInstances is returned by Pick for an empty list.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. key identifies
	// the caller for strategies with affinity; others ignore it.
	// Must be goroutine-safe.
	Pick(instances []registry.Instance, key string) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer called name, or RoundRobin for an unknown name.
func New(name string) Balancer {
	switch name {
	case "WeightedRandom", "weighted-random":
		return &WeightedRandomBalancer{}
	case "ConsistentHash", "consistent-hash":
		return NewConsistentHashBalancer()
	}
	return &RoundRobinBalancer{}
}
