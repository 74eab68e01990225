package loadbalance

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"mini-xpc/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes).
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring,
// which spreads keys evenly when there are only a few instances.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int // Virtual nodes per real instance

	mu    sync.Mutex
	sig   string            // instance paths the ring was built from
	ring  []uint64          // Sorted hash values on the ring
	nodes map[uint64]string // Hash value → instance path
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick hashes key and returns the first instance clockwise from it. The
// ring is rebuilt only when the set of instances changes.
func (b *ConsistentHashBalancer) Pick(instances []registry.Instance, key string) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuild(instances)
	hash := hashKey(key)
	// Binary search: first node with hash >= key's hash, wrapping around
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	path := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Path == path {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("loadbalance: ring lost instance %s", path)
}

// rebuild places every instance on the ring with N virtual nodes hashed
// from "{path}#{i}". b.mu must be held.
func (b *ConsistentHashBalancer) rebuild(instances []registry.Instance) {
	paths := make([]string, len(instances))
	for i, inst := range instances {
		paths[i] = inst.Path
	}
	slices.Sort(paths)
	sig := strings.Join(paths, "\x00")
	if sig == b.sig && b.ring != nil {
		return
	}

	b.sig = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint64]string, len(paths)*b.replicas)
	for _, path := range paths {
		for i := 0; i < b.replicas; i++ {
			hash := hashKey(fmt.Sprintf("%s#%d", path, i))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = path
		}
	}
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func hashKey(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return binary.LittleEndian.Uint64(sum[:8])
}
