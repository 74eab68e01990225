package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"mini-xpc/registry"
)

var testInstances = []registry.Instance{
	{Path: "/run/echo-1.sock", Weight: 10, Version: "1.0"},
	{Path: "/run/echo-2.sock", Weight: 5, Version: "1.0"},
	{Path: "/run/echo-3.sock", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Path
	}
	if results[0] == results[1] || results[1] == results[2] {
		t.Fatalf("round robin repeated an instance: %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances, "")
	if inst.Path != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Path)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick(nil, "k"); !errors.Is(err, ErrNoInstances) {
			t.Errorf("%s: Pick(nil) = %v, want ErrNoInstances", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Path]++
	}

	// Weight ratio is 10:5:10, so echo-1 and echo-3 should be ~2x of echo-2
	ratio := float64(counts["/run/echo-1.sock"]) / float64(counts["/run/echo-2.sock"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio echo-1/echo-2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	if _, err := b.Pick([]registry.Instance{{Path: "/a"}, {Path: "/b"}}, ""); err != nil {
		t.Fatalf("Pick with zero weights failed: %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick(testInstances, "client-123")
	inst2, _ := b.Pick(testInstances, "client-123")
	if inst1.Path != inst2.Path {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Path, inst2.Path)
	}

	// Different keys should spread across instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		seen[inst.Path] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect keys to spread across instances, only hit %d", len(seen))
	}

	// Order of the list does not move keys
	reversed := []registry.Instance{testInstances[2], testInstances[1], testInstances[0]}
	inst3, _ := b.Pick(reversed, "client-123")
	if inst3.Path != inst1.Path {
		t.Errorf("reordered list moved key from %s to %s", inst1.Path, inst3.Path)
	}

	// Removing an unrelated instance keeps most keys in place
	moved := 0
	before := map[string]string{}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		inst, _ := b.Pick(testInstances, k)
		before[k] = inst.Path
	}
	remaining := testInstances[:2]
	for k, path := range before {
		inst, _ := b.Pick(remaining, k)
		if path != testInstances[2].Path && inst.Path != path {
			moved++
		}
	}
	if moved != 0 {
		t.Errorf("%d keys moved between surviving instances", moved)
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":                "RoundRobin",
		"weighted-random": "WeightedRandom",
		"ConsistentHash":  "ConsistentHash",
	} {
		if got := New(name).Name(); got != want {
			t.Errorf("New(%q) = %s, want %s", name, got, want)
		}
	}
}
