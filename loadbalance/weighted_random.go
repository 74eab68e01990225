package loadbalance

import (
	"math/rand/v2"

	"mini-xpc/registry"
)

// WeightedRandomBalancer picks instances with probability proportional to
// Weight. Instances with no positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.Instance, _ string) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, v := range instances {
		total += weight(v)
	}

	// Draw in [0, total) and walk the cumulative weights
	r := rand.IntN(total)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weight(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
