// Package loadbalance provides strategies for spreading calls across the
// gateway instances a registry reports.
//
//   - RoundRobin:     stateless services, equal-capacity instances
//   - WeightedRandom: heterogeneous instances (different CPU/memory)
package loadbalance

import "sqlgate/registry"

// Balancer selects one instance per call. Pick is called on every call and
// must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
