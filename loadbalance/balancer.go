// Package loadbalance decides which NATS server a call dials first.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  heterogeneous servers (different CPU/memory)
//   - ConsistentHash:  same namespace always lands on the same server
//
// NATS accepts a list of servers and fails over along it, so Order puts the
// picked instance first and keeps the rest as fallbacks.
package loadbalance

import (
	"context"

	"nats-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. key is the
	// affinity key of the call (its namespace); strategies may ignore it.
	// Called on every call, must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Order returns the addresses of instances with the picked one first.
func Order(b Balancer, key string, instances []registry.ServiceInstance) ([]string, error) {
	picked, err := b.Pick(key, instances)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(instances))
	addrs = append(addrs, picked.Addr)
	for _, inst := range instances {
		if inst.Addr != picked.Addr {
			addrs = append(addrs, inst.Addr)
		}
	}
	return addrs, nil
}

type keyCtx struct{}

// WithKey attaches the affinity key of a call to ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFrom returns the affinity key attached by WithKey, or "".
func KeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(keyCtx{}).(string)
	return key
}
