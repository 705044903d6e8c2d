package registry

import "context"

// ServiceInstance is one NATS server advertised for discovery.
type ServiceInstance struct {
	Addr    string // e.g. "nats://10.0.0.5:4222"
	Weight  int    // Weight for load balancing
	Version string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
