package config

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	clientv3 "go.etcd.io/etcd/client/v3"

	"nats-rpc/loadbalance"
	"nats-rpc/registry"
)

// Getter is the subset of the etcd KV API the etcd provider needs.
// *clientv3.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// Etcd reads a JSON Settings document stored under key on every Load.
func Etcd(kv Getter, key string) Provider {
	return ProviderFunc(func(ctx context.Context) (Settings, error) {
		resp, err := kv.Get(ctx, key)
		if err != nil {
			return Settings{}, fmt.Errorf("config: etcd get %s: %w", key, err)
		}
		if len(resp.Kvs) == 0 {
			return Settings{}, fmt.Errorf("config: etcd key %s not found", key)
		}

		var s Settings
		if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
			return Settings{}, fmt.Errorf("config: etcd key %s: %w", key, err)
		}
		return s, nil
	})
}

// Discovery loads settings from base and replaces the server list with the
// instances of service found in reg, ordered by bal. The affinity key comes
// from loadbalance.KeyFrom(ctx). When nothing is registered, the server list
// from base is kept.
func Discovery(base Provider, reg registry.Registry, bal loadbalance.Balancer, service string) Provider {
	return ProviderFunc(func(ctx context.Context) (Settings, error) {
		s, err := base.Load(ctx)
		if err != nil {
			return Settings{}, err
		}

		instances, err := reg.Discover(ctx, service)
		if err != nil {
			return Settings{}, fmt.Errorf("config: discover %s: %w", service, err)
		}
		return withInstances(ctx, s, bal, instances)
	})
}

func withInstances(ctx context.Context, s Settings, bal loadbalance.Balancer, instances []registry.ServiceInstance) (Settings, error) {
	if len(instances) == 0 {
		return s, nil
	}

	addrs, err := loadbalance.Order(bal, loadbalance.KeyFrom(ctx), instances)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %s balancer: %w", bal.Name(), err)
	}
	s.Server = ""
	s.Servers = addrs
	// keep the balancer's order instead of letting the client shuffle it
	s.Options.NoRandomize = true
	return s, nil
}

// WatchedDiscovery is Discovery fed by the registry's watch stream instead of
// one lookup per call. Until the first update arrives it behaves exactly like
// Discovery.
type WatchedDiscovery struct {
	fallback Provider
	base     Provider
	bal      loadbalance.Balancer

	mu        sync.RWMutex
	instances []registry.ServiceInstance
	watching  bool
	done      chan struct{}
}

// WatchDiscovery starts following service in reg until ctx is done.
func WatchDiscovery(ctx context.Context, base Provider, reg registry.Registry, bal loadbalance.Balancer, service string) *WatchedDiscovery {
	w := &WatchedDiscovery{
		fallback: Discovery(base, reg, bal, service),
		base:     base,
		bal:      bal,
		done:     make(chan struct{}),
	}

	updates := reg.Watch(ctx, service)
	if updates == nil {
		close(w.done)
		return w
	}
	go func() {
		defer close(w.done)
		for instances := range updates {
			w.mu.Lock()
			w.instances = append([]registry.ServiceInstance(nil), instances...)
			w.watching = true
			w.mu.Unlock()
		}
	}()
	return w
}

// Done is closed once the watch stream ends.
func (w *WatchedDiscovery) Done() <-chan struct{} {
	return w.done
}

func (w *WatchedDiscovery) Load(ctx context.Context) (Settings, error) {
	w.mu.RLock()
	instances, watching := w.instances, w.watching
	w.mu.RUnlock()
	if !watching {
		return w.fallback.Load(ctx)
	}

	s, err := w.base.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return withInstances(ctx, s, w.bal, instances)
}
