package registry

import (
	"context"
	"sync"
)

// MemoryRegistry keeps instances in process memory. It is the coordinator's default.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

func (r *MemoryRegistry) Register(_ context.Context, instance ServiceInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := instance.Addr()
	for i, inst := range r.instances {
		if inst.Addr() == addr {
			r.instances[i] = instance
			return nil
		}
	}
	r.instances = append(r.instances, instance)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, inst := range r.instances {
		if inst.Addr() == addr {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServiceInstance, len(r.instances))
	copy(out, r.instances)
	return out, nil
}
