package registry

import (
	"context"
	"encoding/json"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultEtcdPrefix is the key prefix used when none is configured.
const DefaultEtcdPrefix = "/node-rpc/workers/"

// EtcdRegistry implements Registry on etcd v3. It keeps worker membership outside the
// coordinator process so other tools can see which workers are attached:
//
//	Key:   {prefix}{host:port}
//	Value: JSON-encoded ServiceInstance
//
// Every registration carries its own TTL lease kept alive in the background. If the
// coordinator dies the leases expire and the entries disappear with it.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	lease  clientv3.Lease   // client's lease API, used for revocation
	prefix string
	ttl    int64
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // addr → lease, so Deregister can revoke it
}

// NewEtcdRegistry connects to endpoints. ttl is the lease length in seconds.
func NewEtcdRegistry(endpoints []string, prefix string, ttl int64, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegistry{
		client: c,
		lease:  c.Lease,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register puts instance under a fresh lease and keeps the lease alive until Deregister
// or Close. Re-registering an address replaces the entry and its lease.
func (r *EtcdRegistry) Register(ctx context.Context, instance ServiceInstance) error {
	addr := instance.Addr()

	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, r.prefix+addr, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive the request context that registered the instance.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()

	r.swapLease(ctx, addr, lease.ID)
	return nil
}

// swapLease records id as addr's lease and revokes the one it replaces. The new entry is
// already written, so a failed revoke only leaves the old lease to expire on its own.
func (r *EtcdRegistry) swapLease(ctx context.Context, addr string, id clientv3.LeaseID) {
	r.mu.Lock()
	old, ok := r.leases[addr]
	r.leases[addr] = id
	r.mu.Unlock()
	if !ok || old == id {
		return
	}
	if _, err := r.lease.Revoke(ctx, old); err != nil {
		r.logger.Warn("Failed to revoke replaced lease",
			zap.String("addr", addr),
			zap.Int64("lease", int64(old)),
			zap.Error(err))
	}
}

// Deregister deletes the entry and revokes its lease, which also stops its KeepAlive.
func (r *EtcdRegistry) Deregister(ctx context.Context, addr string) error {
	r.mu.Lock()
	lease, ok := r.leases[addr]
	delete(r.leases, addr)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, r.prefix+addr); err != nil {
		return err
	}
	if ok {
		if _, err := r.lease.Revoke(ctx, lease); err != nil {
			return err
		}
	}
	return nil
}

// Discover lists every instance under the prefix, oldest registration first.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close releases the etcd client. Outstanding leases expire on their own.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
