package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix roots every key the registry writes:
//
//	/predict-rpc/{service}/{addr} -> JSON Instance
const KeyPrefix = "/predict-rpc/"

// EtcdRegistry keeps registrations in etcd, each bound to a lease that is
// renewed with KeepAlive until Deregister or Close.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger
	leases *xsync.MapOf[string, lease] // key -> active lease
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc // stops KeepAlive
}

// NewEtcdRegistry connects to the given endpoints. The client connects
// lazily; the first operation fails if etcd is unreachable.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("registry")
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd %v: %w", endpoints, err)
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: xsync.NewMapOf[string, lease](),
	}, nil
}

func key(service, addr string) string {
	return KeyPrefix + service + "/" + addr
}

// Register grants a lease of ttl, writes the instance under it and keeps the
// lease alive in the background. Registering the same address again
// replaces the previous registration.
func (r *EtcdRegistry) Register(ctx context.Context, service string, inst Instance, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = DefaultTTL
	}

	grant, err := r.client.Grant(ctx, int64(ttl/time.Second))
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	k := key(service, inst.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", k, err)
	}

	// The keepalive outlives ctx; it stops on Deregister or Close.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	if old, loaded := r.leases.LoadAndStore(k, lease{id: grant.ID, cancel: cancel}); loaded {
		old.cancel()
	}

	go func() {
		for range ch {
		}
		r.logger.Debug("keepalive stopped", zap.String("key", k))
	}()

	r.logger.Info("registered", zap.String("key", k), zap.Duration("ttl", ttl))
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	k := key(service, addr)
	if l, ok := r.leases.LoadAndDelete(k); ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", k), zap.Error(err))
		}
	}
	if _, err := r.client.Delete(ctx, k); err != nil {
		return fmt.Errorf("registry: delete %s: %w", k, err)
	}
	r.logger.Info("deregistered", zap.String("key", k))
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	prefix := KeyPrefix + service + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", prefix, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("skipping malformed entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close stops every keepalive and closes the etcd client. Leases still
// held expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.leases.Range(func(k string, l lease) bool {
		l.cancel()
		r.leases.Delete(k)
		return true
	})
	return r.client.Close()
}
