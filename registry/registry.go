// Package registry announces running servers and lets clients find them.
//
// An instance is registered under a service name with a TTL. While the
// server lives the registration is renewed; once it stops renewing (crash,
// network partition) the entry expires on its own.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultService is the service name servers register under.
const DefaultService = "predict"

// DefaultTTL is the registration lease used when none is configured.
const DefaultTTL = 10 * time.Second

// ErrNoInstances is returned by Discover callers that need at least one
// instance; Discover itself returns an empty slice.
var ErrNoInstances = errors.New("registry: no instances registered")

// Instance describes one reachable server.
type Instance struct {
	Addr      string `json:"addr"`
	Transport string `json:"transport"`
	Model     string `json:"model,omitempty"`
}

// Registry announces server instances and looks them up by service.
type Registry interface {
	Register(ctx context.Context, service string, inst Instance, ttl time.Duration) error
	Deregister(ctx context.Context, service string, addr string) error
	// Discover returns the live instances of service ordered by address.
	Discover(ctx context.Context, service string) ([]Instance, error)
	Close() error
}

// MemoryRegistry is an in-process Registry. Registrations never expire.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]Instance // service -> addr -> instance
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{instances: make(map[string]map[string]Instance)}
}

func (r *MemoryRegistry) Register(_ context.Context, service string, inst Instance, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instances[service] == nil {
		r.instances[service] = make(map[string]Instance)
	}
	r.instances[service][inst.Addr] = inst
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances[service], addr)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, service string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instance, 0, len(r.instances[service]))
	for _, inst := range r.instances[service] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}

func (r *MemoryRegistry) Close() error { return nil }
