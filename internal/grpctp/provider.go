package grpctp

import (
	"context"
	"sort"
	"sync"
)

// EndpointProvider lists reachable endpoints (host:port) for a routing target:
// a code language tag such as "python", or "prompt" for the prose backend.
// Return at least one endpoint or an error. Implementations must be safe for
// concurrent use.

type EndpointProvider interface {
	Endpoints(ctx context.Context, target string) ([]string, error)
}

// StaticEndpoints is a provider backed by an in-memory map from target to
// endpoints, typically loaded from the remote section of the config file.

type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		vv := make([]string, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	return &StaticEndpoints{data: cp}
}

func (s *StaticEndpoints) Endpoints(ctx context.Context, target string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[target]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	out := make([]string, len(arr))
	copy(out, arr)
	return out, nil
}

// Targets returns every configured target.
func (s *StaticEndpoints) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
