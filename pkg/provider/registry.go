package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// OpenFunc opens a Provider bound to bucket.
type OpenFunc func(ctx context.Context, bucket string) (Provider, error)

// Registry lazily opens and caches one Provider per bucket.
//
// Job messages carry their own bucket names (inputs bucket, results bucket),
// so workers resolve providers by name instead of holding a fixed set.
type Registry struct {
	open OpenFunc

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates a registry that opens providers with open.
func NewRegistry(open OpenFunc) *Registry {
	return &Registry{open: open, providers: make(map[string]Provider)}
}

// Get returns the provider for bucket, opening it on first use.
func (r *Registry) Get(ctx context.Context, bucket string) (Provider, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[bucket]; ok {
		return p, nil
	}
	p, err := r.open(ctx, bucket)
	if err != nil {
		return nil, err
	}
	r.providers[bucket] = p
	return p, nil
}

// Close closes every opened provider and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for name, p := range r.providers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.providers, name)
	}
	return first
}
