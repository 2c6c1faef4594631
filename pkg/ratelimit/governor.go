package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config configures a Governor.
type Config struct {
	// Capacity is the burst size of each bucket.
	Capacity float64 `yaml:"capacity" json:"capacity" validate:"gte=1"`

	// RefillRate is the number of tokens added per second.
	RefillRate float64 `yaml:"refill_per_second" json:"refill_per_second" validate:"gt=0"`

	// PerTenant gives every tenant its own bucket instead of one shared bucket.
	PerTenant bool `yaml:"per_tenant" json:"per_tenant"`

	// MaxWait bounds a single sleep while waiting for a token.
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait"`
}

// DefaultConfig returns the platform defaults: 100 tokens, 10 per second, shared.
func DefaultConfig() Config {
	return Config{
		Capacity:   DefaultCapacity,
		RefillRate: DefaultRefillRate,
		MaxWait:    DefaultMaxWait,
	}
}

// Observer receives the outcome of every granted permit.
type Observer interface {
	ObserveRateLimit(waited time.Duration, remaining float64)
}

// DefaultSweepThreshold is the number of per-tenant buckets above which
// full buckets are evicted before a new one is added.
const DefaultSweepThreshold = 1024

// Governor grants provisioning permits per tenant.
//
// With PerTenant set, a bucket that has refilled to capacity is
// indistinguishable from a new one, so such buckets are evicted once the
// map exceeds the sweep threshold. Memory is bounded by the number of
// tenants active within one refill period.
type Governor struct {
	cfg      Config
	opts     []Option
	observer Observer

	shared *Bucket

	mu      sync.Mutex
	tenants map[string]*Bucket
	sweepAt int
}

// NewGovernor creates a governor. observer may be nil.
func NewGovernor(cfg Config, observer Observer, opts ...Option) (*Governor, error) {
	opts = append([]Option{WithMaxWait(cfg.MaxWait)}, opts...)

	shared, err := NewBucket(cfg.Capacity, cfg.RefillRate, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	return &Governor{
		cfg:      cfg,
		opts:     opts,
		observer: observer,
		shared:   shared,
		tenants:  make(map[string]*Bucket),
		sweepAt:  DefaultSweepThreshold,
	}, nil
}

// Acquire blocks until a permit is available for the tenant or ctx ends.
func (g *Governor) Acquire(ctx context.Context, tenantID string) error {
	bucket := g.bucket(tenantID)

	start := time.Now()
	if err := bucket.Acquire(ctx); err != nil {
		return err
	}

	if g.observer != nil {
		g.observer.ObserveRateLimit(time.Since(start), bucket.Tokens())
	}
	return nil
}

// Tokens returns the balance of the bucket serving the tenant.
func (g *Governor) Tokens(tenantID string) float64 {
	return g.bucket(tenantID).Tokens()
}

// Capacity returns the configured bucket capacity.
func (g *Governor) Capacity() float64 {
	return g.cfg.Capacity
}

// Buckets returns the number of buckets in use.
func (g *Governor) Buckets() int {
	if !g.cfg.PerTenant {
		return 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tenants)
}

func (g *Governor) bucket(tenantID string) *Bucket {
	if !g.cfg.PerTenant {
		return g.shared
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.tenants[tenantID]; ok {
		return b
	}

	if len(g.tenants) >= g.sweepAt {
		g.evictFull()
	}

	// Parameters were validated when the shared bucket was built.
	b, _ := NewBucket(g.cfg.Capacity, g.cfg.RefillRate, g.opts...)
	g.tenants[tenantID] = b
	return b
}

// evictFull drops buckets that have refilled to capacity. g.mu must be held.
func (g *Governor) evictFull() {
	for tenantID, b := range g.tenants {
		if b.Tokens() >= b.Capacity() {
			delete(g.tenants, tenantID)
		}
	}
}
