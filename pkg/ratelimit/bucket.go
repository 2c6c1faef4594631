package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the burst size of a bucket.
	DefaultCapacity = 100

	// DefaultRefillRate is the number of tokens added per second.
	DefaultRefillRate = 10

	// DefaultMaxWait bounds a single sleep before the balance is checked again.
	DefaultMaxWait = 500 * time.Millisecond
)

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock overrides the time source used for refills.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		b.now = now
	}
}

// WithMaxWait bounds a single sleep of Acquire.
func WithMaxWait(d time.Duration) Option {
	return func(b *Bucket) {
		if d > 0 {
			b.maxWait = d
		}
	}
}

// Bucket is a continuously refilling token bucket. It is safe for concurrent use.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time

	maxWait time.Duration
	now     func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(capacity, refillRate float64, opts ...Option) (*Bucket, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("bucket capacity must be at least 1, got %v", capacity)
	}
	if refillRate <= 0 {
		return nil, fmt.Errorf("bucket refill rate must be positive, got %v", refillRate)
	}

	b := &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		maxWait:    DefaultMaxWait,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()

	return b, nil
}

// NewDefaultBucket creates a bucket with DefaultCapacity and DefaultRefillRate.
func NewDefaultBucket(opts ...Option) *Bucket {
	b, _ := NewBucket(DefaultCapacity, DefaultRefillRate, opts...)
	return b
}

// refill adds the tokens accrued since the last refill. Caller holds mu.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// take consumes a token if one is available and otherwise returns how long
// until the next one accrues. Caller holds mu.
func (b *Bucket) take() (bool, time.Duration) {
	b.refill(b.now())

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait
}

// TryAcquire takes a token without waiting.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ok, _ := b.take()
	return ok
}

// Acquire takes a token, sleeping until one is available or ctx ends.
// Waiters are not served in arrival order.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		ok, wait := b.take()
		b.mu.Unlock()

		if ok {
			return nil
		}

		if wait > b.maxWait {
			wait = b.maxWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the current balance, between 0 and the capacity.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	return b.tokens
}

// Capacity returns the bucket capacity.
func (b *Bucket) Capacity() float64 {
	return b.capacity
}

// RefillRate returns the refill rate in tokens per second.
func (b *Bucket) RefillRate() float64 {
	return b.refillRate
}
