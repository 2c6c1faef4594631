package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewBucket_InvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		capacity float64
		rate     float64
	}{
		{"zero capacity", 0, 10},
		{"zero rate", 10, 0},
		{"negative rate", 10, -1},
	}
	for _, tt := range tests {
		if _, err := NewBucket(tt.capacity, tt.rate); err == nil {
			t.Errorf("%s: NewBucket() error = nil", tt.name)
		}
	}
}

func TestBucket_StartsFull(t *testing.T) {
	clock := newFakeClock()
	b := NewDefaultBucket(WithClock(clock.Now))

	if got := b.Tokens(); got != DefaultCapacity {
		t.Fatalf("Tokens() = %v, want %v", got, DefaultCapacity)
	}

	for i := 0; i < DefaultCapacity; i++ {
		if !b.TryAcquire() {
			t.Fatalf("TryAcquire() failed at token %d", i+1)
		}
	}
	if b.TryAcquire() {
		t.Error("TryAcquire() succeeded on an empty bucket")
	}
	if got := b.Tokens(); got != 0 {
		t.Errorf("Tokens() = %v, want 0", got)
	}
}

func TestBucket_Refill(t *testing.T) {
	clock := newFakeClock()
	b := NewDefaultBucket(WithClock(clock.Now))

	for b.TryAcquire() {
	}

	clock.Advance(250 * time.Millisecond)
	if got := b.Tokens(); got < 2.49 || got > 2.51 {
		t.Errorf("Tokens() after 250ms = %v, want 2.5", got)
	}

	if !b.TryAcquire() || !b.TryAcquire() {
		t.Fatal("expected two tokens after 250ms")
	}
	if b.TryAcquire() {
		t.Error("third token granted after 250ms")
	}
}

func TestBucket_RefillCapped(t *testing.T) {
	clock := newFakeClock()
	b := NewDefaultBucket(WithClock(clock.Now))

	b.TryAcquire()
	clock.Advance(time.Hour)

	if got := b.Tokens(); got != DefaultCapacity {
		t.Errorf("Tokens() = %v, want capacity %v", got, DefaultCapacity)
	}
}

func TestBucket_TokensWithinBounds(t *testing.T) {
	clock := newFakeClock()
	b, err := NewBucket(5, 3, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	steps := []time.Duration{0, 10 * time.Millisecond, 300 * time.Millisecond, 0, 2 * time.Second, 50 * time.Millisecond}
	for i := 0; i < 200; i++ {
		clock.Advance(steps[i%len(steps)])
		b.TryAcquire()
		if got := b.Tokens(); got < 0 || got > b.Capacity() {
			t.Fatalf("iteration %d: Tokens() = %v out of [0, %v]", i, got, b.Capacity())
		}
	}
}

func TestBucket_ClockGoingBackwards(t *testing.T) {
	clock := newFakeClock()
	b, _ := NewBucket(2, 1, WithClock(clock.Now))
	b.TryAcquire()
	b.TryAcquire()

	clock.Advance(-time.Minute)
	if got := b.Tokens(); got != 0 {
		t.Errorf("Tokens() = %v after clock moved back, want 0", got)
	}
}

func TestBucket_AcquireWaitsForRefill(t *testing.T) {
	b, err := NewBucket(1, 50)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := b.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second Acquire() returned after %v, expected a wait of about 20ms", elapsed)
	}
}

func TestBucket_AcquireCancelled(t *testing.T) {
	b, err := NewBucket(1, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	b.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = b.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire() took %v to observe cancellation", elapsed)
	}
}

func TestBucket_AcquireAlreadyCancelled(t *testing.T) {
	b := NewDefaultBucket()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
	if got := b.Tokens(); got != DefaultCapacity {
		t.Errorf("cancelled Acquire() consumed a token: %v left", got)
	}
}

func TestBucket_ConcurrentAcquire(t *testing.T) {
	b, err := NewBucket(10, 1000)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
		}
	}
	if got := b.Tokens(); got < 0 || got > 10 {
		t.Errorf("Tokens() = %v out of bounds", got)
	}
}
