package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterFixedWindow(t *testing.T) {
	mem := NewMemoryStore()
	limiter := New(mem)
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	limiter.now = clock
	mem.now = clock

	ctx := context.Background()
	want := []bool{true, true, true, false}
	for i, expect := range want {
		res, err := limiter.Check(ctx, "user-1:chat", 3, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if res.Allowed != expect {
			t.Fatalf("call %d: allowed=%v, want %v", i+1, res.Allowed, expect)
		}
		if res.Hits != i+1 {
			t.Fatalf("call %d: hits=%d, want %d", i+1, res.Hits, i+1)
		}
	}
}

func TestLimiterRemainingAndResetAt(t *testing.T) {
	mem := NewMemoryStore()
	limiter := New(mem)
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	limiter.now = clock
	mem.now = clock

	res, err := limiter.Check(context.Background(), "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Remaining != 2 {
		t.Fatalf("remaining=%d, want 2", res.Remaining)
	}
	if !res.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("resetAt=%v, want %v", res.ResetAt, now.Add(time.Minute))
	}

	// Exhaust the window; remaining clamps at zero.
	for i := 0; i < 5; i++ {
		res, _ = limiter.Check(context.Background(), "k", 3, time.Minute)
	}
	if res.Remaining != 0 {
		t.Fatalf("exhausted remaining=%d, want 0", res.Remaining)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	mem := NewMemoryStore()
	limiter := New(mem)
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	limiter.now = clock
	mem.now = clock

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		limiter.Check(ctx, "k", 3, time.Minute)
	}

	// Past the window the counter starts over at 1.
	now = now.Add(time.Minute + time.Second)
	res, err := limiter.Check(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("check after reset: %v", err)
	}
	if !res.Allowed || res.Hits != 1 {
		t.Fatalf("after reset: allowed=%v hits=%d, want true/1", res.Allowed, res.Hits)
	}
	if !res.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("after reset resetAt=%v, want %v", res.ResetAt, now.Add(time.Minute))
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := New(NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		limiter.Check(ctx, "a", 2, time.Minute)
	}
	res, err := limiter.Check(ctx, "b", 2, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.Hits != 1 {
		t.Fatalf("fresh key: allowed=%v hits=%d, want true/1", res.Allowed, res.Hits)
	}
}

func TestMemoryStoreSweepHonorsClock(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	mem.now = func() time.Time { return now }

	ctx := context.Background()
	if err := mem.Put(ctx, "live", Record{Hits: 1, ResetAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A record whose window is still open must survive its own insert.
	if _, ok, _ := mem.Get(ctx, "live"); !ok {
		t.Fatalf("unexpired record swept")
	}

	// Past the reset and the sweep interval, the next insert collects it.
	now = now.Add(2 * time.Minute)
	if err := mem.Put(ctx, "fresh", Record{Hits: 1, ResetAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "live"); ok {
		t.Fatalf("expired record survived sweep")
	}
	if _, ok, _ := mem.Get(ctx, "fresh"); !ok {
		t.Fatalf("fresh record swept")
	}
}

func TestWindowedAllower(t *testing.T) {
	limiter := New(NewMemoryStore())
	gate := limiter.Windowed(2, time.Minute)
	if !gate.Allow("ip-1") || !gate.Allow("ip-1") {
		t.Fatalf("first two requests should pass")
	}
	if gate.Allow("ip-1") {
		t.Fatalf("third request should be blocked")
	}
}
