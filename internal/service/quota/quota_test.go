package quota

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func capOf(n int64) *int64 { return &n }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestEnforcerPerMinuteCap(t *testing.T) {
	e := NewEnforcer(StaticLimits{Terminal: Caps{PerMinute: capOf(3)}}, NewMemoryCounter())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := e.Allow(ctx, 7)
		if err != nil || !ok {
			t.Fatalf("send %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := e.Allow(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("fourth send within the minute should be denied")
	}

	// other terminals have their own budget
	if ok, _ := e.Allow(ctx, 8); !ok {
		t.Fatal("terminal 8 should not share terminal 7's budget")
	}
}

func TestEnforcerZeroCapBlocks(t *testing.T) {
	e := NewEnforcer(StaticLimits{Terminal: Caps{PerDay: capOf(0)}}, NewMemoryCounter())
	if ok, _ := e.Allow(context.Background(), 1); ok {
		t.Fatal("a zero cap must block every send")
	}
}

func TestEnforcerUnsetIsUnbounded(t *testing.T) {
	e := NewEnforcer(StaticLimits{}, NewMemoryCounter())
	for i := 0; i < 1000; i++ {
		if ok, _ := e.Allow(context.Background(), 1); !ok {
			t.Fatalf("send %d denied with no caps configured", i)
		}
	}
}

func TestMemoryCounterRollingWindow(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	e := NewEnforcer(StaticLimits{Terminal: Caps{PerMinute: capOf(2)}}, NewMemoryCounter().WithClock(c.Now))
	ctx := context.Background()

	e.Allow(ctx, 1)
	c.Advance(30 * time.Second)
	e.Allow(ctx, 1)

	if ok, _ := e.Allow(ctx, 1); ok {
		t.Fatal("window is full")
	}

	// the first send falls out of the window, the second does not
	c.Advance(31 * time.Second)
	if ok, _ := e.Allow(ctx, 1); !ok {
		t.Fatal("expected room after the oldest send aged out")
	}
	if ok, _ := e.Allow(ctx, 1); ok {
		t.Fatal("rolling window should not reset on a minute boundary")
	}
}

func TestEnforcerGlobalCapUnderConcurrency(t *testing.T) {
	e := NewEnforcer(StaticLimits{Global: Caps{PerMinute: capOf(10)}}, NewMemoryCounter())

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if ok, _ := e.Allow(context.Background(), id); ok {
				atomic.AddInt32(&allowed, 1)
			}
		}(int64(i))
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}

func TestEnforcerDeniedSendDoesNotConsume(t *testing.T) {
	limits := StaticLimits{
		Terminal: Caps{PerMinute: capOf(1)},
		Global:   Caps{PerMinute: capOf(2)},
	}
	e := NewEnforcer(limits, NewMemoryCounter())
	ctx := context.Background()

	e.Allow(ctx, 1)
	// denied by the terminal cap, must not eat into the global one
	if ok, _ := e.Allow(ctx, 1); ok {
		t.Fatal("terminal cap exceeded")
	}
	if ok, _ := e.Allow(ctx, 2); !ok {
		t.Fatal("global budget should still have room")
	}
}

func TestRedisCounter(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "{quota}:test:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, key+":minute")

	counter := NewRedisCounter(client)
	windows := []Window{{Key: key + ":minute", Span: time.Minute, Cap: 2}}

	for i := 0; i < 2; i++ {
		ok, err := counter.Acquire(ctx, windows)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := counter.Acquire(ctx, windows)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("third acquire should be denied")
	}
}
