package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
)

func limiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	// long ttl keeps the eviction loop out of the way, tests call evict directly
	return New(ctx, append([]Option{WithTTL(time.Hour)}, opts...)...)
}

func TestNew_Defaults(t *testing.T) {
	l := limiter(t)
	if l.perSecond != DefaultPerSecond || l.burst != DefaultBurst || l.maxVisitors != DefaultMaxVisitors {
		t.Fatalf("defaults = %v/%d/%d", l.perSecond, l.burst, l.maxVisitors)
	}
}

func TestDecide_BurstThenRefill(t *testing.T) {
	l := limiter(t, WithRate(2, 3))
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.decide("198.51.100.1", now).allowed {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.decide("198.51.100.1", now).allowed {
		t.Fatal("request past burst allowed")
	}
	if !l.decide("198.51.100.2", now).allowed {
		t.Fatal("other ip should have its own bucket")
	}
	if !l.decide("198.51.100.1", now.Add(600*time.Millisecond)).allowed {
		t.Fatal("bucket should refill at 2/s")
	}
}

func TestAllow_Callbacks(t *testing.T) {
	var first, denied []string
	l := limiter(t, WithRate(1, 1),
		WithOnFirstDenied(func(ip string) { first = append(first, ip) }),
		WithOnDenied(func(ip string) { denied = append(denied, ip) }),
	)
	for i := 0; i < 4; i++ {
		l.allow("a")
	}
	l.allow("b")
	l.allow("b")

	if fmt.Sprint(first) != "[a b]" {
		t.Fatalf("first denials = %v", first)
	}
	if fmt.Sprint(denied) != "[a a a b]" {
		t.Fatalf("denials = %v", denied)
	}
}

func TestAllow_NilCallbacks(t *testing.T) {
	l := limiter(t, WithRate(1, 1), WithMaxVisitors(1))
	l.allow("a")
	l.allow("a")
	l.allow("b")
}

func TestEvict(t *testing.T) {
	var first int
	l := limiter(t, WithRate(1, 1), WithTTL(time.Minute), WithOnFirstDenied(func(string) { first++ }))
	l.allow("stale")
	l.allow("stale")
	l.allow("fresh")

	l.mu.Lock()
	l.visitors["stale"].lastSeen = time.Now().Add(-2 * time.Minute)
	l.mu.Unlock()

	l.evict(time.Now())
	if l.Len() != 1 {
		t.Fatalf("%d visitors after evict, want 1", l.Len())
	}

	// a returning ip starts with a full bucket and is reported again
	l.allow("stale")
	l.allow("stale")
	if first != 2 {
		t.Fatalf("first denial reported %d times, want 2", first)
	}
}

func TestEvictLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &IPLimiter{visitors: map[string]*visitor{}, ttl: 20 * time.Millisecond}
	done := make(chan struct{})
	go func() {
		l.evictLoop(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictLoop did not return after cancel")
	}
}

func TestMaxVisitors(t *testing.T) {
	var full int
	l := limiter(t, WithRate(100, 100), WithMaxVisitors(2), WithOnCapacity(func() { full++ }))

	l.allow("a")
	l.allow("b")
	if l.allow("c") || l.allow("d") {
		t.Fatal("new ips should be rejected at capacity")
	}
	if !l.allow("a") {
		t.Fatal("known ip should still be served at capacity")
	}
	if full != 1 {
		t.Fatalf("OnCapacity fired %d times, want 1", full)
	}

	l.mu.Lock()
	l.visitors["b"].lastSeen = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()
	l.evict(time.Now())

	if !l.allow("c") {
		t.Fatal("eviction should free a slot")
	}
	if l.allow("d") {
		t.Fatal("map is full again")
	}
	if full != 2 {
		t.Fatalf("OnCapacity should re-arm after eviction, fired %d times", full)
	}
}

func TestMaxVisitors_ZeroIsUnbounded(t *testing.T) {
	l := limiter(t, WithMaxVisitors(0))
	for i := 0; i < 500; i++ {
		if !l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256)) {
			t.Fatalf("ip %d rejected", i)
		}
	}
}

func TestAllow_Concurrent(t *testing.T) {
	var denied atomic.Int64
	l := limiter(t, WithRate(1, 10), WithMaxVisitors(50), WithOnDenied(func(string) { denied.Add(1) }))

	var wg sync.WaitGroup
	var allowed atomic.Int64
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.allow(fmt.Sprintf("192.0.2.%d", (g*50+i)%80)) {
					allowed.Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	if l.Len() > 50 {
		t.Fatalf("tracked %d ips past the cap", l.Len())
	}
	if allowed.Load()+denied.Load() != 1000 {
		t.Fatalf("allowed %d + denied %d != 1000", allowed.Load(), denied.Load())
	}
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestMiddleware(t *testing.T) {
	var reached int
	l := limiter(t, WithRate(1, 2))
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached++ }))

	serve(h, "203.0.113.5")
	serve(h, "203.0.113.5")
	rec := serve(h, "203.0.113.5")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatal("Retry-After missing")
	}
	if got := rec.Body.String(); got != "Too Many Requests\n" {
		t.Fatalf("body = %q", got)
	}
	if reached != 2 {
		t.Fatalf("handler reached %d times, want 2", reached)
	}
	if serve(h, "203.0.113.6").Code != http.StatusOK {
		t.Fatal("other client should be unaffected")
	}
}

func TestMiddleware_NoClientIP(t *testing.T) {
	// without ClientIP in front every caller shares the "" bucket
	l := limiter(t, WithRate(1, 1))
	h := l.Middleware(http.NotFoundHandler())
	serve(h, "")
	if serve(h, "").Code != http.StatusTooManyRequests {
		t.Fatal("shared bucket should be limited")
	}
}
