package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/httpmw"
)

// Defaults suit a monitor polling /health every few seconds.
const (
	DefaultPerSecond   = 1
	DefaultBurst       = 5
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 100000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set on the first denial and lost on eviction
	reported bool
}

// IPLimiter keeps one token bucket per client IP and evicts idle ones in
// the background.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	// full is set on the first capacity denial, cleared once eviction frees room
	full bool

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int

	// OnFirstDenied runs once per visitor, for logging.
	OnFirstDenied func(ip string)
	// OnDenied runs on every rejection, for counting.
	OnDenied func(ip string)
	// OnCapacity runs once each time the visitor map fills.
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket size. WithRate(1, 5) lets a
// caller run /health five times back to back, then once per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle IP is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnFirstDenied = fn }
}

func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnDenied = fn }
}

// WithMaxVisitors caps the number of tracked IPs; new IPs are rejected while
// the map is full. 0 removes the cap.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.OnCapacity = fn }
}

// New returns a limiter whose eviction loop runs until ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   DefaultPerSecond,
		burst:       DefaultBurst,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// verdict is what allow decided, computed under the lock. Callbacks run
// after it is released since they may log.
type verdict struct {
	allowed     bool
	firstDenial bool
	capacityHit bool
}

func (l *IPLimiter) decide(ip string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			first := !l.full
			l.full = true
			return verdict{capacityHit: first}
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return verdict{allowed: true}
	}
	first := !v.reported
	v.reported = true
	return verdict{firstDenial: first}
}

// allow reports whether ip may proceed and fires the callbacks for a denial.
func (l *IPLimiter) allow(ip string) bool {
	d := l.decide(ip, time.Now())
	if d.allowed {
		return true
	}
	if d.capacityHit && l.OnCapacity != nil {
		l.OnCapacity()
	}
	if d.firstDenial && l.OnFirstDenied != nil {
		l.OnFirstDenied(ip)
	}
	if l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return false
}

// evict drops visitors idle for longer than the TTL.
func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
	if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
		l.full = false
	}
}

// evictLoop runs evict every half TTL so an idle entry outlives the TTL by
// at most that much.
func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

// Len returns the number of tracked IPs.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware rejects callers over their budget with 429. It must run inside
// httpmw.ClientIP, which resolves the caller through trusted proxies.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.allow(httpmw.ClientIPFromContext(r.Context())) {
			next.ServeHTTP(w, r)
			return
		}
		// no hint about the budget or the refill time
		w.Header().Set("Retry-After", "30")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}
