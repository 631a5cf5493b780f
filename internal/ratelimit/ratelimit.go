// Per-client request limiting for the public listener.
//
// It protects against:
//   - a single address flooding the api (goroutine exhaustion, a storage round trip per request)
//   - a single address minting endless visitor cookies to reset the per-visitor submission limit
//   - log spam, only the first denial per client is reported
//
// It does NOT protect against distributed attacks or bandwidth bills, inbound
// data is already accepted by the time this runs.

package ratelimit

import (
	"context"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
)

// DefaultIPv6Prefix groups IPv6 clients by the /64 a single host usually owns.
const DefaultIPv6Prefix = 64

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	reported bool
}

// IPLimiter holds one token bucket per client key.
type IPLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	full    bool

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int
	v6Prefix    int
	now         func() time.Time

	onFirstDenied func(key string)
	onDenied      func(key string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate allows burst requests at once, refilled at perSecond.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle client keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxVisitors caps the number of tracked clients, 0 disables the cap.
// New clients are rejected while the table is full.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) { l.maxVisitors = n }
}

// WithIPv6Prefix sets the prefix length IPv6 clients are grouped by. 128 keys each address.
func WithIPv6Prefix(bits int) Option {
	return func(l *IPLimiter) { l.v6Prefix = bits }
}

// WithOnFirstDenied is called once per client until its bucket is evicted.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called on every denied request.
func WithOnDenied(fn func(key string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithOnCapacity is called each time the table fills up.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

func withClock(now func() time.Time) Option {
	return func(l *IPLimiter) { l.now = now }
}

// New returns a limiter whose eviction loop runs until ctx is done.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		buckets:     make(map[string]*bucket),
		perSecond:   2,
		burst:       20,
		ttl:         10 * time.Minute,
		maxVisitors: 100000,
		v6Prefix:    DefaultIPv6Prefix,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.v6Prefix <= 0 || l.v6Prefix > 128 {
		l.v6Prefix = DefaultIPv6Prefix
	}
	go l.run(ctx)
	return l
}

// Key maps a client address to its bucket key. IPv4 and IPv4-mapped
// addresses key on the full address, IPv6 on the configured prefix.
// Unparsable input is used as is.
func (l *IPLimiter) Key(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return addr.String()
	}
	p, err := addr.WithZone("").Prefix(l.v6Prefix)
	if err != nil {
		return addr.String()
	}
	return p.String()
}

// Allow reports whether a request from ip may proceed.
func (l *IPLimiter) Allow(ip string) bool {
	key := l.Key(ip)
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if l.maxVisitors > 0 && len(l.buckets) >= l.maxVisitors {
			first := !l.full
			l.full = true
			l.mu.Unlock()
			if first && l.onCapacity != nil {
				l.onCapacity()
			}
			l.denied(key, false)
			return false
		}
		b = &bucket{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	first := !allowed && !b.reported
	if first {
		b.reported = true
	}
	l.mu.Unlock()

	if !allowed {
		l.denied(key, first)
	}
	return allowed
}

// hooks run without the lock held
func (l *IPLimiter) denied(key string, first bool) {
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(key)
	}
	if l.onDenied != nil {
		l.onDenied(key)
	}
}

// Len is the number of tracked clients.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle longer than the ttl and rearms the capacity hook.
func (l *IPLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	if l.full && (l.maxVisitors <= 0 || len(l.buckets) < l.maxVisitors) {
		l.full = false
	}
}

func (l *IPLimiter) run(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.sweep(l.now())
		}
	}
}

// retryAfter is the time for one token to refill, in whole seconds.
func (l *IPLimiter) retryAfter() int {
	if l.perSecond <= 0 || l.perSecond == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(l.perSecond))))
}

// Middleware answers 429 for clients over their limit. It expects
// httpmw.ClientIP to have resolved the address.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about limits or remaining budget
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
