package formguard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
	"github.com/keithlinneman/linnemanlabs-contact/internal/policy"
)

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// flakyStore wraps a store and fails every call while broken is set
type flakyStore struct {
	kv.Store
	broken atomic.Bool
	calls  atomic.Int32
}

func newFlakyStore(broken bool) *flakyStore {
	f := &flakyStore{Store: kv.NewMemory(context.Background())}
	f.broken.Store(broken)
	return f
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.calls.Add(1)
	if f.broken.Load() {
		return "", false, kv.ErrUnavailable
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	f.calls.Add(1)
	if f.broken.Load() {
		return kv.ErrUnavailable
	}
	return f.Store.Set(ctx, key, value)
}

func (f *flakyStore) Remove(ctx context.Context, key string) error {
	f.calls.Add(1)
	if f.broken.Load() {
		return kv.ErrUnavailable
	}
	return f.Store.Remove(ctx, key)
}

// start is a fixed mid-day instant so tests do not cross midnight by accident
var start = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock      *testClock
	persistent *flakyStore
	session    *flakyStore
	guard      *Guard
	tracker    *Tracker
}

func testPolicy() policy.Policy {
	p := policy.Default()
	p.DailyCeiling = 3
	p.Cooldown = 60 * time.Second
	return p
}

func newFixture(t *testing.T, p policy.Policy, opts ...Option) *fixture {
	t.Helper()
	if err := p.Validate(); err != nil {
		t.Fatalf("test policy invalid: %v", err)
	}
	f := &fixture{
		clock:      newTestClock(start),
		persistent: newFlakyStore(false),
		session:    newFlakyStore(false),
	}
	all := append([]Option{
		WithPolicy(Static(p)),
		WithClock(f.clock.Now),
		WithLocation(time.UTC),
	}, opts...)
	f.guard = New(all...)
	f.tracker = f.guard.Tracker("visitor-1", f.persistent, f.session)
	return f
}

func (f *fixture) dayKey() string { return f.guard.dayKey(f.clock.Now()) }

func mustGet(t *testing.T, s kv.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v, ok
}

func mustSet(t *testing.T, s kv.Store, key, value string) {
	t.Helper()
	if err := s.Set(context.Background(), key, value); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func millis(t time.Time) string { return formatMillis(t) }
