package formguard

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
	"github.com/keithlinneman/linnemanlabs-contact/internal/policy"
)

// PolicySource supplies the policy in force at the time of a call.
// *policy.Manager satisfies it.
type PolicySource interface {
	Policy() policy.Policy
}

type staticPolicy policy.Policy

func (s staticPolicy) Policy() policy.Policy { return policy.Policy(s) }

// Static wraps a fixed policy as a PolicySource.
func Static(p policy.Policy) PolicySource { return staticPolicy(p) }

// lockStripes is the number of mutexes visitor keys are hashed across
const lockStripes = 64

// Guard holds configuration shared by every visitor's Tracker.
type Guard struct {
	policy PolicySource
	now    func() time.Time
	loc    *time.Location
	dayKey DayKeyFunc
	// set by WithDayKey, the rollover hint then follows the key, not loc
	customDayKey bool

	// hooks, all optional
	onDecision     func(op string, d Decision)
	onReset        func(key, reason string)
	onStorageError func(scope kv.Scope, op string, err error)
	onFallback     func()

	// serializes check-then-record per visitor
	locks [lockStripes]sync.Mutex
}

type Option func(*Guard)

// WithPolicy sets where the active policy is read from. Default is policy.Default().
func WithPolicy(src PolicySource) Option {
	return func(g *Guard) {
		g.policy = src
	}
}

// WithClock overrides time.Now, used by tests to walk through days.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithLocation sets the timezone calendar days are derived in. Default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(g *Guard) {
		g.loc = loc
	}
}

// WithDayKey overrides the day key derivation entirely. The daily_limit
// retry hint is then found by watching fn for the next key change.
func WithDayKey(fn DayKeyFunc) Option {
	return func(g *Guard) {
		g.dayKey = fn
		g.customDayKey = fn != nil
	}
}

// WithOnDecision is called with every verdict. op is "check" or "submit".
func WithOnDecision(fn func(op string, d Decision)) Option {
	return func(g *Guard) {
		g.onDecision = fn
	}
}

// WithOnReset is called whenever the sanitizer discards a stored value.
// key is the logical key (counter, last_submission, form_start), reason is corrupt, out_of_range, stale or future.
func WithOnReset(fn func(key, reason string)) Option {
	return func(g *Guard) {
		g.onReset = fn
	}
}

// WithOnStorageError is called for every failed storage operation.
func WithOnStorageError(fn func(scope kv.Scope, op string, err error)) Option {
	return func(g *Guard) {
		g.onStorageError = fn
	}
}

// WithOnFallback is called when a session switches to session-only mode.
func WithOnFallback(fn func()) Option {
	return func(g *Guard) {
		g.onFallback = fn
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		policy: Static(policy.Default()),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, o := range opts {
		o(g)
	}
	if g.loc == nil {
		g.loc = time.Local
	}
	if g.dayKey == nil {
		g.dayKey = DayKey(g.loc)
	}
	return g
}

// Tracker returns the tracker for one visitor. visitorKey identifies the
// visitor for locking and should match how persistent is namespaced.
// Trackers are cheap, create one per request.
func (g *Guard) Tracker(visitorKey string, persistent, session kv.Store) *Tracker {
	return &Tracker{
		g:          g,
		persistent: persistent,
		session:    session,
		mu:         g.lockFor(visitorKey),
	}
}

func (g *Guard) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g.locks[h.Sum32()%lockStripes]
}

func (g *Guard) decision(op string, d Decision) {
	if g.onDecision != nil {
		g.onDecision(op, d)
	}
}

func (g *Guard) reset(key, reason string) {
	if g.onReset != nil {
		g.onReset(key, reason)
	}
}

func (g *Guard) storageError(scope kv.Scope, op string, err error) {
	if g.onStorageError != nil {
		g.onStorageError(scope, op, err)
	}
}

func (g *Guard) fallback() {
	if g.onFallback != nil {
		g.onFallback()
	}
}

// maxDayLength bounds the search for the next day key, a day plus DST slack
const maxDayLength = 26 * time.Hour

// nextDay returns when the counter for now's day stops being read.
func (g *Guard) nextDay(now time.Time) time.Time {
	if !g.customDayKey {
		return nextMidnight(now, g.loc)
	}
	cur := g.dayKey(now)
	lo := now
	for hi := now.Add(time.Hour); hi.Sub(now) <= maxDayLength; hi = hi.Add(time.Hour) {
		if g.dayKey(hi) == cur {
			lo = hi
			continue
		}
		for hi.Sub(lo) > time.Second {
			mid := lo.Add(hi.Sub(lo) / 2)
			if g.dayKey(mid) == cur {
				lo = mid
			} else {
				hi = mid
			}
		}
		return hi
	}
	return nextMidnight(now, g.loc)
}
