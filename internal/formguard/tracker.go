package formguard

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/policy"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonAllowed    Reason = "allowed"
	ReasonDailyLimit Reason = "daily_limit"
	ReasonCooldown   Reason = "cooldown"
	// ReasonPermissive means no storage could be read and the submission is let through
	ReasonPermissive Reason = "permissive"
)

// Decision is the verdict on a single submission attempt.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter is how long until a denied visitor may try again, zero when allowed
	RetryAfter time.Duration
	// Count is the number of submissions already made today
	Count int
	// Degraded is true when the verdict came from session-only storage
	Degraded bool
}

// Tracker applies the guard to one visitor's storage.
type Tracker struct {
	g          *Guard
	persistent kv.Store
	session    kv.Store
	mu         *sync.Mutex
}

// Sanitize discards stored values that are impossible, corrupted or stale so
// that they cannot wedge the form shut or open. It never fails: a persistent
// storage error switches the session to session-only mode, and if even that
// cannot be recorded it gives up quietly. Calling it twice is the same as
// calling it once.
func (t *Tracker) Sanitize(ctx context.Context) {
	ctx, span := otel.Tracer("linnemanlabs/formguard").Start(ctx, "formguard.sanitize")
	defer span.End()

	p := t.g.policy.Policy()
	now := t.g.now()

	store, scope := t.counterStore(ctx)
	if store != nil {
		if err := t.sanitizeCounters(ctx, store, p, now); err != nil {
			if scope == kv.Persistent {
				t.degrade(ctx, "sanitize", err)
			} else {
				t.g.storageError(scope, "sanitize", err)
				log.FromContext(ctx).Warn(ctx, "session storage failed while sanitizing", "error", err)
			}
		}
	}

	if err := t.sanitizeFormStart(ctx, p, now); err != nil {
		t.g.storageError(kv.Session, "sanitize", err)
		log.FromContext(ctx).Warn(ctx, "session storage failed while sanitizing form start", "error", err)
	}

	span.SetAttributes(attribute.String("formguard.scope", string(scope)))
}

func (t *Tracker) sanitizeCounters(ctx context.Context, store kv.Store, p policy.Policy, now time.Time) error {
	key := t.g.dayKey(now)
	if v, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		n, perr := parseCount(v)
		reason := ""
		switch {
		case perr != nil:
			reason = "corrupt"
		case n > p.SanityCeiling:
			reason = "out_of_range"
		}
		if reason != "" {
			if err := store.Set(ctx, key, "0"); err != nil {
				return err
			}
			t.g.reset("counter", reason)
			log.FromContext(ctx).Info(ctx, "reset submission counter", "reason", reason, "day_key", key)
		}
	}

	if v, ok, err := store.Get(ctx, KeyLastSubmission); err != nil {
		return err
	} else if ok {
		if reason := staleReason(v, now, p.LastSubmissionTTL); reason != "" {
			if err := store.Remove(ctx, KeyLastSubmission); err != nil {
				return err
			}
			t.g.reset("last_submission", reason)
			log.FromContext(ctx).Info(ctx, "cleared last submission timestamp", "reason", reason)
		}
	}
	return nil
}

func (t *Tracker) sanitizeFormStart(ctx context.Context, p policy.Policy, now time.Time) error {
	v, ok, err := t.session.Get(ctx, KeyFormStart)
	if err != nil || !ok {
		return err
	}
	if reason := staleReason(v, now, p.FormStartTTL); reason != "" {
		if err := t.session.Remove(ctx, KeyFormStart); err != nil {
			return err
		}
		t.g.reset("form_start", reason)
	}
	return nil
}

// staleReason returns why a stored timestamp should be discarded, "" to keep it.
func staleReason(v string, now time.Time, ttl time.Duration) string {
	ts, err := parseMillis(v)
	switch {
	case err != nil:
		return "corrupt"
	case ts.Sub(now) > maxClockSkew:
		return "future"
	case now.Sub(ts) > ttl:
		return "stale"
	}
	return ""
}

// TrackFormInteraction records when the visitor first touched the form.
// Later calls keep the first timestamp, concurrent first calls included.
// Storage failures are swallowed.
func (t *Tracker) TrackFormInteraction(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok, err := t.session.Get(ctx, KeyFormStart)
	if err != nil {
		t.g.storageError(kv.Session, "track", err)
		log.FromContext(ctx).Debug(ctx, "could not read form start time", "error", err)
		return
	}
	if ok {
		return
	}
	if err := t.session.Set(ctx, KeyFormStart, formatMillis(t.g.now())); err != nil {
		t.g.storageError(kv.Session, "track", err)
		log.FromContext(ctx).Debug(ctx, "could not store form start time", "error", err)
	}
}

// Engagement returns how long ago the visitor first interacted with the form.
func (t *Tracker) Engagement(ctx context.Context) (time.Duration, bool) {
	v, ok, err := t.session.Get(ctx, KeyFormStart)
	if err != nil || !ok {
		return 0, false
	}
	ts, err := parseMillis(v)
	if err != nil {
		return 0, false
	}
	d := t.g.now().Sub(ts)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Degraded reports whether this session has switched to session-only mode.
func (t *Tracker) Degraded(ctx context.Context) bool {
	v, ok, err := t.session.Get(ctx, KeyFallbackMode)
	return err == nil && ok && v == fallbackOn
}

// CanSubmit reports whether a submission may proceed right now. It does not
// record anything.
func (t *Tracker) CanSubmit(ctx context.Context) bool {
	return t.Check(ctx).Allowed
}

// Check is CanSubmit with the reason and retry hint.
func (t *Tracker) Check(ctx context.Context) Decision {
	d := t.check(ctx)
	t.g.decision("check", d)
	return d
}

func (t *Tracker) check(ctx context.Context) Decision {
	p := t.g.policy.Policy()
	now := t.g.now()

	store, scope := t.counterStore(ctx)
	if store == nil {
		return permissive()
	}

	d, err := t.evaluate(ctx, store, p, now)
	if err != nil && scope == kv.Persistent {
		store, scope = t.degrade(ctx, "check", err), kv.Session
		if store == nil {
			return permissive()
		}
		d, err = t.evaluate(ctx, store, p, now)
	}
	if err != nil {
		t.g.storageError(scope, "check", err)
		log.FromContext(ctx).Warn(ctx, "no usable storage, allowing submission", "error", err)
		return permissive()
	}
	d.Degraded = scope == kv.Session
	return d
}

func (t *Tracker) evaluate(ctx context.Context, store kv.Store, p policy.Policy, now time.Time) (Decision, error) {
	count, err := t.readCount(ctx, store, now)
	if err != nil {
		return Decision{}, err
	}
	if count >= p.DailyCeiling {
		return Decision{
			Reason:     ReasonDailyLimit,
			RetryAfter: t.g.nextDay(now).Sub(now),
			Count:      count,
		}, nil
	}

	v, ok, err := store.Get(ctx, KeyLastSubmission)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		// unparsable or impossible timestamps are ignored here, Sanitize removes them
		if last, perr := parseMillis(v); perr == nil && last.Sub(now) <= maxClockSkew {
			if elapsed := now.Sub(last); elapsed < p.Cooldown {
				return Decision{
					Reason:     ReasonCooldown,
					RetryAfter: p.Cooldown - elapsed,
					Count:      count,
				}, nil
			}
		}
	}

	return Decision{Allowed: true, Reason: ReasonAllowed, Count: count}, nil
}

// readCount returns today's counter, unparsable values count as zero.
func (t *Tracker) readCount(ctx context.Context, store kv.Store, now time.Time) (int, error) {
	v, ok, err := store.Get(ctx, t.g.dayKey(now))
	if err != nil || !ok {
		return 0, err
	}
	n, perr := parseCount(v)
	if perr != nil {
		return 0, nil
	}
	return n, nil
}

// RecordSubmission counts an accepted submission and starts the cooldown.
// It is not undone if delivering the message fails afterwards.
func (t *Tracker) RecordSubmission(ctx context.Context) {
	now := t.g.now()

	store, scope := t.counterStore(ctx)
	if store == nil {
		return
	}
	err := t.record(ctx, store, now)
	if err != nil && scope == kv.Persistent {
		store, scope = t.degrade(ctx, "record", err), kv.Session
		if store == nil {
			return
		}
		err = t.record(ctx, store, now)
	}
	if err != nil {
		t.g.storageError(scope, "record", err)
		log.FromContext(ctx).Warn(ctx, "could not record submission", "error", err)
	}
}

func (t *Tracker) record(ctx context.Context, store kv.Store, now time.Time) error {
	count, err := t.readCount(ctx, store, now)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, t.g.dayKey(now), strconv.Itoa(count+1)); err != nil {
		return err
	}
	return store.Set(ctx, KeyLastSubmission, formatMillis(now))
}

// TrySubmit checks and, when allowed, records the submission while holding
// the visitor's lock so two concurrent submits cannot both pass the check.
func (t *Tracker) TrySubmit(ctx context.Context) Decision {
	ctx, span := otel.Tracer("linnemanlabs/formguard").Start(ctx, "formguard.try_submit")
	defer span.End()

	t.mu.Lock()
	d := t.check(ctx)
	if d.Allowed {
		t.RecordSubmission(ctx)
	}
	t.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("formguard.allowed", d.Allowed),
		attribute.String("formguard.reason", string(d.Reason)),
		attribute.Int("formguard.count", d.Count),
		attribute.Bool("formguard.degraded", d.Degraded),
	)
	t.g.decision("submit", d)
	return d
}

// counterStore picks where counters live for this session. A nil store means
// no storage can be trusted and callers must be permissive.
func (t *Tracker) counterStore(ctx context.Context) (kv.Store, kv.Scope) {
	v, ok, err := t.session.Get(ctx, KeyFallbackMode)
	if err != nil {
		t.g.storageError(kv.Session, "fallback_read", err)
		return nil, kv.Session
	}
	if ok && v == fallbackOn {
		return t.session, kv.Session
	}
	return t.persistent, kv.Persistent
}

// degrade records that persistent storage failed and switches the session to
// session-only mode. Returns the session store, or nil when the flag could not
// be written either.
func (t *Tracker) degrade(ctx context.Context, op string, cause error) kv.Store {
	L := log.FromContext(ctx)
	t.g.storageError(kv.Persistent, op, cause)

	if err := t.session.Set(ctx, KeyFallbackMode, fallbackOn); err != nil {
		t.g.storageError(kv.Session, op, err)
		L.Warn(ctx, "persistent and session storage both failed, rate limiting disabled for this visitor",
			"op", op,
			"error", cause,
			"session_error", err,
		)
		return nil
	}
	t.g.fallback()
	L.Warn(ctx, "persistent storage failed, switching visitor to session-only mode", "op", op, "error", cause)
	return t.session
}

func permissive() Decision {
	return Decision{Allowed: true, Reason: ReasonPermissive, Degraded: true}
}
