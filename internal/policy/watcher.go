// Watcher polls SSM for policy document changes and swaps validated
// policies into the Manager.

package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new document.
	DefaultPollInterval = time.Minute

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 10 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange   pollResult = iota // version matches current, nothing to do
	pollSwapped                      // new document parsed and swapped in
	pollSSMError                     // SSM fetch failed, caller should back off
	pollParseError                   // fetched but invalid, current policy kept
)

// DocumentFetcher is what the Watcher needs from a Loader.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context) (doc string, version string, err error)
	Parse(doc, version string) (*Snapshot, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncPolicyPolls()
	IncPolicySwaps()
	IncPolicyError(errType string)
	SetPolicyLastSuccess(unixSeconds float64)
	SetPolicyStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       DocumentFetcher
	Manager      *Manager
	PollInterval time.Duration

	// OnSwap is called synchronously on the poll goroutine after a swap.
	OnSwap func(p Policy, version string)

	Metrics WatcherMetrics

	// StaleThreshold is how long since the last successful poll before the
	// watcher reports staleness. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for policy changes.
type Watcher struct {
	loader   DocumentFetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	onSwap   func(p Policy, version string)
	metrics  WatcherMetrics

	currentVersion string

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a policy watcher. Call Run to start polling.
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       interval,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentVersion: opts.Manager.Version(),
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is cancelled. Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "policy watcher starting",
		"poll_interval", w.interval.String(),
		"current_version", w.currentVersion,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "policy watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollSSMError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "policy watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "policy watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			w.trackStaleness(ctx, result)
		}
	}
}

// trackStaleness logs once on the transition into and out of the stale state.
func (w *Watcher) trackStaleness(ctx context.Context, result pollResult) {
	if result != pollSSMError {
		if w.staleLogged {
			w.logger.Info(ctx, "policy watcher: staleness recovered")
			w.staleLogged = false
			if w.metrics != nil {
				w.metrics.SetPolicyStale(false)
			}
		}
		return
	}
	if time.Since(w.lastSuccessAt) > w.staleThreshold && !w.staleLogged {
		w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
			"policy watcher: policy is stale, still enforcing last known policy",
		)
		w.staleLogged = true
		if w.metrics != nil {
			w.metrics.SetPolicyStale(true)
		}
	}
}

// checkOnce performs a single poll-compare-swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncPolicyPolls()
	}

	doc, version, err := w.loader.FetchDocument(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: SSM poll failed")
		if w.metrics != nil {
			w.metrics.IncPolicyError("ssm")
		}
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetPolicyLastSuccess(float64(now.Unix()))
	}

	if version == w.currentVersion {
		return pollNoChange
	}

	snap, err := w.loader.Parse(doc, version)
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: new document rejected, keeping current policy",
			"rejected_version", version,
			"current_version", w.currentVersion,
		)
		if w.metrics != nil {
			w.metrics.IncPolicyError("parse")
		}
		return pollParseError
	}

	oldVersion := w.currentVersion
	w.manager.Set(*snap)
	w.currentVersion = version
	w.swapCount++

	w.logger.Info(ctx, "policy watcher: policy swapped",
		"old_version", oldVersion,
		"new_version", version,
		"daily_ceiling", snap.Policy.DailyCeiling,
		"cooldown", snap.Policy.Cooldown.String(),
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncPolicySwaps()
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"policy watcher: OnSwap callback panicked, continuing",
						"version", version,
					)
				}
			}()
			w.onSwap(snap.Policy, version)
		}()
	}

	return pollSwapped
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
