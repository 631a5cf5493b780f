package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// spyMetrics records watcher metric calls
type spyMetrics struct {
	polls     atomic.Int32
	swaps     atomic.Int32
	errs      map[string]int
	stale     atomic.Bool
	lastOkSet atomic.Bool
}

func newSpyMetrics() *spyMetrics { return &spyMetrics{errs: make(map[string]int)} }

func (s *spyMetrics) IncPolicyPolls()               { s.polls.Add(1) }
func (s *spyMetrics) IncPolicySwaps()               { s.swaps.Add(1) }
func (s *spyMetrics) IncPolicyError(errType string) { s.errs[errType]++ }
func (s *spyMetrics) SetPolicyLastSuccess(float64)  { s.lastOkSet.Store(true) }
func (s *spyMetrics) SetPolicyStale(stale bool)     { s.stale.Store(stale) }

type watcherFixture struct {
	ssm     *fakeSSM
	loader  *Loader
	mgr     *Manager
	metrics *spyMetrics
	swaps   []string
}

func newWatcherFixture(t *testing.T, doc string) *watcherFixture {
	t.Helper()
	fake := ssmWithValue(doc)
	return &watcherFixture{
		ssm:     fake,
		loader:  newTestLoader(t, fake),
		mgr:     NewManager(),
		metrics: newSpyMetrics(),
	}
}

func (f *watcherFixture) newWatcher(opts ...func(*WatcherOptions)) *Watcher {
	wopts := WatcherOptions{
		Logger:       log.Nop(),
		Loader:       f.loader,
		Manager:      f.mgr,
		PollInterval: time.Hour,
		Metrics:      f.metrics,
		OnSwap: func(_ Policy, version string) {
			f.swaps = append(f.swaps, version)
		},
	}
	for _, o := range opts {
		o(&wopts)
	}
	return NewWatcher(wopts)
}

func TestCheckOnce_SwapsNewDocument(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	w := f.newWatcher()

	if got := w.checkOnce(context.Background()); got != pollSwapped {
		t.Fatalf("checkOnce = %d, want pollSwapped", got)
	}
	if f.mgr.Policy().DailyCeiling != 4 {
		t.Fatalf("DailyCeiling = %d, want 4", f.mgr.Policy().DailyCeiling)
	}
	if len(f.swaps) != 1 {
		t.Fatalf("OnSwap called %d times, want 1", len(f.swaps))
	}
	if f.metrics.swaps.Load() != 1 || f.metrics.polls.Load() != 1 {
		t.Fatalf("metrics polls=%d swaps=%d, want 1/1", f.metrics.polls.Load(), f.metrics.swaps.Load())
	}
	if !f.metrics.lastOkSet.Load() {
		t.Fatal("last success should be recorded")
	}
}

func TestCheckOnce_NoChange(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	w := f.newWatcher()

	w.checkOnce(context.Background())
	if got := w.checkOnce(context.Background()); got != pollNoChange {
		t.Fatalf("second checkOnce = %d, want pollNoChange", got)
	}
	if len(f.swaps) != 1 {
		t.Fatalf("OnSwap called %d times, want 1", len(f.swaps))
	}
}

func TestCheckOnce_SeedsVersionFromManager(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	if err := f.loader.LoadIntoManager(context.Background(), f.mgr); err != nil {
		t.Fatalf("LoadIntoManager: %v", err)
	}
	w := f.newWatcher()

	if got := w.checkOnce(context.Background()); got != pollNoChange {
		t.Fatalf("checkOnce = %d, want pollNoChange for already loaded version", got)
	}
}

func TestCheckOnce_SSMError(t *testing.T) {
	f := newWatcherFixture(t, `{}`)
	f.ssm.set("", errors.New("throttled"))
	w := f.newWatcher()

	if got := w.checkOnce(context.Background()); got != pollSSMError {
		t.Fatalf("checkOnce = %d, want pollSSMError", got)
	}
	if f.metrics.errs["ssm"] != 1 {
		t.Fatalf("ssm errors = %d, want 1", f.metrics.errs["ssm"])
	}
}

func TestCheckOnce_InvalidDocumentKeepsPolicy(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	w := f.newWatcher()
	w.checkOnce(context.Background())

	f.ssm.set(`{"daily_ceiling":-1}`, nil)
	if got := w.checkOnce(context.Background()); got != pollParseError {
		t.Fatalf("checkOnce = %d, want pollParseError", got)
	}
	if f.mgr.Policy().DailyCeiling != 4 {
		t.Fatal("rejected document must not replace the active policy")
	}
	if f.metrics.errs["parse"] != 1 {
		t.Fatalf("parse errors = %d, want 1", f.metrics.errs["parse"])
	}
}

func TestCheckOnce_OnSwapPanicRecovered(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	w := f.newWatcher(func(o *WatcherOptions) {
		o.OnSwap = func(Policy, string) { panic("boom") }
	})

	if got := w.checkOnce(context.Background()); got != pollSwapped {
		t.Fatalf("checkOnce = %d, want pollSwapped despite panicking callback", got)
	}
}

func TestBackoffDuration(t *testing.T) {
	f := newWatcherFixture(t, `{}`)
	w := f.newWatcher(func(o *WatcherOptions) { o.PollInterval = time.Minute })

	tests := []struct {
		errs int
		want time.Duration
	}{
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, maxBackoff},
		{10, maxBackoff},
	}
	for _, tt := range tests {
		w.consecutiveErrs = tt.errs
		if got := w.backoffDuration(); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.errs, got, tt.want)
		}
	}
}

func TestTrackStaleness(t *testing.T) {
	f := newWatcherFixture(t, `{}`)
	w := f.newWatcher(func(o *WatcherOptions) { o.StaleThreshold = time.Millisecond })
	w.lastSuccessAt = time.Now().Add(-time.Second)

	w.trackStaleness(context.Background(), pollSSMError)
	if !f.metrics.stale.Load() || !w.staleLogged {
		t.Fatal("watcher should report stale after threshold")
	}

	w.trackStaleness(context.Background(), pollNoChange)
	if f.metrics.stale.Load() || w.staleLogged {
		t.Fatal("watcher should clear staleness after a successful poll")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newWatcherFixture(t, `{"daily_ceiling":4}`)
	w := f.newWatcher(func(o *WatcherOptions) { o.PollInterval = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// let at least one poll happen
	deadline := time.Now().Add(2 * time.Second)
	for f.metrics.polls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if f.mgr.Policy().DailyCeiling != 4 {
		t.Fatal("Run should have swapped in the SSM policy")
	}
}
