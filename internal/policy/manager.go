package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// Source identifies where the active policy came from.
type Source string

const (
	SourceUnknown Source = "unknown"
	SourceDefault Source = "default"
	SourceSSM     Source = "ssm"
)

// Snapshot is an active policy plus where and when it was loaded.
type Snapshot struct {
	Policy   Policy
	Source   Source
	Version  string
	LoadedAt time.Time
}

type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set swaps in a new snapshot
func (m *Manager) Set(s Snapshot) {
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get returns the active snapshot, ok is false until Set has been called.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil
}

// Policy returns the active policy, or Default() if nothing was set yet.
func (m *Manager) Policy() Policy {
	if s := m.active.Load(); s != nil {
		return s.Policy
	}
	return Default()
}

// Source returns the source of the active policy, or SourceUnknown
func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Source
	}
	return SourceUnknown
}

// Version returns the version of the active policy document, "" if none
func (m *Manager) Version() string {
	if s := m.active.Load(); s != nil {
		return s.Version
	}
	return ""
}

// LoadedAt returns when the active policy was loaded, zero if none
func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.LoadedAt
	}
	return time.Time{}
}

// ReadyErr returns nil once a policy has been set.
func (m *Manager) ReadyErr() error {
	if m.active.Load() == nil {
		return xerrors.New("no rate limit policy loaded")
	}
	return nil
}

// Check satisfies health.Probe
func (m *Manager) Check(context.Context) error { return m.ReadyErr() }
