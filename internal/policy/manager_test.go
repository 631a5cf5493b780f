package policy

import (
	"context"
	"testing"
	"time"
)

func TestManager_EmptyDefaults(t *testing.T) {
	m := NewManager()

	if _, ok := m.Get(); ok {
		t.Fatal("Get on empty manager should report ok=false")
	}
	if m.Policy() != Default() {
		t.Fatal("empty manager should hand out Default()")
	}
	if m.Source() != SourceUnknown {
		t.Fatalf("Source = %q, want %q", m.Source(), SourceUnknown)
	}
	if m.Version() != "" {
		t.Fatalf("Version = %q, want empty", m.Version())
	}
	if !m.LoadedAt().IsZero() {
		t.Fatal("LoadedAt should be zero before Set")
	}
	if err := m.Check(context.Background()); err == nil {
		t.Fatal("Check should fail before a policy is loaded")
	}
}

func TestManager_SetGet(t *testing.T) {
	m := NewManager()
	p := Default()
	p.DailyCeiling = 5

	m.Set(Snapshot{Policy: p, Source: SourceSSM, Version: "abc123"})

	snap, ok := m.Get()
	if !ok {
		t.Fatal("Get should report ok after Set")
	}
	if snap.Policy.DailyCeiling != 5 {
		t.Fatalf("DailyCeiling = %d, want 5", snap.Policy.DailyCeiling)
	}
	if m.Source() != SourceSSM || m.Version() != "abc123" {
		t.Fatalf("Source/Version = %q/%q", m.Source(), m.Version())
	}
	if m.LoadedAt().IsZero() {
		t.Fatal("Set should stamp LoadedAt")
	}
	if err := m.ReadyErr(); err != nil {
		t.Fatalf("ReadyErr after Set: %v", err)
	}
}

func TestManager_SetKeepsExplicitLoadedAt(t *testing.T) {
	m := NewManager()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Set(Snapshot{Policy: Default(), Source: SourceDefault, LoadedAt: at})
	if !m.LoadedAt().Equal(at) {
		t.Fatalf("LoadedAt = %v, want %v", m.LoadedAt(), at)
	}
}

func TestManager_SetCopies(t *testing.T) {
	m := NewManager()
	s := Snapshot{Policy: Default(), Source: SourceDefault}
	m.Set(s)

	s.Policy.DailyCeiling = 9
	if m.Policy().DailyCeiling == 9 {
		t.Fatal("manager should hold a copy, not the caller's value")
	}
}
