package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory(context.Background())

	v, ok, err := m.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if ok || v != "" {
		t.Fatalf("Get missing = (%q, %v), want (\"\", false)", v, ok)
	}
}

func TestMemory_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ctx)

	if err := m.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("Get = (%q, %v, %v), want (\"1\", true, nil)", v, ok, err)
	}

	if err := m.Set(ctx, "a", "2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _, _ := m.Get(ctx, "a"); v != "2" {
		t.Fatalf("after overwrite got %q, want 2", v)
	}

	if err := m.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatal("key should be gone after Remove")
	}

	// removing a missing key is not an error
	if err := m.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func TestMemory_NoTTLKeepsKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(ctx)
	_ = m.Set(ctx, "k", "v")

	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("key without TTL should not expire")
	}
}

func TestMemory_ExpiredKeyHiddenOnGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx, WithTTL(30*time.Millisecond))

	_ = m.Set(ctx, "k", "v")
	time.Sleep(45 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key idle past TTL should read as missing")
	}
}

func TestMemory_CleanupEvicts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx, WithTTL(50*time.Millisecond))

	_ = m.Set(ctx, "k", "v")
	if m.size() != 1 {
		t.Fatalf("size = %d, want 1", m.size())
	}

	// wait for TTL + cleanup interval (TTL/2) + buffer
	time.Sleep(120 * time.Millisecond)

	if m.size() != 0 {
		t.Fatalf("size = %d after TTL, want 0 (evicted)", m.size())
	}
}

func TestMemory_ReadRefreshesTTL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory(ctx, WithTTL(80*time.Millisecond))

	_ = m.Set(ctx, "k", "v")
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, ok, _ := m.Get(ctx, "k"); !ok {
			t.Fatalf("key evicted on read %d despite activity", i+1)
		}
	}
}
