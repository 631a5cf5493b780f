package kv

import (
	"context"
	"testing"
)

func TestNamespace_PrefixesKeys(t *testing.T) {
	ctx := context.Background()
	base := NewMemory(ctx)
	a := Namespace(base, "visitor:a:")
	b := Namespace(base, "visitor:b:")

	if err := a.Set(ctx, "count", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, ok, _ := base.Get(ctx, "visitor:a:count"); !ok || v != "1" {
		t.Fatalf("underlying key = (%q, %v), want (\"1\", true)", v, ok)
	}
	if _, ok, _ := b.Get(ctx, "count"); ok {
		t.Fatal("namespaces must not see each other's keys")
	}

	if err := a.Remove(ctx, "count"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if base.size() != 0 {
		t.Fatalf("base size = %d after Remove, want 0", base.size())
	}
}

func TestNamespace_EmptyPrefixReturnsStore(t *testing.T) {
	base := NewMemory(context.Background())
	if got := Namespace(base, ""); got != Store(base) {
		t.Fatal("empty prefix should return the wrapped store unchanged")
	}
}
