package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPrefix = "lmcontact-test:"

// newTestRedis runs an in-process server and wraps a client for it.
func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testPrefix, ttl)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestNewRedis_URL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty", "", true},
		{"wrong scheme", "http://not-redis", true},
		{"valid", "redis://127.0.0.1:6379/2", false},
		{"tls", "rediss://cache.internal:6380/0", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewRedis(RedisOptions{URL: tc.url})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if r != nil {
				_ = r.Close()
			}
		})
	}
}

func TestNewRedis_DoesNotDial(t *testing.T) {
	// nothing listens on port 1, construction still succeeds
	r, err := NewRedis(RedisOptions{URL: "redis://127.0.0.1:1/0"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	err = r.Check(context.Background())
	if err == nil {
		t.Fatal("Check against a closed port passed")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Check err = %v, want ErrUnavailable", err)
	}
}

func TestRedis_SetGetRemove(t *testing.T) {
	r, _ := newTestRedis(t, time.Minute)
	ctx := context.Background()

	if v, ok, err := r.Get(ctx, "missing"); err != nil || ok || v != "" {
		t.Fatalf("Get missing = (%q, %v, %v), want (\"\", false, nil)", v, ok, err)
	}
	if err := r.Set(ctx, "k", "42"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := r.Get(ctx, "k"); err != nil || !ok || v != "42" {
		t.Fatalf("Get = (%q, %v, %v), want (\"42\", true, nil)", v, ok, err)
	}
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("key should be gone after Remove")
	}
	if err := r.Remove(ctx, "never-set"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if err := r.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestRedis_KeyPrefix(t *testing.T) {
	r, mr := newTestRedis(t, 0)
	ctx := context.Background()

	if err := r.Set(ctx, "visitor:abc:2026-10-17", "3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists(testPrefix + "visitor:abc:2026-10-17") {
		t.Fatalf("keys = %v, want the prefixed name", mr.Keys())
	}
	if mr.Exists("visitor:abc:2026-10-17") {
		t.Fatal("unprefixed key written")
	}

	// a key written by another site sharing the database is invisible
	mr.Set("visitor:abc:2026-10-17", "99")
	if v, _, _ := r.Get(ctx, "visitor:abc:2026-10-17"); v != "3" {
		t.Fatalf("Get = %q, want the prefixed value", v)
	}
}

func TestRedis_TTL(t *testing.T) {
	t.Run("applied on write", func(t *testing.T) {
		r, mr := newTestRedis(t, 48*time.Hour)
		ctx := context.Background()
		if err := r.Set(ctx, "day", "1"); err != nil {
			t.Fatal(err)
		}
		if got := mr.TTL(testPrefix + "day"); got != 48*time.Hour {
			t.Fatalf("TTL = %v, want 48h", got)
		}

		// rewriting a counter refreshes the expiry
		mr.FastForward(47 * time.Hour)
		if err := r.Set(ctx, "day", "2"); err != nil {
			t.Fatal(err)
		}
		mr.FastForward(2 * time.Hour)
		if v, ok, _ := r.Get(ctx, "day"); !ok || v != "2" {
			t.Fatalf("Get after refresh = (%q, %v)", v, ok)
		}

		mr.FastForward(48 * time.Hour)
		if _, ok, err := r.Get(ctx, "day"); ok || err != nil {
			t.Fatalf("orphaned key still readable: ok=%v err=%v", ok, err)
		}
	})

	t.Run("zero keeps keys", func(t *testing.T) {
		r, mr := newTestRedis(t, 0)
		if err := r.Set(context.Background(), "day", "1"); err != nil {
			t.Fatal(err)
		}
		if got := mr.TTL(testPrefix + "day"); got != 0 {
			t.Fatalf("TTL = %v, want none", got)
		}
	})
}

func TestRedis_ServerDown(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()
	if err := r.Set(ctx, "k", "1"); err != nil {
		t.Fatal(err)
	}
	mr.Close()

	_, ok, err := r.Get(ctx, "k")
	if ok || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get = (ok=%v, err=%v), want ErrUnavailable", ok, err)
	}
	if err := r.Set(ctx, "k", "2"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set err = %v", err)
	}
	if err := r.Remove(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Remove err = %v", err)
	}
	if err := r.Check(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Check err = %v", err)
	}
}
