package kv

import (
	"context"
	"errors"
)

// ErrUnavailable matches every error from a store that could not be reached.
var ErrUnavailable = errors.New("kv: store unavailable")

// Scope names the lifetime of a store, used for log and metric labels.
type Scope string

const (
	Persistent Scope = "persistent"
	Session    Scope = "session"
)

// Store is a fallible string key/value store.
// Get reports ok=false with a nil error when the key does not exist.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// namespaced prefixes every key before handing it to the wrapped store.
type namespaced struct {
	next   Store
	prefix string
}

// Namespace returns a Store that keeps all keys under prefix.
// An empty prefix returns next unchanged.
func Namespace(next Store, prefix string) Store {
	if prefix == "" {
		return next
	}
	return &namespaced{next: next, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.next.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.next.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	return n.next.Remove(ctx, n.prefix+key)
}
