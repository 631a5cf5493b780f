// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries, mounted in front of the contact api.
//
// This is a single-instance, in-memory rate limiter. It complements the
// per-visitor submission guard, which a client can sidestep by discarding
// cookies, and does not protect against distributed attacks. For those, use
// an upstream WAF or CDN-level rate limiting.
package ratelimit
