// Package kv is the string key/value storage the contact form tracker reads
// and writes through.
//
// Two lifetimes exist, mirroring what a browser offers a page:
//   - Persistent: survives across visits (one key space per visitor cookie)
//   - Session: lives as long as the browser session cookie
//
// Every operation returns an explicit error so callers decide what a failure
// means. The tracker treats a failing store as "unavailable" and degrades
// instead of failing the request.
package kv
