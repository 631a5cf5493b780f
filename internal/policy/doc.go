// Package policy holds the contact form rate-limit policy and keeps it
// current.
//
// The active [Policy] lives in a [Manager] behind an atomic pointer so the
// request path never blocks on a reload. A [Loader] reads a JSON policy
// document from an SSM parameter and a [Watcher] polls it, swapping in new
// documents only after they validate. Without SSM the compiled-in defaults
// (plus any flag overrides) are used for the life of the process.
//
// Two ceilings exist and must not be confused:
//   - DailyCeiling is the enforced number of submissions per visitor per day
//   - SanityCeiling is only a corruption threshold; stored counters above it
//     are treated as garbage and reset
package policy
