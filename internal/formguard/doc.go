// Package formguard limits how often a visitor may submit the contact form.
//
// It is abuse mitigation, not a security boundary: the state it keeps is
// owned by the visitor (a cookie away from being reset) and the server-side
// defenses behind the form are the real backstop. Because of that the
// package always leans permissive. Corrupted or stale state is discarded,
// and when storage cannot be reached the visitor is let through rather than
// locked out.
//
// State is kept as plain strings under fixed keys so it stays readable and
// stable across deploys:
//
//	submissions_<date>    persistent  submissions made on <date>
//	lastFormSubmission    persistent  epoch ms of the last accepted submission
//	formStartTime         session     epoch ms of the first form interaction
//	vpnCompatibilityMode  session     "true" once persistent storage failed
//
// <date> is rendered like ECMAScript's Date.prototype.toDateString
// ("Sat Oct 17 2026"), so a new calendar day starts a new counter and old
// counters are simply never read again.
//
// A [Guard] carries the shared configuration and hands out a [Tracker] per
// visitor. The host calls [Tracker.Sanitize] and [Tracker.TrackFormInteraction]
// when the contact view mounts, then [Tracker.TrySubmit] for each submission.
package formguard
