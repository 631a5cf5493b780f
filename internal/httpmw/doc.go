// Package httpmw provides HTTP middleware for the public contact api.
//
// httpserver.NewHandler composes it outermost first: security headers,
// recover, request ID, client IP resolution, rate limiting, tracing,
// policy version headers, metrics, request logger and the chi router, with
// route annotation, access logging and body limits mounted on the router.
//
// Query strings and request bodies never reach the logs. The user agent is
// logged truncated, and form fields are redacted by the logger itself.
package httpmw
