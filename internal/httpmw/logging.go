package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// maxUserAgent bounds the user agent copied into log records.
const maxUserAgent = 256

// WithLogger derives a request logger from base and stores it in the request
// context. It expects RequestID and ClientIP to run before it.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			reqID := RequestIDFromContext(ctx)
			scheme := schemeFromRequest(r)

			fields := []any{
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, "user_agent.original", truncate(ua, maxUserAgent))
			}

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			ctx = log.WithContext(ctx, base.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// SkipPaths are exact paths never logged, probes by default.
	SkipPaths []string
}

var defaultSkipPaths = []string{"/-/healthy", "/-/ready"}

// AccessLog writes one record per request once the handler returns. Server
// errors log at warn so they surface without a stack trace.
func AccessLog(opts ...AccessLogOptions) func(http.Handler) http.Handler {
	skip := map[string]struct{}{}
	paths := defaultSkipPaths
	if len(opts) > 0 && opts[0].SkipPaths != nil {
		paths = opts[0].SkipPaths
	}
	for _, p := range paths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w, r, start)

			next.ServeHTTP(sw, r)
			sw.finish()

			if _, ok := skip[r.URL.Path]; ok {
				return
			}

			ctx := r.Context()
			var reqBytes int64
			if r.ContentLength > 0 {
				reqBytes = r.ContentLength
			}

			kv := []any{
				"http.response.status_code", sw.Status(),
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", sw.bytes,
				"http.request.body.size", reqBytes,
				"http.route", routePattern(r),
			}
			logAtStatus(ctx, log.FromContext(ctx), sw.Status(), kv)
		})
	}
}

func logAtStatus(ctx context.Context, L log.Logger, status int, kv []any) {
	if status >= http.StatusInternalServerError {
		L.Warn(ctx, "http request", kv...)
		return
	}
	L.Info(ctx, "http request", kv...)
}

// schemeFromRequest prefers the scheme the load balancer saw. Anything other
// than http or https in X-Forwarded-Proto is ignored.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		switch s := strings.ToLower(strings.TrimSpace(first)); s {
		case "http", "https":
			return s
		}
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Scope tags the request logger and span with the handler group serving it.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
