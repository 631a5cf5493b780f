package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PolicyInfo reports the identity of the active submission policy.
// *policy.Manager satisfies it.
type PolicyInfo interface {
	Version() string
}

// PolicyHeaders adds X-Contact-Policy-Version to responses and the trace span
// so a rollout can be correlated with changes in rejection rates. Only the
// document hash is exposed, never the limits themselves.
func PolicyHeaders(info PolicyInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if v := info.Version(); v != "" {
					// hash prefix only
					if len(v) > 12 {
						v = v[:12]
					}
					w.Header().Set("X-Contact-Policy-Version", v)
					if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
						span.SetAttributes(attribute.String("contact.policy.version", v))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
