package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contact/internal/health"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // optional, called when a panic is recovered
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	PolicyInfo   httpmw.PolicyInfo // for X-Contact-Policy-Version

	// APIRoutes registers the application routes on the router
	APIRoutes func(chi.Router)

	// NotFound overrides the JSON 404/405 responses for unmatched routes
	NotFound http.Handler

	// MaxBodyBytes caps request bodies, 0 uses DefaultMaxBodyBytes
	MaxBodyBytes int64

	// ShutdownTimeout bounds the drain in stop, 0 uses DefaultShutdownTimeout
	ShutdownTimeout time.Duration
}
