package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-contact/internal/health"
	"github.com/keithlinneman/linnemanlabs-contact/internal/policy"
	"github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

// PolicySource exposes the active policy snapshot. *policy.Manager satisfies it.
type PolicySource interface {
	Get() (*policy.Snapshot, bool)
}

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Probe
	Readiness    health.Probe
	UseRecoverMW bool
	OnPanic      func() // optional, e.g. the panic counter

	// Policy, Build and Store feed /-/status, any may be nil
	Policy PolicySource
	Build  *version.Info

	// Store is reported on /-/status but never gates readiness. The guard
	// degrades to session storage while it is down.
	Store health.Probe
}
