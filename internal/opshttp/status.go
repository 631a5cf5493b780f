package opshttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/health"
	"github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

const storeCheckTimeout = 2 * time.Second

type policyStatus struct {
	Source            string  `json:"source"`
	Version           string  `json:"version"`
	LoadedAt          string  `json:"loaded_at"`
	AgeSeconds        float64 `json:"age_seconds"`
	DailyCeiling      int     `json:"daily_ceiling"`
	CooldownSeconds   float64 `json:"cooldown_seconds"`
	SanityCeiling     int     `json:"sanity_ceiling"`
	LastSubmissionTTL string  `json:"last_submission_ttl"`
	FormStartTTL      string  `json:"form_start_ttl"`
}

type storeStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type statusResponse struct {
	Build  *version.Info `json:"build,omitempty"`
	Policy *policyStatus `json:"policy"`
	Store  *storeStatus  `json:"store,omitempty"`
}

// statusHandler reports the build and the full active policy. The public
// listener only exposes a version hash, the limits stay on this port.
func statusHandler(opts *Options, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Build: opts.Build}
		if src := opts.Policy; src != nil {
			if s, ok := src.Get(); ok {
				resp.Policy = &policyStatus{
					Source:            string(s.Source),
					Version:           s.Version,
					LoadedAt:          s.LoadedAt.UTC().Format(time.RFC3339),
					AgeSeconds:        now().Sub(s.LoadedAt).Round(time.Second).Seconds(),
					DailyCeiling:      s.Policy.DailyCeiling,
					CooldownSeconds:   s.Policy.Cooldown.Seconds(),
					SanityCeiling:     s.Policy.SanityCeiling,
					LastSubmissionTTL: s.Policy.LastSubmissionTTL.String(),
					FormStartTTL:      s.Policy.FormStartTTL.String(),
				}
			}
		}
		if opts.Store != nil {
			resp.Store = &storeStatus{Status: "ok"}
			if err := health.Timeout(opts.Store, storeCheckTimeout).Check(r.Context()); err != nil {
				resp.Store = &storeStatus{Status: "unavailable", Reason: err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
