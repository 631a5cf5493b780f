package health

import (
	"encoding/json"
	"net/http"
)

type probeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// HealthzHandler answers 200 while p passes and 503 with the reason otherwise.
func HealthzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p, "ok")
}

// ReadyzHandler is HealthzHandler with a "ready" status, for load balancer target checks.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return probeHandler(p, "ready")
}

// nil probe always passes
func probeHandler(p Probe, okStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, resp := http.StatusOK, probeResponse{Status: okStatus}
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				code, resp = http.StatusServiceUnavailable, probeResponse{Status: "unavailable", Reason: err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
