package healthhttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
)

// HealthzHandler: 200 "ok" when the probe passes, 503 with its description otherwise.
// A nil probe always passes.
func HealthzHandler(p health.Probe) http.HandlerFunc {
	return probeHandler(p, "ok\n")
}

// ReadyzHandler: 200 "ready" when the probe passes, 503 with its description otherwise.
func ReadyzHandler(p health.Probe) http.HandlerFunc {
	return probeHandler(p, "ready\n")
}

func probeHandler(p health.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			out, err := p.Run(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if !out.Healthy() {
				http.Error(w, out.Description, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", health.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}
