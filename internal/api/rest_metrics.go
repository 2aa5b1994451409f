package api

import (
	"net/http"

	"flowspec/internal/metrics"
)

// handleMetrics exposes workflow and activity counters in Prometheus text
// format.
func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := metrics.Default.WritePrometheus(w); err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to write metrics"}
	}
	return nil
}
