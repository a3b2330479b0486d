package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/metricsagg"
)

type metricsHandler struct {
	aggregator *metricsagg.Aggregator
	scaling    metricsagg.ScalingConfig
	logger     *zap.Logger
}

func newMetricsHandler(agg *metricsagg.Aggregator, scaling metricsagg.ScalingConfig, logger *zap.Logger) *metricsHandler {
	return &metricsHandler{aggregator: agg, scaling: scaling, logger: logger.Named("api.metrics")}
}

// Snapshot returns the most recent metrics snapshot (spec §4.7).
func (h *metricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	Ok(w, h.aggregator.Latest())
}

// Recommendations returns the current advisory scaling recommendations
// (spec §4.7). These are advisory only — the orchestrator never acts on
// them directly.
func (h *metricsHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	snap := h.aggregator.Latest()
	Ok(w, metricsagg.Recommendations(snap, h.scaling))
}

// AlertStatus returns the derived overall-health classification (spec
// §4.7's alertStatus() view).
func (h *metricsHandler) AlertStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.aggregator.Latest()
	Ok(w, map[string]any{
		"status":    metricsagg.ClassifyAlertStatus(snap),
		"timestamp": snap.Timestamp,
	})
}

// Healthz is the liveness probe — it reports the process is up and serving,
// independent of fleet health.
func (h *metricsHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	Ok(w, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe — it reports whether the orchestrator has
// produced at least one metrics snapshot, meaning its background loops are
// running.
func (h *metricsHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	snap := h.aggregator.Latest()
	if snap.Timestamp.IsZero() {
		errEnvelope(w, http.StatusServiceUnavailable, "no metrics snapshot yet")
		return
	}
	Ok(w, map[string]string{"status": "ready"})
}
