// Package metricsagg implements the Metrics Aggregator (spec §4.7):
// periodic snapshot production from the live registries, prometheus export,
// and the recommendations()/alertStatus() advisory surfaces.
//
// The prometheus.GaugeVec declarations below are grounded on
// cuemby-warren's pkg/metrics.metrics.go ("package-level Gauge/GaugeVec
// vars, Collector.collect() refreshes them on a ticker"); the periodic
// cadence itself reuses the same gocron singleton-job wiring as
// internal/healthloop, grounded on arkeep-io-arkeep's internal/scheduler.
package metricsagg

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	roomServersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_room_servers_total",
		Help: "Total number of registered room servers.",
	})
	recordersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_recorders_total",
		Help: "Total number of registered recorder nodes.",
	})
	activeRecordingsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_active_recordings_total",
		Help: "Number of recording jobs currently in initializing or recording status.",
	})
	queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_queue_length",
		Help: "Number of recording jobs waiting for a recorder.",
	})
	unhealthyNodesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_unhealthy_nodes_total",
		Help: "Number of room servers and recorders currently marked unhealthy.",
	})
	capacityUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_capacity_utilization_ratio",
		Help: "Fleet-wide recorder load divided by fleet-wide recorder capacity.",
	})
	regionalAvgLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_regional_avg_load_ratio",
		Help: "Average recorder load ratio per region.",
	}, []string{"region"})
)

// Collectors returns every gauge this package registers, for the caller to
// pass to a prometheus.Registry at startup.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		roomServersTotal,
		recordersTotal,
		activeRecordingsTotal,
		queueLength,
		unhealthyNodesTotal,
		capacityUtilization,
		regionalAvgLoad,
	}
}
