package metricsagg

import "github.com/mediaorch/orchestrator/internal/domain"

// ScalingConfig carries the Metrics Aggregator's advisory thresholds (spec
// §6: autoScaling.{min,max}Nodes, scaleUp/DownThreshold). Recommendations
// are advisory only — the orchestrator never provisions or decommissions
// nodes autonomously (spec §4.7).
type ScalingConfig struct {
	MinNodes          int
	MaxNodes          int
	ScaleUpThreshold  float64
	ScaleDownThreshold float64
}

// Priority is the urgency of a scaling recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Direction is whether a recommendation advises growing or shrinking a
// region's recorder pool.
type Direction string

const (
	DirectionScaleUp   Direction = "scale-up"
	DirectionScaleDown Direction = "scale-down"
)

// Recommendation is one advisory entry.
type Recommendation struct {
	Region    string // empty for a global recommendation
	Direction Direction
	Priority  Priority
	Delta     int
	Reason    string
}

// Recommendations implements spec §4.7's recommendations() rules over the
// most recent snapshot.
func Recommendations(snap domain.MetricsSnapshot, cfg ScalingConfig) []Recommendation {
	var out []Recommendation

	for _, rt := range snap.Regional {
		avgLoadPct := rt.AvgLoad * 100

		if avgLoadPct > cfg.ScaleUpThreshold {
			priority := PriorityMedium
			delta := 1
			switch {
			case avgLoadPct > 90:
				priority = PriorityCritical
				delta = 2
			case avgLoadPct > 85:
				priority = PriorityHigh
			}
			out = append(out, Recommendation{
				Region:    rt.Region,
				Direction: DirectionScaleUp,
				Priority:  priority,
				Delta:     delta,
				Reason:    "regional average load exceeds scale-up threshold",
			})
			continue
		}

		if avgLoadPct < cfg.ScaleDownThreshold && rt.RecorderNodes > cfg.MinNodes {
			delta := -1
			if rt.RecorderNodes+delta < cfg.MinNodes {
				delta = cfg.MinNodes - rt.RecorderNodes
			}
			if delta != 0 {
				out = append(out, Recommendation{
					Region:    rt.Region,
					Direction: DirectionScaleDown,
					Priority:  PriorityLow,
					Delta:     delta,
					Reason:    "regional average load below scale-down threshold",
				})
			}
		}
	}

	if snap.QueueLength > 10 {
		out = append(out, Recommendation{
			Direction: DirectionScaleUp,
			Priority:  PriorityHigh,
			Delta:     1,
			Reason:    "global pending queue exceeds 10 jobs",
		})
	}

	return out
}

// AlertStatus is the derived overall-health classification.
type AlertStatus string

const (
	AlertCritical AlertStatus = "critical"
	AlertWarning  AlertStatus = "warning"
	AlertCaution  AlertStatus = "caution"
	AlertHealthy  AlertStatus = "healthy"
)

// ClassifyAlertStatus implements spec §4.7's alertStatus() derived view.
func ClassifyAlertStatus(snap domain.MetricsSnapshot) AlertStatus {
	utilization := 0.0
	if snap.TotalCapacity > 0 {
		utilization = float64(snap.TotalLoad) / float64(snap.TotalCapacity)
	}

	overloadedRegions := 0
	for _, rt := range snap.Regional {
		if rt.AvgLoad > 0.9 {
			overloadedRegions++
		}
	}

	switch {
	case utilization > 0.9 || snap.QueueLength > 20 || overloadedRegions > 0:
		return AlertCritical
	case utilization > 0.8 || snap.QueueLength > 10 || snap.UnhealthyNodes > 2:
		return AlertWarning
	case utilization > 0.6 || snap.QueueLength > 0 || snap.UnhealthyNodes > 0:
		return AlertCaution
	default:
		return AlertHealthy
	}
}
