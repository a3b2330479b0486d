package metricsagg

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/store"
)

const tickTag = "metrics-aggregator-tick"

// Aggregator runs the periodic snapshot tick.
type Aggregator struct {
	cron gocron.Scheduler

	registry *registry.Registry
	jobs     *jobstore.Store
	repo     store.Repository
	bus      *eventbus.Bus

	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	latest domain.MetricsSnapshot
}

// New builds an Aggregator. Call Start to begin ticking.
func New(
	interval time.Duration,
	reg *registry.Registry,
	jobs *jobstore.Store,
	repo store.Repository,
	bus *eventbus.Bus,
	logger *zap.Logger,
) (*Aggregator, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("metricsagg: create gocron scheduler: %w", err)
	}

	return &Aggregator{
		cron:     cron,
		registry: reg,
		jobs:     jobs,
		repo:     repo,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		logger:   logger.Named("metricsagg"),
	}, nil
}

// Start registers the tagged snapshot job in singleton mode and starts the
// scheduler.
func (a *Aggregator) Start() error {
	_, err := a.cron.NewJob(
		gocron.DurationJob(a.interval),
		gocron.NewTask(a.tick),
		gocron.WithTags(tickTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("metricsagg: schedule tick: %w", err)
	}
	a.cron.Start()
	a.logger.Info("metrics aggregator started", zap.Duration("interval", a.interval))
	return nil
}

// Stop gracefully shuts down the aggregator.
func (a *Aggregator) Stop() error {
	if err := a.cron.Shutdown(); err != nil {
		return fmt.Errorf("metricsagg: shutdown: %w", err)
	}
	a.logger.Info("metrics aggregator stopped")
	return nil
}

// Latest returns the most recently produced snapshot.
func (a *Aggregator) Latest() domain.MetricsSnapshot {
	return a.latest
}

func (a *Aggregator) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()

	snap := a.snapshot()
	a.latest = snap
	a.publishGauges(snap)
	a.bus.Publish(eventbus.Event{Class: eventbus.ClassMetrics, Type: "metrics.snapshot", Payload: snap})

	if err := a.repo.AppendMetricsSnapshot(ctx, snap); err != nil {
		a.logger.Warn("append metrics snapshot failed, skipping this tick's persistence", zap.Error(err))
	}
}

// snapshot implements the read-only aggregation described in spec §4.7.
func (a *Aggregator) snapshot() domain.MetricsSnapshot {
	roomServers, recorders := a.registry.SnapshotAll()

	snap := domain.MetricsSnapshot{
		Timestamp:        a.now(),
		TotalRoomServers: len(roomServers),
		TotalRecorders:   len(recorders),
		QueueLength:      a.jobs.QueueLength(),
	}

	activeJobs := a.jobs.ListActive(jobstore.Filters{})
	for _, j := range activeJobs {
		if j.Status == domain.StatusInitializing || j.Status == domain.StatusRecording {
			snap.ActiveRecordings++
		}
	}

	regions := make(map[string]*domain.RegionTotals)
	regionFor := func(region string) *domain.RegionTotals {
		rt, ok := regions[region]
		if !ok {
			rt = &domain.RegionTotals{Region: region}
			regions[region] = rt
		}
		return rt
	}

	for _, rs := range roomServers {
		rt := regionFor(rs.Region)
		rt.RoomServers++
		if !rs.IsHealthy {
			snap.UnhealthyNodes++
		}
	}
	for _, rn := range recorders {
		rt := regionFor(rn.Region)
		rt.RecorderNodes++
		rt.Capacity += rn.Capacity
		rt.Load += rn.CurrentLoad
		snap.TotalCapacity += rn.Capacity
		snap.TotalLoad += rn.CurrentLoad
		if !rn.IsHealthy {
			snap.UnhealthyNodes++
		}
	}

	for _, rt := range regions {
		if rt.Capacity > 0 {
			rt.AvgLoad = float64(rt.Load) / float64(rt.Capacity)
		}
		snap.Regional = append(snap.Regional, *rt)
	}

	return snap
}

func (a *Aggregator) publishGauges(snap domain.MetricsSnapshot) {
	roomServersTotal.Set(float64(snap.TotalRoomServers))
	recordersTotal.Set(float64(snap.TotalRecorders))
	activeRecordingsTotal.Set(float64(snap.ActiveRecordings))
	queueLength.Set(float64(snap.QueueLength))
	unhealthyNodesTotal.Set(float64(snap.UnhealthyNodes))
	if snap.TotalCapacity > 0 {
		capacityUtilization.Set(float64(snap.TotalLoad) / float64(snap.TotalCapacity))
	} else {
		capacityUtilization.Set(0)
	}
	for _, rt := range snap.Regional {
		regionalAvgLoad.WithLabelValues(rt.Region).Set(rt.AvgLoad)
	}
}
