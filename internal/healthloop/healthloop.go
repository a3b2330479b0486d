// Package healthloop implements the Health Loop (spec §4.6): the sole
// source of failover. Grounded on arkeep-io-arkeep's internal/scheduler's
// gocron wiring — a single gocron.Scheduler, one tagged job in singleton
// mode so an overrunning tick is skipped rather than overlapped (spec §4.6
// "The loop is serial per tick; only one tick may be in-flight at a time").
package healthloop

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/dispatcher"
	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/placement"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/rpcclient"
)

const tickTag = "health-loop-tick"

// Loop runs the periodic health tick.
type Loop struct {
	cron gocron.Scheduler

	registry   *registry.Registry
	jobs       *jobstore.Store
	dispatcher *dispatcher.Dispatcher
	recorder   rpcclient.Recorder
	bus        *eventbus.Bus

	interval    time.Duration
	nodeTimeout time.Duration
	logger      *zap.Logger
}

// Config configures the Health Loop cadence (spec §6: healthCheckInterval,
// nodeTimeoutMs).
type Config struct {
	Interval    time.Duration
	NodeTimeout time.Duration
}

// New builds a Loop. Call Start to begin ticking.
func New(
	cfg Config,
	reg *registry.Registry,
	jobs *jobstore.Store,
	disp *dispatcher.Dispatcher,
	recorder rpcclient.Recorder,
	bus *eventbus.Bus,
	logger *zap.Logger,
) (*Loop, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("healthloop: create gocron scheduler: %w", err)
	}

	return &Loop{
		cron:        cron,
		registry:    reg,
		jobs:        jobs,
		dispatcher:  disp,
		recorder:    recorder,
		bus:         bus,
		interval:    cfg.Interval,
		nodeTimeout: cfg.NodeTimeout,
		logger:      logger.Named("healthloop"),
	}, nil
}

// Start registers the tagged tick job in singleton mode and starts the
// scheduler.
func (l *Loop) Start() error {
	_, err := l.cron.NewJob(
		gocron.DurationJob(l.interval),
		gocron.NewTask(l.tick),
		gocron.WithTags(tickTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("healthloop: schedule tick: %w", err)
	}
	l.cron.Start()
	l.logger.Info("health loop started", zap.Duration("interval", l.interval), zap.Duration("node_timeout", l.nodeTimeout))
	return nil
}

// Stop gracefully shuts down the loop, waiting for an in-flight tick.
func (l *Loop) Stop() error {
	if err := l.cron.Shutdown(); err != nil {
		return fmt.Errorf("healthloop: shutdown: %w", err)
	}
	l.logger.Info("health loop stopped")
	return nil
}

// tick runs the three steps of spec §4.6.
func (l *Loop) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), l.interval)
	defer cancel()

	staleRoomServers, staleRecorders := l.registry.ReapStale(l.nodeTimeout)
	if len(staleRoomServers) > 0 || len(staleRecorders) > 0 {
		l.logger.Warn("nodes reaped as unhealthy",
			zap.Strings("room_servers", staleRoomServers),
			zap.Strings("recorders", staleRecorders),
		)
	}

	for _, id := range staleRoomServers {
		l.reconcileRoomServerFailure(ctx, id)
	}
	for _, id := range staleRecorders {
		l.reconcileRecorderFailure(ctx, id)
	}

	l.drainQueue(ctx)
}

// reconcileRoomServerFailure implements spec §4.6 step 2's room-server path:
// every active job rooted at a now-unhealthy room server fails terminally,
// with a best-effort stop issued to its recorder.
func (l *Loop) reconcileRoomServerFailure(ctx context.Context, roomServerID string) {
	affected := l.jobs.ListActive(jobstore.Filters{RoomServerID: roomServerID})
	for _, job := range affected {
		if job.Status != domain.StatusRecording && job.Status != domain.StatusInitializing {
			continue
		}
		l.failJob(ctx, job, "room server became unhealthy")
	}

	for _, jobID := range l.jobs.QueueSnapshot() {
		job, err := l.jobs.Get(jobID)
		if err != nil || job.RoomServerID != roomServerID {
			continue
		}
		l.jobs.RemoveFromQueue(jobID)
		l.failJob(ctx, job, "room server became unhealthy")
	}
}

// reconcileRecorderFailure implements spec §4.6 step 2's recorder path:
// attempt reassignment of every job on the failed recorder via the
// Placement Engine over the remaining healthy recorders.
func (l *Loop) reconcileRecorderFailure(ctx context.Context, recorderID string) {
	affected := l.jobs.ListActive(jobstore.Filters{RecorderID: recorderID})
	for _, job := range affected {
		if job.Status != domain.StatusRecording && job.Status != domain.StatusInitializing {
			continue
		}
		l.reassign(ctx, job)
	}
}

// reassign looks up the job's original room server for its region hint
// (spec §9 Open Question: the source's failover path mistakenly used
// peerInfo.displayName as the region; the corrected behavior uses the
// original room server's region) and re-runs placement.
func (l *Loop) reassign(ctx context.Context, job domain.RecordingJob) {
	roomServer, err := l.registry.GetRoomServer(job.RoomServerID)
	if err != nil || !roomServer.IsHealthy {
		l.failJob(ctx, job, "no available recorders")
		return
	}

	candidates := l.registry.AllHealthyRecorders()
	recorder, ok := placement.Pick(candidates, placement.Requirement{
		Region:            roomServer.Region,
		CodecRequirements: codecsOf(job.RTPStreams),
		EstimatedLoad:     len(job.RTPStreams),
	})
	if !ok {
		l.failJob(ctx, job, "no available recorders")
		return
	}

	reset, err := l.jobs.ResetForReassignment(job.ID)
	if err != nil {
		l.logger.Error("reset for reassignment failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if _, err := l.dispatcher.Reassign(ctx, reset, recorder, roomServer); err != nil {
		l.logger.Warn("reassignment failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (l *Loop) failJob(ctx context.Context, job domain.RecordingJob, reason string) {
	if job.RecorderID != "" {
		if recorder, err := l.registry.GetRecorder(job.RecorderID); err == nil {
			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = l.recorder.StopRecording(stopCtx, recorder.Endpoint, job.ID)
			cancel()
			_ = l.registry.AdjustRecorderLoad(job.RecorderID, -1, "", job.ID)
		}
	}
	if err := l.registry.AdjustRoomServerLoad(job.RoomServerID, -1); err != nil {
		l.logger.Debug("adjust room server load on fail", zap.Error(err))
	}

	updated, err := l.jobs.Transition(job.ID, domain.StatusFailed, func(j *domain.RecordingJob) {
		j.ErrorMessage = reason
	})
	if err != nil {
		l.logger.Error("failJob transition error", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	l.jobs.Remove(updated.ID)
	l.bus.Publish(eventbus.Event{Class: eventbus.ClassRecordings, Type: "recording.failed", Payload: updated})
}

// drainQueue implements spec §4.6 step 3 and SPEC_FULL.md §12's
// priority-ordered drain: each pass pulls the highest-priority queued job
// via jobstore.Store.HighestPriorityMatching rather than FIFO order.
// Capacity accounting is local to this pass (reserved) so two queued jobs
// are never placed onto the same one-slot recorder within the same tick.
// skipped tracks jobs already evaluated this tick with no available
// recorder, re-enqueued for the next tick, so the loop terminates instead
// of re-picking the same unplaceable job forever.
func (l *Loop) drainQueue(ctx context.Context) {
	reserved := make(map[string]int)
	skipped := make(map[string]bool)

	for {
		job, ok := l.jobs.HighestPriorityMatching(func(j domain.RecordingJob) bool {
			return !skipped[j.ID]
		})
		if !ok {
			break
		}

		roomServer, err := l.registry.GetRoomServer(job.RoomServerID)
		if err != nil || !roomServer.IsHealthy {
			l.failJob(ctx, job, "room server became unhealthy")
			continue
		}

		candidates := l.withReservations(l.registry.AllHealthyRecorders(), reserved)
		recorder, ok := placement.Pick(candidates, placement.Requirement{
			Region:            roomServer.Region,
			CodecRequirements: codecsOf(job.RTPStreams),
			EstimatedLoad:     len(job.RTPStreams),
		})
		if !ok {
			skipped[job.ID] = true
			l.jobs.Enqueue(job.ID)
			continue
		}

		reserved[recorder.ID]++
		if _, err := l.dispatcher.Reassign(ctx, job, recorder, roomServer); err != nil {
			l.logger.Warn("queue drain assignment failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		// Reassign has either raised the recorder's live CurrentLoad or failed
		// the job without placing it, so the reservation is released here to
		// avoid counting the placement twice.
		reserved[recorder.ID]--
	}
}

// withReservations overlays this tick's in-progress placements onto the
// live CurrentLoad so the Placement Engine does not double-book a recorder
// before its load has actually been incremented by the dispatcher.
func (l *Loop) withReservations(candidates []domain.RecorderNode, reserved map[string]int) []domain.RecorderNode {
	if len(reserved) == 0 {
		return candidates
	}
	out := make([]domain.RecorderNode, len(candidates))
	for i, c := range candidates {
		if n, ok := reserved[c.ID]; ok {
			c.CurrentLoad += n
		}
		out[i] = c
	}
	return out
}

func codecsOf(streams []domain.RTPStream) []string {
	var codecs []string
	seen := make(map[string]bool)
	for _, s := range streams {
		if s.CodecName != "" && !seen[s.CodecName] {
			seen[s.CodecName] = true
			codecs = append(codecs, s.CodecName)
		}
	}
	return codecs
}
