// Package dispatcher implements the Dispatcher (spec §4.5): orchestrates
// placement and rollback for startRecording/stopRecording. Grounded on
// arkeep-io-arkeep's internal/scheduler.Scheduler — specifically its
// "build payload, call agent, roll back the side effect on failure" shape —
// generalized from the teacher's single fire-and-forget backup dispatch
// into the full multi-step assign/rollback sequence spec §4.5 describes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/idgen"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/placement"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/rpcclient"
	"github.com/mediaorch/orchestrator/internal/store"
)

// Outbound call budgets (spec §4.5, "Timeouts for outbound calls").
const (
	allocatePortsTimeout   = 5 * time.Second
	forwardingSetupTimeout = 15 * time.Second
	recorderStartTimeout   = 15 * time.Second
	stopCallTimeout        = 10 * time.Second
)

// ErrNoRoomServer is returned when the request's room server does not
// resolve to a healthy registered entry (spec §4.5 step 1).
var ErrNoRoomServer = errors.New("dispatcher: no healthy room server for request")

// StartRequest is the inbound recording request (spec §6 POST /recordings).
type StartRequest struct {
	RoomServerID string
	RoomID       string
	PeerID       string
	Peer         domain.PeerInfo
	RTPStreams   []domain.RTPStream
	Options      domain.RecordingOptions
	Requester    domain.RequesterInfo
	Placement    placement.Requirement
}

// Dispatcher wires together the Registry, JobStore, Placement Engine,
// Repository and outbound RPC clients to drive one job from request to
// terminal state.
type Dispatcher struct {
	registry *registry.Registry
	jobs     *jobstore.Store
	repo     store.Repository
	bus      *eventbus.Bus
	recorder rpcclient.Recorder
	room     rpcclient.RoomServer

	callbackURL string
	now         func() time.Time
	logger      *zap.Logger
}

// New builds a Dispatcher. callbackURL is the orchestrator's own inbound
// event-callback endpoint, passed to recorders as orchestratorCallbackUrl
// (spec §6).
func New(
	reg *registry.Registry,
	jobs *jobstore.Store,
	repo store.Repository,
	bus *eventbus.Bus,
	recorder rpcclient.Recorder,
	room rpcclient.RoomServer,
	callbackURL string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:    reg,
		jobs:        jobs,
		repo:        repo,
		bus:         bus,
		recorder:    recorder,
		room:        room,
		callbackURL: callbackURL,
		now:         time.Now,
		logger:      logger.Named("dispatcher"),
	}
}

// StartRecording implements spec §4.5's startRecording(request) steps 1-5.
// When the request names a room but not a specific room server, step 1
// first resolves one via the Placement Engine's room-server selection
// (spec §4.4): prefer a server already hosting the room, else the
// least-loaded healthy one.
func (d *Dispatcher) StartRecording(ctx context.Context, req StartRequest) (domain.RecordingJob, error) {
	if req.RoomServerID == "" {
		resolved, ok := placement.PickRoomServer(d.registry.AllRoomServers(), req.RoomID)
		if !ok {
			return domain.RecordingJob{}, ErrNoRoomServer
		}
		req.RoomServerID = resolved.ID
	}

	roomServer, err := d.registry.GetRoomServer(req.RoomServerID)
	if err != nil || !roomServer.IsHealthy {
		return domain.RecordingJob{}, ErrNoRoomServer
	}

	now := d.now()
	job := domain.RecordingJob{
		ID:           idgen.JobID(now),
		RoomServerID: req.RoomServerID,
		RoomID:       req.RoomID,
		PeerID:       req.PeerID,
		Peer:         req.Peer,
		RTPStreams:   req.RTPStreams,
		Options:      req.Options,
		Requester:    req.Requester,
		EnqueuedAt:   now,
	}
	job = d.jobs.Create(job)

	candidates := d.registry.AllHealthyRecorders()
	recorder, ok := placement.Pick(candidates, req.Placement)
	if !ok {
		d.jobs.Enqueue(job.ID)
		d.persistAndPublish(ctx, job, "recording.queued")
		return job, nil
	}

	job, err = d.assign(ctx, job, recorder, roomServer)
	if err != nil {
		d.logger.Warn("assign failed, job marked failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	return job, nil
}

// Reassign re-runs assign for a job that already exists in the store —
// used by the Health Loop for recorder failover and queue drain (spec §4.6
// steps 2-3), where the job is not newly created but is moving
// pending -> initializing -> recording again.
func (d *Dispatcher) Reassign(ctx context.Context, job domain.RecordingJob, recorder domain.RecorderNode, roomServer domain.RoomServer) (domain.RecordingJob, error) {
	return d.assign(ctx, job, recorder, roomServer)
}

// assign implements spec §4.5's assign(job, recorder, roomServer) steps 1-7,
// with best-effort rollback on any failure after a side effect.
func (d *Dispatcher) assign(ctx context.Context, job domain.RecordingJob, recorder domain.RecorderNode, roomServer domain.RoomServer) (domain.RecordingJob, error) {
	job, err := d.jobs.Transition(job.ID, domain.StatusInitializing, func(j *domain.RecordingJob) {
		j.RecorderID = recorder.ID
	})
	if err != nil {
		return job, err
	}

	portsCtx, cancel := context.WithTimeout(ctx, allocatePortsTimeout)
	ports, err := d.recorder.AllocatePorts(portsCtx, recorder.Endpoint, len(job.RTPStreams))
	cancel()
	if err != nil {
		return d.failAssign(ctx, job, fmt.Errorf("allocate ports: %w", err), recorder.ID, rollbackState{})
	}

	forwarding := domain.RTPForwardingConfig{
		TargetIP: rpcclient.EndpointIP(recorder.Endpoint),
		Ports:    ports,
	}
	streams := make([]domain.RTPStream, len(job.RTPStreams))
	copy(streams, job.RTPStreams)
	for i := range streams {
		if i < len(ports) {
			streams[i].SourcePort = ports[i]
		}
	}

	if err := d.jobs.Patch(job.ID, func(j *domain.RecordingJob) {
		j.Forwarding = forwarding
		j.RTPStreams = streams
	}); err != nil {
		return d.failAssign(ctx, job, fmt.Errorf("patch forwarding config: %w", err), recorder.ID, rollbackState{portsAllocated: true})
	}
	job.Forwarding = forwarding
	job.RTPStreams = streams

	fwdCtx, cancel := context.WithTimeout(ctx, forwardingSetupTimeout)
	err = d.room.ConfigureRTPForwarding(fwdCtx, roomServer.Endpoint, rpcclient.ConfigureForwardingRequest{
		JobID:      job.ID,
		PeerID:     job.PeerID,
		TargetNode: rpcclient.TargetNode{IP: forwarding.TargetIP, Ports: forwarding.Ports},
		RTPStreams: streams,
	})
	cancel()
	if err != nil {
		return d.failAssign(ctx, job, fmt.Errorf("configure rtp forwarding: %w", err), recorder.ID, rollbackState{portsAllocated: true})
	}

	startCtx, cancel := context.WithTimeout(ctx, recorderStartTimeout)
	err = d.recorder.StartRecording(startCtx, recorder.Endpoint, rpcclient.StartRecordingRequest{
		JobID:      job.ID,
		PeerInfo:   job.Peer,
		RTPStreams: streams,
		Options:    job.Options,
		RoomInfo: rpcclient.RoomInfo{
			RoomServerID: roomServer.ID,
			RoomID:       job.RoomID,
		},
		OrchestratorCallbackURL: d.callbackURL,
	})
	cancel()
	if err != nil {
		return d.failAssign(ctx, job, fmt.Errorf("start recording: %w", err), recorder.ID, rollbackState{portsAllocated: true, forwardingConfigured: true})
	}

	if err := d.registry.AdjustRecorderLoad(recorder.ID, 1, job.ID, ""); err != nil {
		d.logger.Error("adjust recorder load after start", zap.String("recorder_id", recorder.ID), zap.Error(err))
	}
	if err := d.registry.AdjustRoomServerLoad(roomServer.ID, 1); err != nil {
		d.logger.Error("adjust room server load after start", zap.String("room_server_id", roomServer.ID), zap.Error(err))
	}

	job, err = d.jobs.Transition(job.ID, domain.StatusRecording, nil)
	if err != nil {
		return job, err
	}
	d.persistAndPublish(ctx, job, "recording.started")
	return job, nil
}

// rollbackState records which assign side effects had already happened
// before a failure, so failAssign knows which reversal calls to fire.
// Fields are named (rather than bare bools) so call sites can't
// transpose them.
type rollbackState struct {
	portsAllocated       bool
	forwardingConfigured bool
}

// failAssign performs best-effort rollback of whichever side effects already
// happened, then transitions the job to failed (spec §4.5 "Rollback").
func (d *Dispatcher) failAssign(ctx context.Context, job domain.RecordingJob, cause error, recorderEndpointID string, rollback rollbackState) (domain.RecordingJob, error) {
	rec, lookupErr := d.registry.GetRecorder(job.RecorderID)
	recorderEndpoint := ""
	if lookupErr == nil {
		recorderEndpoint = rec.Endpoint
	}

	if rollback.portsAllocated && recorderEndpoint != "" {
		stopCtx, cancel := context.WithTimeout(ctx, stopCallTimeout)
		if err := d.recorder.StopRecording(stopCtx, recorderEndpoint, job.ID); err != nil {
			d.logger.Warn("rollback: release recorder ports failed, relying on heartbeat reconciliation",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		cancel()
	}
	if rollback.forwardingConfigured {
		roomServer, err := d.registry.GetRoomServer(job.RoomServerID)
		if err == nil {
			stopCtx, cancel := context.WithTimeout(ctx, stopCallTimeout)
			if err := d.room.StopRTPForwarding(stopCtx, roomServer.Endpoint, job.ID, job.PeerID); err != nil {
				d.logger.Warn("rollback: stop rtp forwarding failed, relying on heartbeat reconciliation",
					zap.String("job_id", job.ID), zap.Error(err))
			}
			cancel()
		}
	}

	job, err := d.jobs.Transition(job.ID, domain.StatusFailed, func(j *domain.RecordingJob) {
		j.ErrorMessage = cause.Error()
	})
	if err != nil {
		return job, err
	}
	d.persistAndPublish(ctx, job, "recording.failed")
	return job, cause
}

// StopRecording implements spec §4.5's stopRecording(jobId) semantics.
func (d *Dispatcher) StopRecording(ctx context.Context, jobID string) (domain.RecordingJob, error) {
	job, err := d.jobs.Get(jobID)
	if err != nil {
		return domain.RecordingJob{}, err
	}
	if job.Status != domain.StatusRecording && job.Status != domain.StatusInitializing {
		return job, nil
	}

	finalStatus := domain.StatusCompleted
	var stopErr error

	if recorder, err := d.registry.GetRecorder(job.RecorderID); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopCallTimeout)
		if err := d.recorder.StopRecording(stopCtx, recorder.Endpoint, job.ID); err != nil {
			stopErr = fmt.Errorf("stop recording: %w", err)
			finalStatus = domain.StatusFailed
		}
		cancel()
	}
	if roomServer, err := d.registry.GetRoomServer(job.RoomServerID); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopCallTimeout)
		if err := d.room.StopRTPForwarding(stopCtx, roomServer.Endpoint, job.ID, job.PeerID); err != nil {
			if stopErr == nil {
				stopErr = fmt.Errorf("stop rtp forwarding: %w", err)
			}
			finalStatus = domain.StatusFailed
		}
		cancel()
	}

	if job.RecorderID != "" {
		if err := d.registry.AdjustRecorderLoad(job.RecorderID, -1, "", job.ID); err != nil {
			d.logger.Error("adjust recorder load on stop", zap.String("recorder_id", job.RecorderID), zap.Error(err))
		}
	}
	if err := d.registry.AdjustRoomServerLoad(job.RoomServerID, -1); err != nil {
		d.logger.Error("adjust room server load on stop", zap.String("room_server_id", job.RoomServerID), zap.Error(err))
	}

	job, err = d.jobs.Transition(job.ID, finalStatus, func(j *domain.RecordingJob) {
		if stopErr != nil {
			j.ErrorMessage = stopErr.Error()
		}
	})
	if err != nil {
		return job, err
	}
	d.jobs.Remove(job.ID)
	d.persistAndPublish(ctx, job, "recording.stopped")
	return job, stopErr
}

// persistAndPublish writes the job snapshot to the Repository (best-effort —
// a write failure is logged, never surfaced to the caller, per spec §4.7's
// "append to Repository, best-effort, on failure skipped" pattern applied
// uniformly to job persistence) and fans the transition out on the bus.
func (d *Dispatcher) persistAndPublish(ctx context.Context, job domain.RecordingJob, eventType string) {
	if err := d.repo.UpsertJob(ctx, job); err != nil {
		d.logger.Warn("persist job snapshot failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	d.bus.Publish(eventbus.Event{Class: eventbus.ClassRecordings, Type: eventType, Payload: job})
}
