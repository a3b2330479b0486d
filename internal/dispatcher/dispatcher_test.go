package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/placement"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/rpcclient"
	"github.com/mediaorch/orchestrator/internal/store"
)

// fakeRepository is a no-op Repository satisfying the interface without a
// live database, matching this module's "core never blocks on persistence"
// contract (spec §4.1).
type fakeRepository struct {
	upsertJobErr error
	jobs         []domain.RecordingJob
}

func (f *fakeRepository) UpsertRoomServer(context.Context, domain.RoomServer) error     { return nil }
func (f *fakeRepository) UpsertRecorderNode(context.Context, domain.RecorderNode) error { return nil }
func (f *fakeRepository) UpsertJob(_ context.Context, job domain.RecordingJob) error {
	f.jobs = append(f.jobs, job)
	return f.upsertJobErr
}
func (f *fakeRepository) LoadHealthyRoomServers(context.Context) ([]domain.RoomServer, error) {
	return nil, nil
}
func (f *fakeRepository) LoadHealthyRecorderNodes(context.Context) ([]domain.RecorderNode, error) {
	return nil, nil
}
func (f *fakeRepository) LoadActiveJobs(context.Context) ([]domain.RecordingJob, error) {
	return nil, nil
}
func (f *fakeRepository) QueryJobHistory(context.Context, store.HistoryFilters, store.Paging) ([]domain.RecordingJob, error) {
	return nil, nil
}
func (f *fakeRepository) AppendMetricsSnapshot(context.Context, domain.MetricsSnapshot) error {
	return nil
}
func (f *fakeRepository) QueryMetricsRange(context.Context, time.Time, time.Time) ([]domain.MetricsSnapshot, error) {
	return nil, nil
}

// fakeRecorder and fakeRoomServer let each test script the exact failure
// point within assign's seven steps (spec §4.5 "Rollback").
type fakeRecorder struct {
	allocatePortsErr error
	startErr         error
	stopErr          error
	ports            []int
	stopped          []string
}

func (f *fakeRecorder) AllocatePorts(context.Context, string, int) ([]int, error) {
	if f.allocatePortsErr != nil {
		return nil, f.allocatePortsErr
	}
	if f.ports != nil {
		return f.ports, nil
	}
	return []int{5000}, nil
}
func (f *fakeRecorder) StartRecording(context.Context, string, rpcclient.StartRecordingRequest) error {
	return f.startErr
}
func (f *fakeRecorder) StopRecording(_ context.Context, _ string, jobID string) error {
	f.stopped = append(f.stopped, jobID)
	return f.stopErr
}

type fakeRoomServer struct {
	configureErr  error
	stopErr       error
	configureCall int
	stopCall      int
}

func (f *fakeRoomServer) ConfigureRTPForwarding(context.Context, string, rpcclient.ConfigureForwardingRequest) error {
	f.configureCall++
	return f.configureErr
}
func (f *fakeRoomServer) StopRTPForwarding(context.Context, string, string, string) error {
	f.stopCall++
	return f.stopErr
}

type testFixture struct {
	disp       *Dispatcher
	reg        *registry.Registry
	jobs       *jobstore.Store
	repo       *fakeRepository
	recorder   *fakeRecorder
	room       *fakeRoomServer
	bus        *eventbus.Bus
	roomSrvID  string
	recorderID string
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.New(6, logger)
	jobs := jobstore.New(logger)
	repo := &fakeRepository{}
	rec := &fakeRecorder{}
	room := &fakeRoomServer{}
	bus := eventbus.New(logger)

	roomSrvID, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "http://rs-1", Region: "us-east"})
	require.NoError(t, err)

	recorderID, err := reg.RegisterRecorderNode(registry.RecorderDecl{
		Region:   "us-east",
		Endpoint: "http://recorder-1",
		Hardware: domain.HardwareSpec{Cores: 8, RAMBytes: 16 * 1024 * 1024 * 1024},
	})
	require.NoError(t, err)

	disp := New(reg, jobs, repo, bus, rec, room, "http://orchestrator/callback", logger)

	return &testFixture{
		disp: disp, reg: reg, jobs: jobs, repo: repo,
		recorder: rec, room: room, bus: bus,
		roomSrvID: roomSrvID, recorderID: recorderID,
	}
}

func (f *testFixture) startRequest() StartRequest {
	return StartRequest{
		RoomServerID: f.roomSrvID,
		RoomID:       "room-a",
		PeerID:       "peer-1",
		RTPStreams:   []domain.RTPStream{{Kind: "video", PayloadType: 96}},
		Placement:    placement.Requirement{Region: "us-east"},
	}
}

func TestStartRecordingHappyPath(t *testing.T) {
	f := newFixture(t)

	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, job.Status)
	assert.Equal(t, f.recorderID, job.RecorderID)
	assert.Equal(t, []int{5000}, job.Forwarding.Ports)
	assert.Equal(t, 1, f.room.configureCall)

	recNode, err := f.reg.GetRecorder(f.recorderID)
	require.NoError(t, err)
	assert.Equal(t, 1, recNode.CurrentLoad)
}

func TestStartRecordingNoRoomServerReturnsError(t *testing.T) {
	f := newFixture(t)
	req := f.startRequest()
	req.RoomServerID = "missing"

	_, err := f.disp.StartRecording(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoRoomServer)
}

func TestStartRecordingQueuesWhenNoCandidateAvailable(t *testing.T) {
	f := newFixture(t)
	req := f.startRequest()
	req.Placement.MinCores = 999 // hard filter no recorder can satisfy

	job, err := f.disp.StartRecording(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, f.jobs.QueueLength())
}

func TestAssignRollsBackOnAllocatePortsFailure(t *testing.T) {
	f := newFixture(t)
	f.recorder.allocatePortsErr = errors.New("connection refused")

	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err, "StartRecording itself does not surface an assign failure")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "allocate ports")
	assert.Equal(t, 0, f.room.configureCall, "forwarding must never be configured if port allocation failed")
	assert.Empty(t, f.recorder.stopped, "no ports were allocated, so there is nothing to roll back on the recorder")
}

func TestAssignRollsBackOnConfigureForwardingFailure(t *testing.T) {
	f := newFixture(t)
	f.room.configureErr = errors.New("room server unreachable")

	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "configure rtp forwarding")
	assert.Equal(t, []string{job.ID}, f.recorder.stopped, "ports were allocated, so rollback must release them via stop-recording")
}

func TestAssignRollsBackOnStartRecordingFailure(t *testing.T) {
	f := newFixture(t)
	f.recorder.startErr = errors.New("recorder busy")

	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 1, f.room.stopCall, "forwarding was configured, so rollback must tear it down")
	assert.Equal(t, []string{job.ID}, f.recorder.stopped)
}

func TestStopRecordingHappyPath(t *testing.T) {
	f := newFixture(t)
	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err)
	require.Equal(t, domain.StatusRecording, job.Status)

	stopped, err := f.disp.StopRecording(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stopped.Status)

	recNode, err := f.reg.GetRecorder(f.recorderID)
	require.NoError(t, err)
	assert.Equal(t, 0, recNode.CurrentLoad)
}

func TestStopRecordingOnUnknownJobReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.disp.StopRecording(context.Background(), "missing")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestStopRecordingIsNoOpOnAlreadyTerminalJob(t *testing.T) {
	f := newFixture(t)
	job := f.jobs.Create(domain.RecordingJob{ID: "job-x"})
	_, err := f.jobs.Transition(job.ID, domain.StatusFailed, nil)
	require.NoError(t, err)

	got, err := f.disp.StopRecording(context.Background(), "job-x")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestStopRecordingSurfacesRPCFailureButStillTerminates(t *testing.T) {
	f := newFixture(t)
	job, err := f.disp.StartRecording(context.Background(), f.startRequest())
	require.NoError(t, err)

	f.recorder.stopErr = errors.New("recorder already gone")

	stopped, err := f.disp.StopRecording(context.Background(), job.ID)
	assert.Error(t, err, "a failed stop RPC must still be surfaced to the caller")
	assert.Equal(t, domain.StatusFailed, stopped.Status)
}

func TestStartRecordingResolvesRoomServerFromRoomIDWhenNotSpecified(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.RecordRoomServerHeartbeat(f.roomSrvID, 0, []string{"room-a"}))

	req := f.startRequest()
	req.RoomServerID = ""

	job, err := f.disp.StartRecording(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, job.Status)
	assert.Equal(t, f.roomSrvID, job.RoomServerID)
}

func TestStartRecordingWithNoRoomServerIDOrRoomMatchReturnsError(t *testing.T) {
	f := newFixture(t)
	f.reg.MarkRoomServerUnhealthy(f.roomSrvID)

	req := f.startRequest()
	req.RoomServerID = ""
	req.RoomID = "room-that-nobody-hosts"

	_, err := f.disp.StartRecording(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoRoomServer)
}

func TestReassignDrivesAnExistingJobThroughAssign(t *testing.T) {
	f := newFixture(t)
	job := f.jobs.Create(domain.RecordingJob{ID: "job-reassign", RoomServerID: f.roomSrvID, PeerID: "peer-1"})

	roomServer, err := f.reg.GetRoomServer(f.roomSrvID)
	require.NoError(t, err)
	recorderNode, err := f.reg.GetRecorder(f.recorderID)
	require.NoError(t, err)

	got, err := f.disp.Reassign(context.Background(), job, recorderNode, roomServer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, got.Status)
}
