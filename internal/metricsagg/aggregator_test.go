package metricsagg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/store"
)

type fakeRepository struct {
	snapshots []domain.MetricsSnapshot
}

func (f *fakeRepository) UpsertRoomServer(context.Context, domain.RoomServer) error     { return nil }
func (f *fakeRepository) UpsertRecorderNode(context.Context, domain.RecorderNode) error { return nil }
func (f *fakeRepository) UpsertJob(context.Context, domain.RecordingJob) error          { return nil }
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
func (f *fakeRepository) AppendMetricsSnapshot(_ context.Context, snap domain.MetricsSnapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}
func (f *fakeRepository) QueryMetricsRange(context.Context, time.Time, time.Time) ([]domain.MetricsSnapshot, error) {
	return nil, nil
}

func newAggregator(t *testing.T) (*Aggregator, *registry.Registry, *jobstore.Store, *fakeRepository) {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.New(6, logger)
	jobs := jobstore.New(logger)
	repo := &fakeRepository{}
	bus := eventbus.New(logger)

	agg, err := New(time.Minute, reg, jobs, repo, bus, logger)
	require.NoError(t, err)
	return agg, reg, jobs, repo
}

func TestSnapshotCountsFleetTotals(t *testing.T) {
	agg, reg, jobs, _ := newAggregator(t)

	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "e", Region: "us-east"})
	require.NoError(t, err)
	recID, err := reg.RegisterRecorderNode(registry.RecorderDecl{
		Region: "us-east", Endpoint: "r",
		Hardware: domain.HardwareSpec{Cores: 8, RAMBytes: 16 * 1024 * 1024 * 1024},
	})
	require.NoError(t, err)
	require.NoError(t, reg.AdjustRecorderLoad(recID, 2, "job-1", ""))

	jobs.Create(domain.RecordingJob{ID: "job-1"})
	_, err = jobs.Transition("job-1", domain.StatusInitializing, nil)
	require.NoError(t, err)
	jobs.Create(domain.RecordingJob{ID: "job-2"})
	jobs.Enqueue("job-2")

	snap := agg.snapshot()

	assert.Equal(t, 1, snap.TotalRoomServers)
	assert.Equal(t, 1, snap.TotalRecorders)
	assert.Equal(t, 1, snap.ActiveRecordings)
	assert.Equal(t, 1, snap.QueueLength)
	assert.Equal(t, 6, snap.TotalCapacity)
	assert.Equal(t, 2, snap.TotalLoad)
	require.Len(t, snap.Regional, 1)
	assert.Equal(t, "us-east", snap.Regional[0].Region)
	assert.InDelta(t, 2.0/6.0, snap.Regional[0].AvgLoad, 0.0001)
}

func TestSnapshotCountsUnhealthyNodes(t *testing.T) {
	agg, reg, _, _ := newAggregator(t)

	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "e"})
	require.NoError(t, err)
	reg.MarkRoomServerUnhealthy("rs-1")

	snap := agg.snapshot()
	assert.Equal(t, 1, snap.UnhealthyNodes)
}

func TestTickPersistsAndExposesLatest(t *testing.T) {
	agg, _, _, repo := newAggregator(t)

	agg.tick()

	require.Len(t, repo.snapshots, 1)
	assert.Equal(t, agg.Latest().Timestamp, repo.snapshots[0].Timestamp)
}

func TestRecommendationsScaleUpWhenAboveThreshold(t *testing.T) {
	cfg := ScalingConfig{MinNodes: 1, MaxNodes: 10, ScaleUpThreshold: 80, ScaleDownThreshold: 20}
	snap := domain.MetricsSnapshot{
		Regional: []domain.RegionTotals{{Region: "us-east", RecorderNodes: 3, AvgLoad: 0.95}},
	}

	recs := Recommendations(snap, cfg)
	require.Len(t, recs, 1)
	assert.Equal(t, DirectionScaleUp, recs[0].Direction)
	assert.Equal(t, PriorityCritical, recs[0].Priority)
	assert.Equal(t, 2, recs[0].Delta)
}

func TestRecommendationsScaleUpHighPriorityBand(t *testing.T) {
	cfg := ScalingConfig{MinNodes: 1, MaxNodes: 10, ScaleUpThreshold: 80, ScaleDownThreshold: 20}
	snap := domain.MetricsSnapshot{
		Regional: []domain.RegionTotals{{Region: "us-east", RecorderNodes: 3, AvgLoad: 0.87}},
	}

	recs := Recommendations(snap, cfg)
	require.Len(t, recs, 1)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, 1, recs[0].Delta)
}

func TestRecommendationsScaleDownRespectsMinNodes(t *testing.T) {
	cfg := ScalingConfig{MinNodes: 2, MaxNodes: 10, ScaleUpThreshold: 80, ScaleDownThreshold: 20}
	snap := domain.MetricsSnapshot{
		Regional: []domain.RegionTotals{{Region: "us-east", RecorderNodes: 2, AvgLoad: 0.05}},
	}

	recs := Recommendations(snap, cfg)
	assert.Empty(t, recs, "scale-down must not fire when already at MinNodes")
}

func TestRecommendationsScaleDownClampsDeltaToMinNodes(t *testing.T) {
	cfg := ScalingConfig{MinNodes: 2, MaxNodes: 10, ScaleUpThreshold: 80, ScaleDownThreshold: 20}
	snap := domain.MetricsSnapshot{
		Regional: []domain.RegionTotals{{Region: "us-east", RecorderNodes: 3, AvgLoad: 0.05}},
	}

	recs := Recommendations(snap, cfg)
	require.Len(t, recs, 1)
	assert.Equal(t, DirectionScaleDown, recs[0].Direction)
	assert.Equal(t, -1, recs[0].Delta)
}

func TestRecommendationsGlobalQueueBacklog(t *testing.T) {
	cfg := ScalingConfig{MinNodes: 1, MaxNodes: 10, ScaleUpThreshold: 80, ScaleDownThreshold: 20}
	snap := domain.MetricsSnapshot{QueueLength: 11}

	recs := Recommendations(snap, cfg)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Region)
	assert.Equal(t, DirectionScaleUp, recs[0].Direction)
}

func TestClassifyAlertStatusThresholds(t *testing.T) {
	tests := []struct {
		name string
		snap domain.MetricsSnapshot
		want AlertStatus
	}{
		{"empty fleet is healthy", domain.MetricsSnapshot{}, AlertHealthy},
		{"mild load is caution", domain.MetricsSnapshot{TotalCapacity: 10, TotalLoad: 7}, AlertCaution},
		{"heavy load is warning", domain.MetricsSnapshot{TotalCapacity: 10, TotalLoad: 9}, AlertWarning},
		{"saturated load is critical", domain.MetricsSnapshot{TotalCapacity: 10, TotalLoad: 10}, AlertCritical},
		{"overloaded region forces critical", domain.MetricsSnapshot{
			Regional: []domain.RegionTotals{{Region: "us-east", AvgLoad: 0.95}},
		}, AlertCritical},
		{"deep queue forces critical", domain.MetricsSnapshot{QueueLength: 25}, AlertCritical},
		{"unhealthy nodes force warning", domain.MetricsSnapshot{UnhealthyNodes: 3}, AlertWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAlertStatus(tt.snap))
		})
	}
}
