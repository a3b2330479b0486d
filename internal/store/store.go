package store

import (
	"context"
	"time"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// HistoryFilters narrows QueryJobHistory results.
type HistoryFilters struct {
	RoomServerID string
	RecorderID   string
	Status       domain.JobStatus
}

// Paging is a simple offset/limit page request.
type Paging struct {
	Offset int
	Limit  int
}

// Repository is the narrow persistence contract of spec §4.1. Every
// operation is blocking I/O and may fail with a transient or permanent
// error; callers never block the recording-start path on it — the registry
// and job store remain authoritative, the Repository exists purely for
// warm-restart and history (spec §4.1).
type Repository interface {
	UpsertRoomServer(ctx context.Context, rs domain.RoomServer) error
	UpsertRecorderNode(ctx context.Context, rn domain.RecorderNode) error
	UpsertJob(ctx context.Context, job domain.RecordingJob) error

	LoadHealthyRoomServers(ctx context.Context) ([]domain.RoomServer, error)
	LoadHealthyRecorderNodes(ctx context.Context) ([]domain.RecorderNode, error)
	LoadActiveJobs(ctx context.Context) ([]domain.RecordingJob, error)

	QueryJobHistory(ctx context.Context, f HistoryFilters, p Paging) ([]domain.RecordingJob, error)

	AppendMetricsSnapshot(ctx context.Context, snap domain.MetricsSnapshot) error
	QueryMetricsRange(ctx context.Context, start, end time.Time) ([]domain.MetricsSnapshot, error)
}
