package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// gormRepository is the GORM-backed Repository, shaped after
// arkeep-io-arkeep's repositories.gormAgentRepository: one struct wrapping
// a *gorm.DB, every method wrapping its gorm error in a package-prefixed
// message, upserts via clause.OnConflict rather than a manual
// exists-then-update round trip.
type gormRepository struct {
	db *gorm.DB
}

// NewGormRepository returns a Repository backed by db.
func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertRoomServer(ctx context.Context, rs domain.RoomServer) error {
	m := roomServerToModel(rs)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("store: upsert room server: %w", err)
	}
	return nil
}

func (r *gormRepository) UpsertRecorderNode(ctx context.Context, rn domain.RecorderNode) error {
	m := recorderToModel(rn)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("store: upsert recorder node: %w", err)
	}
	return nil
}

func (r *gormRepository) UpsertJob(ctx context.Context, job domain.RecordingJob) error {
	m := jobToModel(job)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("store: upsert job: %w", err)
	}
	return nil
}

func (r *gormRepository) LoadHealthyRoomServers(ctx context.Context) ([]domain.RoomServer, error) {
	var models []RoomServerModel
	if err := r.db.WithContext(ctx).Where("is_healthy = ?", true).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("store: load healthy room servers: %w", err)
	}
	out := make([]domain.RoomServer, len(models))
	for i, m := range models {
		out[i] = roomServerFromModel(m)
	}
	return out, nil
}

func (r *gormRepository) LoadHealthyRecorderNodes(ctx context.Context) ([]domain.RecorderNode, error) {
	var models []RecorderNodeModel
	if err := r.db.WithContext(ctx).Where("is_healthy = ?", true).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("store: load healthy recorder nodes: %w", err)
	}
	out := make([]domain.RecorderNode, len(models))
	for i, m := range models {
		out[i] = recorderFromModel(m)
	}
	return out, nil
}

func (r *gormRepository) LoadActiveJobs(ctx context.Context) ([]domain.RecordingJob, error) {
	var models []RecordingJobModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(domain.StatusPending),
			string(domain.StatusInitializing),
			string(domain.StatusRecording),
		}).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("store: load active jobs: %w", err)
	}
	out := make([]domain.RecordingJob, len(models))
	for i, m := range models {
		out[i] = jobFromModel(m)
	}
	return out, nil
}

func (r *gormRepository) QueryJobHistory(ctx context.Context, f HistoryFilters, p Paging) ([]domain.RecordingJob, error) {
	q := r.db.WithContext(ctx).Model(&RecordingJobModel{})
	if f.RoomServerID != "" {
		q = q.Where("room_server_id = ?", f.RoomServerID)
	}
	if f.RecorderID != "" {
		q = q.Where("recorder_id = ?", f.RecorderID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	var models []RecordingJobModel
	if err := q.Order("start_time DESC").Offset(p.Offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("store: query job history: %w", err)
	}
	out := make([]domain.RecordingJob, len(models))
	for i, m := range models {
		out[i] = jobFromModel(m)
	}
	return out, nil
}

func (r *gormRepository) AppendMetricsSnapshot(ctx context.Context, snap domain.MetricsSnapshot) error {
	m := metricsToModel(snap)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("store: append metrics snapshot: %w", err)
	}
	return nil
}

func (r *gormRepository) QueryMetricsRange(ctx context.Context, start, end time.Time) ([]domain.MetricsSnapshot, error) {
	var models []SystemMetricsModel
	err := r.db.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("store: query metrics range: %w", err)
	}
	out := make([]domain.MetricsSnapshot, len(models))
	for i, m := range models {
		out[i] = metricsFromModel(m)
	}
	return out, nil
}
