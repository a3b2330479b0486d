package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// base mirrors arkeep-io-arkeep's internal/db.base: a UUIDv7 primary key
// assigned on insert, giving every row natural chronological ordering
// without a separate created_at sort index. Domain identifiers (job IDs,
// recorder IDs) are a distinct, caller/idgen-supplied string and are stored
// alongside this surrogate key, never replaced by it.
type base struct {
	RowID     uuid.UUID `gorm:"column:row_id;type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.RowID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.RowID = id
	}
	return nil
}

// RoomServerModel persists domain.RoomServer (spec §6 "room_servers").
type RoomServerModel struct {
	base
	ExternalID    string         `gorm:"column:id;uniqueIndex;not null"`
	URL           string         `gorm:"column:url;not null"`
	Region        string         `gorm:"not null;index"`
	Rooms         datatypes.JSON `gorm:"column:rooms"`
	Capacity      int            `gorm:"not null"`
	CurrentLoad   int            `gorm:"not null;default:0"`
	IsHealthy     bool           `gorm:"not null;default:true"`
	LastHeartbeat time.Time
	Specs         datatypes.JSON `gorm:"column:specs"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
}

func (RoomServerModel) TableName() string { return "room_servers" }

// RecorderNodeModel persists domain.RecorderNode (spec §6 "recorder_nodes").
type RecorderNodeModel struct {
	base
	ExternalID      string         `gorm:"column:id;uniqueIndex;not null"`
	URL             string         `gorm:"column:url;not null"`
	Region          string         `gorm:"not null;index"`
	SupportedCodecs datatypes.JSON `gorm:"column:supported_codecs"`
	ActiveJobs      datatypes.JSON `gorm:"column:active_jobs"`
	Capacity        int            `gorm:"not null"`
	CurrentLoad     int            `gorm:"not null;default:0"`
	IsHealthy       bool           `gorm:"not null;default:true"`
	LastHeartbeat   time.Time
	Specs           datatypes.JSON `gorm:"column:specs"`
	Metadata        datatypes.JSON `gorm:"column:metadata"`
}

func (RecorderNodeModel) TableName() string { return "recorder_nodes" }

// RecordingJobModel persists domain.RecordingJob (spec §6 "recording_jobs").
// JobID is the unique natural key that upserts conflict on; the primary key
// is the surrogate UUIDv7 base.RowID, as in the rest of the schema, which
// also gives audit ordering.
type RecordingJobModel struct {
	base
	JobID          string         `gorm:"column:job_id;uniqueIndex;not null"`
	RoomServerID   string         `gorm:"column:room_server_id;index;not null"`
	RoomID         string         `gorm:"column:room_id"`
	PeerID         string         `gorm:"column:peer_id"`
	PeerInfo       datatypes.JSON `gorm:"column:peer_info"`
	RecorderID     string         `gorm:"column:recorder_id;index"`
	RTPStreams     datatypes.JSON `gorm:"column:rtp_streams"`
	RTPForwarding  datatypes.JSON `gorm:"column:rtp_forwarding"`
	Options        datatypes.JSON `gorm:"column:options"`
	Status         string         `gorm:"column:status;index;not null"`
	StartTime      time.Time      `gorm:"column:start_time"`
	EndTime        *time.Time     `gorm:"column:end_time"`
	OutputPath     string         `gorm:"column:output_path"`
	ErrorMessage   string         `gorm:"column:error_message"`
	RequesterInfo  datatypes.JSON `gorm:"column:requester_info"`
	Metrics        datatypes.JSON `gorm:"column:metrics"`
}

func (RecordingJobModel) TableName() string { return "recording_jobs" }

// SystemMetricsModel persists one MetricsSnapshot (spec §6 "system_metrics").
type SystemMetricsModel struct {
	base
	Timestamp        time.Time      `gorm:"index;not null"`
	TotalRoomServers int
	TotalRecorders   int
	ActiveRecordings int
	QueueLength      int
	TotalCapacity    int
	TotalLoad        int
	UnhealthyNodes   int
	Regional         datatypes.JSON `gorm:"column:regional"`
}

func (SystemMetricsModel) TableName() string { return "system_metrics" }
