// Package domain holds the value types shared by every orchestrator
// component: room servers, recorder nodes, recording jobs, and the metrics
// snapshot. Nothing in this package talks to the network or a database —
// it is the arena of plain structs that Registry, JobStore, Placement,
// Dispatcher, HealthLoop and MetricsAggregator all read and write by value
// or by identifier lookup, never by ownership edge.
package domain

import "time"

// HardwareSpec describes the declared hardware of a registered node.
type HardwareSpec struct {
	Cores    int
	RAMBytes int64
	HasGPU   bool
	DiskBytes int64
}

// RoomServer is a conferencing room server producing RTP media for its
// participants. Room-server identifiers are caller-supplied and stable
// across restarts.
type RoomServer struct {
	ID              string
	Endpoint        string
	Region          string
	Rooms           []string
	Capacity        int
	CurrentLoad     int
	IsHealthy       bool
	LastHeartbeat   time.Time
	Hardware        HardwareSpec
	Metadata        map[string]string
}

// RecorderNode consumes forwarded RTP and persists it to a file. Capacity is
// derived at registration time (see CapacityFor) rather than caller-supplied.
type RecorderNode struct {
	ID               string
	Endpoint         string
	Region           string
	SupportedCodecs  []string
	ActiveJobs       []string
	Capacity         int
	CurrentLoad      int
	IsHealthy        bool
	LastHeartbeat    time.Time
	Hardware         HardwareSpec
	Metadata         map[string]string
}

// CapacityFor derives a recorder's concurrent-job capacity from its declared
// hardware, per spec §3:
//
//	min(cores * 1.5 * (hasGPU ? 2 : 1), floor(RAM_bytes / (500 MiB)), 12)
//
// maxConcurrentPerNode (an orchestrator-wide config ceiling, spec §6) is
// applied by the caller via a second min() — this function only implements
// the hardware-derived half of the formula.
func CapacityFor(hw HardwareSpec) int {
	const bytesPerSlot = 500 * 1024 * 1024

	gpuMultiplier := 1.0
	if hw.HasGPU {
		gpuMultiplier = 2.0
	}
	coreBound := float64(hw.Cores) * 1.5 * gpuMultiplier

	ramBound := hw.RAMBytes / bytesPerSlot

	cap := int(coreBound)
	if int64(cap) > ramBound {
		cap = int(ramBound)
	}
	if cap > 12 {
		cap = 12
	}
	if cap < 0 {
		cap = 0
	}
	return cap
}

// StreamKind identifies whether an RTP stream carries audio or video.
type StreamKind string

const (
	StreamAudio StreamKind = "audio"
	StreamVideo StreamKind = "video"
)

// RTPStream describes one inbound media stream forwarded from a room server
// to a recorder. SourcePort is rewritten by the Dispatcher once ports are
// allocated on the recorder (spec §4.5 step 3).
type RTPStream struct {
	Kind        StreamKind
	SourcePort  int
	PayloadType int
	SSRC        uint32
	CodecName   string
}

// RTPForwardingConfig is the child record carrying the recorder endpoint's
// extracted IP and the ports allocated for this job's streams. Invariant:
// len(Ports) == len(RTPStream list on the owning job).
type RTPForwardingConfig struct {
	TargetIP string
	Ports    []int
}

// Quality and ContainerFormat are recording option enums.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

type ContainerFormat string

const (
	ContainerMP4  ContainerFormat = "mp4"
	ContainerWebM ContainerFormat = "webm"
	ContainerMKV  ContainerFormat = "mkv"
)

// RecordingOptions configures how a recorder encodes and muxes output.
type RecordingOptions struct {
	Quality      Quality
	Container    ContainerFormat
	IncludeAudio bool
	IncludeVideo bool
	MaxDuration  *time.Duration
}

// PeerRole is one of the roles a peer may hold in the room.
type PeerRole string

const (
	RoleAuthenticated PeerRole = "authenticated"
	RoleModerator     PeerRole = "moderator"
	RolePresenter     PeerRole = "presenter"
)

// PeerInfo describes the participant being recorded.
type PeerInfo struct {
	DisplayName   string
	Authenticated bool
	Roles         []PeerRole
	JoinedAt      time.Time
}

// HasRole reports whether the peer holds the given role.
func (p PeerInfo) HasRole(role PeerRole) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequesterInfo identifies who asked for the recording, for audit/history
// purposes. Token is passed through opaquely — the orchestrator does not
// interpret or validate it (spec Non-goal: authorization policy).
type RequesterInfo struct {
	ID    string
	Token string
}

// PostRunMetrics is optionally attached to a job once it reaches a terminal
// state, summarizing what the recorder reported back.
type PostRunMetrics struct {
	DurationSeconds float64
	OutputBytes     int64
	DroppedPackets  int64
}

// JobStatus is the recording job's lifecycle state (spec §3).
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusInitializing JobStatus = "initializing"
	StatusRecording    JobStatus = "recording"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the three terminal states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RecordingJob is the control-plane record of one ongoing or past recording.
type RecordingJob struct {
	ID             string
	RoomServerID   string
	RoomID         string
	PeerID         string
	Peer           PeerInfo
	RecorderID     string // empty until placement
	RTPStreams     []RTPStream
	Forwarding     RTPForwardingConfig
	Options        RecordingOptions
	Status         JobStatus
	StartTime      time.Time
	EndTime        *time.Time
	OutputPath     string
	ErrorMessage   string
	Requester      RequesterInfo
	Metrics        *PostRunMetrics
	EnqueuedAt     time.Time // when it first entered the pending queue
}

// Priority computes the queue-ordering score described in spec §9's Open
// Questions: authenticated/moderator/presenter role bumps, an age boost for
// jobs that have waited in the pending queue, and a quality penalty for
// more expensive encodes. Higher sorts first. This is used only by
// HealthLoop's priority-aware queue drain (SPEC_FULL §12) — the Dispatcher's
// initial enqueue stays plain FIFO append per spec §4.3.
func (j RecordingJob) Priority(now time.Time) int {
	score := 0
	if j.Peer.Authenticated {
		score += 20
	}
	if j.Peer.HasRole(RoleModerator) {
		score += 30
	}
	if j.Peer.HasRole(RolePresenter) {
		score += 15
	}

	if !j.EnqueuedAt.IsZero() {
		waited := now.Sub(j.EnqueuedAt)
		boost := int(waited/(30*time.Second)) * 1
		if boost > 20 {
			boost = 20
		}
		score += boost
	}

	switch j.Options.Quality {
	case QualityHigh:
		score -= 10
	case QualityMedium:
		score -= 5
	}

	return score
}

// RegionTotals is the per-region roll-up inside a MetricsSnapshot.
type RegionTotals struct {
	Region           string
	RoomServers      int
	RecorderNodes    int
	ActiveRecordings int
	Capacity         int
	Load             int
	AvgLoad          float64
}

// MetricsSnapshot is an immutable value produced by the Metrics Aggregator.
type MetricsSnapshot struct {
	Timestamp        time.Time
	TotalRoomServers int
	TotalRecorders   int
	ActiveRecordings int
	QueueLength      int
	TotalCapacity    int
	TotalLoad        int
	UnhealthyNodes   int
	Regional         []RegionTotals
}
