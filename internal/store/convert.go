package store

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/mediaorch/orchestrator/internal/domain"
)

func toJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}

func fromJSON[T any](raw datatypes.JSON, out *T) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func roomServerToModel(rs domain.RoomServer) RoomServerModel {
	return RoomServerModel{
		ExternalID:    rs.ID,
		URL:           rs.Endpoint,
		Region:        rs.Region,
		Rooms:         toJSON(rs.Rooms),
		Capacity:      rs.Capacity,
		CurrentLoad:   rs.CurrentLoad,
		IsHealthy:     rs.IsHealthy,
		LastHeartbeat: rs.LastHeartbeat,
		Specs:         toJSON(rs.Hardware),
		Metadata:      toJSON(rs.Metadata),
	}
}

func roomServerFromModel(m RoomServerModel) domain.RoomServer {
	rs := domain.RoomServer{
		ID:            m.ExternalID,
		Endpoint:      m.URL,
		Region:        m.Region,
		Capacity:      m.Capacity,
		CurrentLoad:   m.CurrentLoad,
		IsHealthy:     m.IsHealthy,
		LastHeartbeat: m.LastHeartbeat,
	}
	fromJSON(m.Rooms, &rs.Rooms)
	fromJSON(m.Specs, &rs.Hardware)
	fromJSON(m.Metadata, &rs.Metadata)
	return rs
}

func recorderToModel(rn domain.RecorderNode) RecorderNodeModel {
	return RecorderNodeModel{
		ExternalID:      rn.ID,
		URL:             rn.Endpoint,
		Region:          rn.Region,
		SupportedCodecs: toJSON(rn.SupportedCodecs),
		ActiveJobs:      toJSON(rn.ActiveJobs),
		Capacity:        rn.Capacity,
		CurrentLoad:     rn.CurrentLoad,
		IsHealthy:       rn.IsHealthy,
		LastHeartbeat:   rn.LastHeartbeat,
		Specs:           toJSON(rn.Hardware),
		Metadata:        toJSON(rn.Metadata),
	}
}

func recorderFromModel(m RecorderNodeModel) domain.RecorderNode {
	rn := domain.RecorderNode{
		ID:            m.ExternalID,
		Endpoint:      m.URL,
		Region:        m.Region,
		Capacity:      m.Capacity,
		CurrentLoad:   m.CurrentLoad,
		IsHealthy:     m.IsHealthy,
		LastHeartbeat: m.LastHeartbeat,
	}
	fromJSON(m.SupportedCodecs, &rn.SupportedCodecs)
	fromJSON(m.ActiveJobs, &rn.ActiveJobs)
	fromJSON(m.Specs, &rn.Hardware)
	fromJSON(m.Metadata, &rn.Metadata)
	return rn
}

func jobToModel(job domain.RecordingJob) RecordingJobModel {
	return RecordingJobModel{
		JobID:         job.ID,
		RoomServerID:  job.RoomServerID,
		RoomID:        job.RoomID,
		PeerID:        job.PeerID,
		PeerInfo:      toJSON(job.Peer),
		RecorderID:    job.RecorderID,
		RTPStreams:    toJSON(job.RTPStreams),
		RTPForwarding: toJSON(job.Forwarding),
		Options:       toJSON(job.Options),
		Status:        string(job.Status),
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
		OutputPath:    job.OutputPath,
		ErrorMessage:  job.ErrorMessage,
		RequesterInfo: toJSON(job.Requester),
		Metrics:       toJSON(job.Metrics),
	}
}

func jobFromModel(m RecordingJobModel) domain.RecordingJob {
	job := domain.RecordingJob{
		ID:           m.JobID,
		RoomServerID: m.RoomServerID,
		RoomID:       m.RoomID,
		PeerID:       m.PeerID,
		RecorderID:   m.RecorderID,
		Status:       domain.JobStatus(m.Status),
		StartTime:    m.StartTime,
		EndTime:      m.EndTime,
		OutputPath:   m.OutputPath,
		ErrorMessage: m.ErrorMessage,
	}
	fromJSON(m.PeerInfo, &job.Peer)
	fromJSON(m.RTPStreams, &job.RTPStreams)
	fromJSON(m.RTPForwarding, &job.Forwarding)
	fromJSON(m.Options, &job.Options)
	fromJSON(m.RequesterInfo, &job.Requester)
	if len(m.Metrics) > 0 && string(m.Metrics) != "null" {
		var metrics domain.PostRunMetrics
		fromJSON(m.Metrics, &metrics)
		job.Metrics = &metrics
	}
	return job
}

func metricsToModel(snap domain.MetricsSnapshot) SystemMetricsModel {
	return SystemMetricsModel{
		Timestamp:        snap.Timestamp,
		TotalRoomServers: snap.TotalRoomServers,
		TotalRecorders:   snap.TotalRecorders,
		ActiveRecordings: snap.ActiveRecordings,
		QueueLength:      snap.QueueLength,
		TotalCapacity:    snap.TotalCapacity,
		TotalLoad:        snap.TotalLoad,
		UnhealthyNodes:   snap.UnhealthyNodes,
		Regional:         toJSON(snap.Regional),
	}
}

func metricsFromModel(m SystemMetricsModel) domain.MetricsSnapshot {
	snap := domain.MetricsSnapshot{
		Timestamp:        m.Timestamp,
		TotalRoomServers: m.TotalRoomServers,
		TotalRecorders:   m.TotalRecorders,
		ActiveRecordings: m.ActiveRecordings,
		QueueLength:      m.QueueLength,
		TotalCapacity:    m.TotalCapacity,
		TotalLoad:        m.TotalLoad,
		UnhealthyNodes:   m.UnhealthyNodes,
	}
	fromJSON(m.Regional, &snap.Regional)
	return snap
}
