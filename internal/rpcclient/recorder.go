package rpcclient

import (
	"context"
	"fmt"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// Recorder is the outbound RPC surface the Dispatcher uses to drive a
// recorder node (spec §6, "Outbound RPC to recorder nodes"). Defined as an
// interface so dispatcher tests can substitute a hand-written fake instead
// of a real HTTP client (SPEC_FULL.md's ambient test-tooling section).
type Recorder interface {
	AllocatePorts(ctx context.Context, endpoint string, count int) ([]int, error)
	StartRecording(ctx context.Context, endpoint string, req StartRecordingRequest) error
	StopRecording(ctx context.Context, endpoint string, jobID string) error
}

// StartRecordingRequest is the request body for POST {recorder}/start-recording.
type StartRecordingRequest struct {
	JobID                 string             `json:"jobId"`
	PeerInfo               domain.PeerInfo    `json:"peerInfo"`
	RTPStreams             []domain.RTPStream `json:"rtpStreams"`
	Options                domain.RecordingOptions `json:"options"`
	RoomInfo               RoomInfo           `json:"roomInfo"`
	OrchestratorCallbackURL string            `json:"orchestratorCallbackUrl"`
}

// RoomInfo identifies the originating room server and room for a recording.
type RoomInfo struct {
	RoomServerID string `json:"roomServerId"`
	RoomID       string `json:"roomId"`
}

type allocatePortsRequest struct {
	Count int `json:"count"`
}

type allocatePortsResponse struct {
	Ports []int `json:"ports"`
}

type jobIDRequest struct {
	JobID string `json:"jobId"`
}

// recorderClient is the default Recorder backed by Client.
type recorderClient struct {
	*Client
}

// NewRecorder wraps a Client as a Recorder.
func NewRecorder(c *Client) Recorder {
	return &recorderClient{Client: c}
}

func (r *recorderClient) AllocatePorts(ctx context.Context, endpoint string, count int) ([]int, error) {
	var resp allocatePortsResponse
	url := fmt.Sprintf("%s/allocate-ports", endpoint)
	if err := r.do(ctx, url, allocatePortsRequest{Count: count}, &resp); err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

func (r *recorderClient) StartRecording(ctx context.Context, endpoint string, req StartRecordingRequest) error {
	url := fmt.Sprintf("%s/start-recording", endpoint)
	return r.do(ctx, url, req, nil)
}

// StopRecording is idempotent on the recorder side (spec §6) — a second call
// for a job that has already stopped must still return success.
func (r *recorderClient) StopRecording(ctx context.Context, endpoint string, jobID string) error {
	url := fmt.Sprintf("%s/stop-recording", endpoint)
	return r.do(ctx, url, jobIDRequest{JobID: jobID}, nil)
}
