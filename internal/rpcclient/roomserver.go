package rpcclient

import (
	"context"
	"fmt"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// RoomServer is the outbound RPC surface the Dispatcher uses to drive a room
// server (spec §6, "Outbound RPC to room servers").
type RoomServer interface {
	ConfigureRTPForwarding(ctx context.Context, endpoint string, req ConfigureForwardingRequest) error
	StopRTPForwarding(ctx context.Context, endpoint string, jobID, peerID string) error
}

// TargetNode describes the recorder a room server should forward RTP to.
type TargetNode struct {
	IP    string `json:"ip"`
	Ports []int  `json:"ports"`
}

// ConfigureForwardingRequest is the body for POST {roomServer}/configure-rtp-forwarding.
type ConfigureForwardingRequest struct {
	JobID      string             `json:"jobId"`
	PeerID     string             `json:"peerId"`
	TargetNode TargetNode         `json:"targetNode"`
	RTPStreams []domain.RTPStream `json:"rtpStreams"`
}

type stopForwardingRequest struct {
	JobID  string `json:"jobId"`
	PeerID string `json:"peerId"`
}

type roomServerClient struct {
	*Client
}

// NewRoomServer wraps a Client as a RoomServer.
func NewRoomServer(c *Client) RoomServer {
	return &roomServerClient{Client: c}
}

func (r *roomServerClient) ConfigureRTPForwarding(ctx context.Context, endpoint string, req ConfigureForwardingRequest) error {
	url := fmt.Sprintf("%s/configure-rtp-forwarding", endpoint)
	return r.do(ctx, url, req, nil)
}

// StopRTPForwarding is idempotent on the room-server side (spec §6).
func (r *roomServerClient) StopRTPForwarding(ctx context.Context, endpoint string, jobID, peerID string) error {
	url := fmt.Sprintf("%s/stop-rtp-forwarding", endpoint)
	return r.do(ctx, url, stopForwardingRequest{JobID: jobID, PeerID: peerID}, nil)
}
