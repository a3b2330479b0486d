package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/registry"
)

type nodeHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func newNodeHandler(reg *registry.Registry, logger *zap.Logger) *nodeHandler {
	return &nodeHandler{registry: reg, logger: logger.Named("api.nodes")}
}

type registerRoomServerRequest struct {
	ID       string              `json:"id"`
	Endpoint string              `json:"endpoint"`
	Region   string              `json:"region"`
	Capacity int                 `json:"capacity"`
	Hardware domain.HardwareSpec `json:"hardware"`
	Metadata map[string]string   `json:"metadata"`
}

func (h *nodeHandler) RegisterRoomServer(w http.ResponseWriter, r *http.Request) {
	var req registerRoomServerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Endpoint == "" {
		ErrBadRequest(w, "id and endpoint are required")
		return
	}

	id, err := h.registry.RegisterRoomServer(registry.RoomServerDecl{
		ID:       req.ID,
		Endpoint: req.Endpoint,
		Region:   req.Region,
		Capacity: req.Capacity,
		Hardware: req.Hardware,
		Metadata: req.Metadata,
	})
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	Created(w, map[string]string{"id": id})
}

type registerRecorderRequest struct {
	Endpoint        string              `json:"endpoint"`
	Region          string              `json:"region"`
	SupportedCodecs []string            `json:"supportedCodecs"`
	Hardware        domain.HardwareSpec `json:"hardware"`
	Metadata        map[string]string   `json:"metadata"`
}

func (h *nodeHandler) RegisterRecorder(w http.ResponseWriter, r *http.Request) {
	var req registerRecorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		ErrBadRequest(w, "endpoint is required")
		return
	}

	id, err := h.registry.RegisterRecorderNode(registry.RecorderDecl{
		Endpoint:        req.Endpoint,
		Region:          req.Region,
		SupportedCodecs: req.SupportedCodecs,
		Hardware:        req.Hardware,
		Metadata:        req.Metadata,
	})
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	Created(w, map[string]string{"id": id})
}

type heartbeatRequest struct {
	Load  int      `json:"load"`
	Rooms []string `json:"rooms,omitempty"`
	Jobs  []string `json:"activeJobs,omitempty"`
}

func (h *nodeHandler) RoomServerHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.RecordRoomServerHeartbeat(id, req.Load, req.Rooms); err != nil {
		ErrNotFound(w, "room server not found")
		return
	}
	NoContent(w)
}

func (h *nodeHandler) RecorderHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.RecordRecorderHeartbeat(id, req.Load, req.Jobs); err != nil {
		ErrNotFound(w, "recorder not found")
		return
	}
	NoContent(w)
}

func (h *nodeHandler) RemoveRoomServer(w http.ResponseWriter, r *http.Request) {
	h.registry.RemoveRoomServer(chi.URLParam(r, "id"))
	NoContent(w)
}

func (h *nodeHandler) RemoveRecorder(w http.ResponseWriter, r *http.Request) {
	h.registry.RemoveRecorder(chi.URLParam(r, "id"))
	NoContent(w)
}

// CapacityView exposes a snapshot of every node for the capacity-view
// endpoint (spec §6 "capacity view").
func (h *nodeHandler) CapacityView(w http.ResponseWriter, r *http.Request) {
	roomServers, recorders := h.registry.SnapshotAll()
	Ok(w, map[string]any{
		"roomServers": roomServers,
		"recorders":   recorders,
	})
}

func (h *nodeHandler) ListRoomServers(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	healthyOnly := r.URL.Query().Get("healthy") == "true"
	Ok(w, h.registry.ListRoomServersByRegion(region, healthyOnly))
}

func (h *nodeHandler) ListRecorders(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	healthyOnly := r.URL.Query().Get("healthy") == "true"
	Ok(w, h.registry.ListRecordersByRegion(region, healthyOnly))
}
