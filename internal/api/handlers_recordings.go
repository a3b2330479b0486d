package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/dispatcher"
	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/placement"
	"github.com/mediaorch/orchestrator/internal/store"
)

type recordingHandler struct {
	dispatcher *dispatcher.Dispatcher
	jobs       *jobstore.Store
	repo       store.Repository
	logger     *zap.Logger
}

func newRecordingHandler(disp *dispatcher.Dispatcher, jobs *jobstore.Store, repo store.Repository, logger *zap.Logger) *recordingHandler {
	return &recordingHandler{dispatcher: disp, jobs: jobs, repo: repo, logger: logger.Named("api.recordings")}
}

type startRecordingRequest struct {
	RoomServerID string                  `json:"roomServerId"`
	RoomID       string                  `json:"roomId"`
	PeerID       string                  `json:"peerId"`
	Peer         domain.PeerInfo         `json:"peer"`
	RTPStreams   []domain.RTPStream      `json:"rtpStreams"`
	Options      domain.RecordingOptions `json:"options"`
	Requester    domain.RequesterInfo    `json:"requester"`
	Placement    placementHint           `json:"placement"`
}

type placementHint struct {
	PreferGPU   bool `json:"preferGpu"`
	MinCores    int  `json:"minCores"`
	MinRAMBytes int64 `json:"minRamBytes"`
}

func (h *recordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// roomServerId may be omitted if roomId is given instead — the
	// Dispatcher then resolves the room server via the Placement Engine's
	// room-server selection (spec §4.4).
	if (req.RoomServerID == "" && req.RoomID == "") || req.PeerID == "" {
		ErrBadRequest(w, "either roomServerId or roomId, and peerId, are required")
		return
	}

	job, err := h.dispatcher.StartRecording(r.Context(), dispatcher.StartRequest{
		RoomServerID: req.RoomServerID,
		RoomID:       req.RoomID,
		PeerID:       req.PeerID,
		Peer:         req.Peer,
		RTPStreams:   req.RTPStreams,
		Options:      req.Options,
		Requester:    req.Requester,
		Placement: placement.Requirement{
			Region:            "",
			CodecRequirements: codecsOf(req.RTPStreams),
			EstimatedLoad:     len(req.RTPStreams),
			PreferGPU:         req.Placement.PreferGPU,
			MinCores:          req.Placement.MinCores,
			MinRAMBytes:       req.Placement.MinRAMBytes,
		},
	})
	if err != nil {
		if errors.Is(err, dispatcher.ErrNoRoomServer) {
			ErrConflict(w, "no-room-server")
			return
		}
		h.logger.Warn("start recording failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, job)
}

func codecsOf(streams []domain.RTPStream) []string {
	var codecs []string
	seen := make(map[string]bool)
	for _, s := range streams {
		if s.CodecName != "" && !seen[s.CodecName] {
			seen[s.CodecName] = true
			codecs = append(codecs, s.CodecName)
		}
	}
	return codecs
}

func (h *recordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.dispatcher.StopRecording(r.Context(), id)
	if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		// A stop-path RPC failure still yields a terminal job (spec §4.5) —
		// only a lookup miss is a true error here.
		Ok(w, job)
		return
	}
	if errors.Is(err, jobstore.ErrNotFound) {
		ErrNotFound(w, "job not found")
		return
	}
	Ok(w, job)
}

func (h *recordingHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(id)
	if err != nil {
		ErrNotFound(w, "job not found")
		return
	}
	Ok(w, job)
}

func (h *recordingHandler) List(w http.ResponseWriter, r *http.Request) {
	f := jobstore.Filters{
		RoomServerID: r.URL.Query().Get("roomServerId"),
		RecorderID:   r.URL.Query().Get("recorderId"),
		Status:       domain.JobStatus(r.URL.Query().Get("status")),
	}
	Ok(w, h.jobs.ListActive(f))
}

func (h *recordingHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.HistoryFilters{
		RoomServerID: q.Get("roomServerId"),
		RecorderID:   q.Get("recorderId"),
		Status:       domain.JobStatus(q.Get("status")),
	}
	p := store.Paging{
		Offset: atoiDefault(q.Get("offset"), 0),
		Limit:  atoiDefault(q.Get("limit"), 50),
	}

	jobs, err := h.repo.QueryJobHistory(r.Context(), f, p)
	if err != nil {
		h.logger.Warn("query job history failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, jobs)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// recorderEventCallback is the body recorders POST back to the
// orchestrator's event-callback endpoint (spec §6: `{jobId, event, data}`).
type recorderEventCallback struct {
	JobID string         `json:"jobId"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// RecorderEvent receives progress/completion events from recorder nodes. It
// does not drive the state machine directly for `progress`; `completed` and
// `failed` are reconciled against the job's current status.
func (h *recordingHandler) RecorderEvent(w http.ResponseWriter, r *http.Request) {
	var cb recorderEventCallback
	if !decodeJSON(w, r, &cb) {
		return
	}

	switch cb.Event {
	case "completed":
		_, err := h.jobs.Transition(cb.JobID, domain.StatusCompleted, func(j *domain.RecordingJob) {
			if path, ok := cb.Data["outputPath"].(string); ok {
				j.OutputPath = path
			}
		})
		if err != nil {
			h.logger.Warn("recorder event transition failed", zap.String("job_id", cb.JobID), zap.Error(err))
		}
	case "failed":
		_, err := h.jobs.Transition(cb.JobID, domain.StatusFailed, func(j *domain.RecordingJob) {
			if reason, ok := cb.Data["reason"].(string); ok {
				j.ErrorMessage = reason
			}
		})
		if err != nil {
			h.logger.Warn("recorder event transition failed", zap.String("job_id", cb.JobID), zap.Error(err))
		}
	}
	NoContent(w)
}
