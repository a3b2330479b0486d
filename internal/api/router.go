package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/dispatcher"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/metricsagg"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/store"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after every component is wired up and passed to
// NewRouter as a single struct, per arkeep-io-arkeep's internal/api.RouterConfig.
type RouterConfig struct {
	Registry   *registry.Registry
	Jobs       *jobstore.Store
	Dispatcher *dispatcher.Dispatcher
	Repo       store.Repository
	Aggregator *metricsagg.Aggregator
	Bus        *eventbus.Bus
	Scaling    metricsagg.ScalingConfig
	Logger     *zap.Logger
}

// NewRouter builds the fully configured Chi router. All routes are
// registered under /api/v1, mirroring spec §6's inbound ingress list:
// registration, heartbeat, recording start/stop, status, list, history,
// node management, scaling recommendations, capacity view, health probes,
// the recorder event callback, and the push channel.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	nodes := newNodeHandler(cfg.Registry, cfg.Logger)
	recordings := newRecordingHandler(cfg.Dispatcher, cfg.Jobs, cfg.Repo, cfg.Logger)
	metrics := newMetricsHandler(cfg.Aggregator, cfg.Scaling, cfg.Logger)
	ws := newWSHandler(cfg.Bus, cfg.Logger)

	r.Get("/healthz", metrics.Healthz)
	r.Get("/readyz", metrics.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		// Room servers
		r.Post("/room-servers", nodes.RegisterRoomServer)
		r.Get("/room-servers", nodes.ListRoomServers)
		r.Post("/room-servers/{id}/heartbeat", nodes.RoomServerHeartbeat)
		r.Delete("/room-servers/{id}", nodes.RemoveRoomServer)

		// Recorder nodes
		r.Post("/recorders", nodes.RegisterRecorder)
		r.Get("/recorders", nodes.ListRecorders)
		r.Post("/recorders/{id}/heartbeat", nodes.RecorderHeartbeat)
		r.Delete("/recorders/{id}", nodes.RemoveRecorder)

		// Capacity view
		r.Get("/capacity", nodes.CapacityView)

		// Recordings
		r.Post("/recordings", recordings.Start)
		r.Post("/recordings/{id}/stop", recordings.Stop)
		r.Get("/recordings/{id}", recordings.Status)
		r.Get("/recordings", recordings.List)
		r.Get("/recordings/history", recordings.History)
		r.Post("/recordings/events", recordings.RecorderEvent)

		// Metrics and scaling
		r.Get("/metrics/snapshot", metrics.Snapshot)
		r.Get("/metrics/recommendations", metrics.Recommendations)
		r.Get("/metrics/alert-status", metrics.AlertStatus)

		// Push channel
		r.Get("/ws", ws.Subscribe)
	})

	return r
}
