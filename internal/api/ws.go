package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/wschannel"
)

type wsHandler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func newWSHandler(bus *eventbus.Bus, logger *zap.Logger) *wsHandler {
	return &wsHandler{bus: bus, logger: logger.Named("api.ws")}
}

var wsQueryParamToClass = map[string]eventbus.Class{
	"metrics":        eventbus.ClassMetrics,
	"recordings":     eventbus.ClassRecordings,
	"scaling_alerts": eventbus.ClassScaling,
}

// Subscribe upgrades the connection to a WebSocket and wires it into the
// Event Bus (spec §6 "push channel"). The initial class set comes from
// repeated ?class= query parameters; further classes may be added by
// subscribe_* frames once connected.
func (h *wsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var classes []eventbus.Class
	for _, name := range r.URL.Query()["class"] {
		if class, ok := wsQueryParamToClass[name]; ok {
			classes = append(classes, class)
		}
	}

	client, err := wschannel.Upgrade(h.bus, w, r, classes, h.logger)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client.Run()
}
