package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/registry"
)

func newNodeTestRouter() (*chi.Mux, *registry.Registry) {
	reg := registry.New(6, zap.NewNop())
	h := newNodeHandler(reg, zap.NewNop())

	r := chi.NewRouter()
	r.Post("/room-servers", h.RegisterRoomServer)
	r.Post("/room-servers/{id}/heartbeat", h.RoomServerHeartbeat)
	r.Delete("/room-servers/{id}", h.RemoveRoomServer)
	r.Get("/room-servers", h.ListRoomServers)
	r.Post("/recorders", h.RegisterRecorder)
	r.Post("/recorders/{id}/heartbeat", h.RecorderHeartbeat)
	r.Get("/capacity", h.CapacityView)
	return r, reg
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterRoomServerSuccess(t *testing.T) {
	router, _ := newNodeTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/room-servers", registerRoomServerRequest{
		ID: "rs-1", Endpoint: "http://rs-1", Region: "us-east",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
}

func TestRegisterRoomServerMissingFieldsIsBadRequest(t *testing.T) {
	router, _ := newNodeTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/room-servers", registerRoomServerRequest{Region: "us-east"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
}

func TestRegisterRoomServerRejectsUnknownFields(t *testing.T) {
	router, _ := newNodeTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/room-servers",
		bytes.NewReader([]byte(`{"id":"rs-1","endpoint":"http://rs-1","bogusField":true}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomServerHeartbeatNotFoundReturns404(t *testing.T) {
	router, _ := newNodeTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/room-servers/missing/heartbeat", heartbeatRequest{Load: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomServerHeartbeatSuccess(t *testing.T) {
	router, reg := newNodeTestRouter()
	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "e"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/room-servers/rs-1/heartbeat", heartbeatRequest{Load: 3, Rooms: []string{"room-a"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rs, err := reg.GetRoomServer("rs-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rs.CurrentLoad)
}

func TestRemoveRoomServer(t *testing.T) {
	router, reg := newNodeTestRouter()
	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "e"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/room-servers/rs-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = reg.GetRoomServer("rs-1")
	assert.Error(t, err)
}

func TestRegisterRecorderDerivesCapacity(t *testing.T) {
	router, reg := newNodeTestRouter()

	rec := doJSON(t, router, http.MethodPost, "/recorders", registerRecorderRequest{
		Endpoint: "http://rec-1",
		Region:   "us-east",
		Hardware: domain.HardwareSpec{Cores: 8, RAMBytes: 16 * 1024 * 1024 * 1024},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data := env.Data.(map[string]any)
	assert.Contains(t, data["id"], "recorder-us-east-")

	rn, err := reg.GetRecorder(data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, 6, rn.Capacity)
}

func TestCapacityViewReturnsBothFleets(t *testing.T) {
	router, reg := newNodeTestRouter()
	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-1", Endpoint: "e"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/capacity", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.Contains(t, data, "roomServers")
	assert.Contains(t, data, "recorders")
}

func TestListRoomServersFiltersByRegion(t *testing.T) {
	router, reg := newNodeTestRouter()
	_, err := reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-east", Endpoint: "e", Region: "us-east"})
	require.NoError(t, err)
	_, err = reg.RegisterRoomServer(registry.RoomServerDecl{ID: "rs-west", Endpoint: "w", Region: "us-west"})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/room-servers?region=us-east", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data := env.Data.([]any)
	assert.Len(t, data, 1)
}
