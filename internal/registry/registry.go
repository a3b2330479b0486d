// Package registry is the in-memory authoritative map of room servers and
// recorder nodes: registration, heartbeats, health state, and load
// accounting. It is safe for concurrent use — the gRPC-free HTTP ingress
// handlers, the Dispatcher, and the Health Loop all reach into it from
// separate goroutines.
//
// The registry owns nodes; jobs reference nodes by identifier only
// (Registry and jobstore.Store never hold pointers into each other).
//
// Modeled on arkeep-io-arkeep's internal/agentmanager.Manager: a single
// RWMutex-guarded map per node kind, read accessors that return copies, and
// a heartbeat contract that always wins over a prior timeout assertion
// (spec §5, "Ordering").
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
	"github.com/mediaorch/orchestrator/internal/idgen"
)

// RoomServerDecl is the caller-supplied declaration used to register a room
// server. The identifier is caller-supplied and stable across restarts.
type RoomServerDecl struct {
	ID       string
	Endpoint string
	Region   string
	Capacity int
	Hardware domain.HardwareSpec
	Metadata map[string]string
}

// RecorderDecl is the caller-supplied declaration used to register a
// recorder node. Capacity is derived, not supplied (spec §3).
type RecorderDecl struct {
	Endpoint        string
	Region          string
	SupportedCodecs []string
	Hardware        domain.HardwareSpec
	Metadata        map[string]string
}

// ErrNotFound is returned by Get and mutating operations when the
// identifier does not name a registered node.
var ErrNotFound = fmt.Errorf("registry: node not found")

// Registry is the node registry. The zero value is not usable — use New.
type Registry struct {
	mu sync.RWMutex

	roomServers map[string]*domain.RoomServer
	recorders   map[string]*domain.RecorderNode

	maxConcurrentPerNode int
	now                  func() time.Time
	logger               *zap.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty Registry. maxConcurrentPerNode is the config-supplied
// ceiling (spec §6 "maxConcurrentPerNode") applied on top of the
// hardware-derived recorder capacity via min().
func New(maxConcurrentPerNode int, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		roomServers:          make(map[string]*domain.RoomServer),
		recorders:            make(map[string]*domain.RecorderNode),
		maxConcurrentPerNode: maxConcurrentPerNode,
		now:                  time.Now,
		logger:               logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterRoomServer adds or replaces a room server. Re-registration with
// the same ID refreshes endpoint/region/capacity/hardware/metadata, marks
// the server healthy with a fresh heartbeat, and keeps its CurrentLoad and
// Rooms so an in-flight recorder's load accounting is not clobbered by a
// reconnecting room server.
func (r *Registry) RegisterRoomServer(decl RoomServerDecl) (string, error) {
	if decl.ID == "" {
		return "", fmt.Errorf("registry: room server id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.roomServers[decl.ID]
	rs := &domain.RoomServer{
		ID:            decl.ID,
		Endpoint:      decl.Endpoint,
		Region:        decl.Region,
		Capacity:      decl.Capacity,
		Hardware:      decl.Hardware,
		Metadata:      decl.Metadata,
		IsHealthy:     true,
		LastHeartbeat: r.now(),
	}
	if exists {
		rs.CurrentLoad = existing.CurrentLoad
		rs.Rooms = existing.Rooms
	}
	r.roomServers[decl.ID] = rs

	r.logger.Info("room server registered",
		zap.String("id", decl.ID),
		zap.String("region", decl.Region),
		zap.Bool("reregistration", exists),
	)
	return decl.ID, nil
}

// RegisterRecorderNode adds a new recorder node and returns its generated
// identifier. Capacity is derived from hardware (spec §3) and then clamped
// to maxConcurrentPerNode if that ceiling is lower.
func (r *Registry) RegisterRecorderNode(decl RecorderDecl) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := idgen.RecorderID(decl.Region, r.now())

	capacity := domain.CapacityFor(decl.Hardware)
	if r.maxConcurrentPerNode > 0 && capacity > r.maxConcurrentPerNode {
		capacity = r.maxConcurrentPerNode
	}

	node := &domain.RecorderNode{
		ID:              id,
		Endpoint:        decl.Endpoint,
		Region:          decl.Region,
		SupportedCodecs: decl.SupportedCodecs,
		Hardware:        decl.Hardware,
		Metadata:        decl.Metadata,
		Capacity:        capacity,
		IsHealthy:       true,
		LastHeartbeat:   r.now(),
	}
	r.recorders[id] = node

	r.logger.Info("recorder node registered",
		zap.String("id", id),
		zap.String("region", decl.Region),
		zap.Int("derived_capacity", capacity),
	)
	return id, nil
}

// RestoreRoomServer inserts a room server loaded from the Repository at
// startup (spec §4.1 warm restart), preserving its persisted identifier,
// load and health fields verbatim rather than deriving fresh ones the way
// RegisterRoomServer does.
func (r *Registry) RestoreRoomServer(rs domain.RoomServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rs
	r.roomServers[rs.ID] = &cp
}

// RestoreRecorderNode inserts a recorder node loaded from the Repository at
// startup (spec §4.1 warm restart), preserving its persisted identifier,
// load and health fields verbatim.
func (r *Registry) RestoreRecorderNode(rn domain.RecorderNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rn
	r.recorders[rn.ID] = &cp
}

// RecordRoomServerHeartbeat refreshes a room server's liveness, load and
// room list. A heartbeat always restores health, even if the node was just
// marked unhealthy by the Health Loop (spec §5 "Ordering").
func (r *Registry) RecordRoomServerHeartbeat(id string, load int, rooms []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.roomServers[id]
	if !ok {
		return ErrNotFound
	}
	rs.LastHeartbeat = r.now()
	rs.CurrentLoad = load
	rs.Rooms = rooms
	rs.IsHealthy = true
	return nil
}

// RecordRecorderHeartbeat refreshes a recorder's liveness, load and active
// job list.
func (r *Registry) RecordRecorderHeartbeat(id string, load int, activeJobs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.recorders[id]
	if !ok {
		return ErrNotFound
	}
	rn.LastHeartbeat = r.now()
	rn.CurrentLoad = load
	rn.ActiveJobs = activeJobs
	rn.IsHealthy = true
	return nil
}

// MarkRoomServerUnhealthy clears the health flag. Idempotent.
func (r *Registry) MarkRoomServerUnhealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.roomServers[id]; ok {
		rs.IsHealthy = false
	}
}

// MarkRecorderUnhealthy clears the health flag. Idempotent.
func (r *Registry) MarkRecorderUnhealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.recorders[id]; ok {
		rn.IsHealthy = false
	}
}

// RemoveRoomServer deletes a room server entry.
func (r *Registry) RemoveRoomServer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roomServers, id)
}

// RemoveRecorder deletes a recorder entry.
func (r *Registry) RemoveRecorder(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recorders, id)
}

// GetRoomServer returns a copy of the room server, or ErrNotFound.
func (r *Registry) GetRoomServer(id string) (domain.RoomServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.roomServers[id]
	if !ok {
		return domain.RoomServer{}, ErrNotFound
	}
	return *rs, nil
}

// GetRecorder returns a copy of the recorder, or ErrNotFound.
func (r *Registry) GetRecorder(id string) (domain.RecorderNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.recorders[id]
	if !ok {
		return domain.RecorderNode{}, ErrNotFound
	}
	return *rn, nil
}

// ListRoomServersByRegion returns copies of room servers in region,
// optionally filtered to healthy-only. An empty region matches all regions.
func (r *Registry) ListRoomServersByRegion(region string, healthyOnly bool) []domain.RoomServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.RoomServer
	for _, rs := range r.roomServers {
		if region != "" && rs.Region != region {
			continue
		}
		if healthyOnly && !rs.IsHealthy {
			continue
		}
		out = append(out, *rs)
	}
	return out
}

// ListRecordersByRegion returns copies of recorders in region, optionally
// filtered to healthy-only. An empty region matches all regions.
func (r *Registry) ListRecordersByRegion(region string, healthyOnly bool) []domain.RecorderNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.RecorderNode
	for _, rn := range r.recorders {
		if region != "" && rn.Region != region {
			continue
		}
		if healthyOnly && !rn.IsHealthy {
			continue
		}
		out = append(out, *rn)
	}
	return out
}

// AllHealthyRecorders returns copies of every healthy recorder, regardless
// of region — the candidate set the Placement Engine scores over.
func (r *Registry) AllHealthyRecorders() []domain.RecorderNode {
	return r.ListRecordersByRegion("", true)
}

// AllRoomServers returns copies of every room server, healthy or not,
// regardless of region — the candidate set for room-server selection when
// a request names a room but not a specific room server (spec §4.4).
func (r *Registry) AllRoomServers() []domain.RoomServer {
	return r.ListRoomServersByRegion("", false)
}

// SnapshotAll returns copies of every room server and recorder node, for
// the Metrics Aggregator and capacity-view ingress handler.
func (r *Registry) SnapshotAll() ([]domain.RoomServer, []domain.RecorderNode) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]domain.RoomServer, 0, len(r.roomServers))
	for _, rs := range r.roomServers {
		rooms = append(rooms, *rs)
	}
	recorders := make([]domain.RecorderNode, 0, len(r.recorders))
	for _, rn := range r.recorders {
		recorders = append(recorders, *rn)
	}
	return rooms, recorders
}

// AdjustRecorderLoad changes a recorder's CurrentLoad by delta and keeps
// ActiveJobs in sync, clamping load at zero (spec invariant: currentLoad >=
// 0). addJobID/removeJobID are optional job identifiers to append/remove
// from ActiveJobs; pass "" to skip.
func (r *Registry) AdjustRecorderLoad(id string, delta int, addJobID, removeJobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.recorders[id]
	if !ok {
		return ErrNotFound
	}

	rn.CurrentLoad += delta
	if rn.CurrentLoad < 0 {
		rn.CurrentLoad = 0
	}

	if addJobID != "" {
		rn.ActiveJobs = append(rn.ActiveJobs, addJobID)
	}
	if removeJobID != "" {
		filtered := rn.ActiveJobs[:0]
		for _, j := range rn.ActiveJobs {
			if j != removeJobID {
				filtered = append(filtered, j)
			}
		}
		rn.ActiveJobs = filtered
	}
	return nil
}

// AdjustRoomServerLoad changes a room server's CurrentLoad by delta,
// clamping at zero.
func (r *Registry) AdjustRoomServerLoad(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.roomServers[id]
	if !ok {
		return ErrNotFound
	}
	rs.CurrentLoad += delta
	if rs.CurrentLoad < 0 {
		rs.CurrentLoad = 0
	}
	return nil
}

// ReapStale scans every node and marks unhealthy any whose last heartbeat is
// older than timeout. Returns the IDs newly marked unhealthy this call
// (already-unhealthy nodes are skipped so callers can treat the return value
// as "affected" for reconciliation, per spec §4.6 step 1).
func (r *Registry) ReapStale(timeout time.Duration) (staleRoomServers, staleRecorders []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, rs := range r.roomServers {
		if rs.IsHealthy && now.Sub(rs.LastHeartbeat) > timeout {
			rs.IsHealthy = false
			staleRoomServers = append(staleRoomServers, id)
		}
	}
	for id, rn := range r.recorders {
		if rn.IsHealthy && now.Sub(rn.LastHeartbeat) > timeout {
			rn.IsHealthy = false
			staleRecorders = append(staleRecorders, id)
		}
	}
	return staleRoomServers, staleRecorders
}
