// Package placement implements the Placement Engine (spec §4.4): a pure
// function over a candidate set and a requirement, filtering in stages (the
// region, codec and GPU-preference stages fall back to the prior set if they
// would empty; the availability filter and hardware floors do not) and then
// scoring the survivors. No state, no I/O — this has no direct teacher counterpart
// (arkeep-io-arkeep dispatches every backup job to the one agent its policy
// names, it never chooses among a fleet), so it is built fresh in the
// teacher's idiom: small named stage functions, one test per behavior, and the
// same "Option<T>, no exceptions" result shape as the rest of this module's
// error handling (spec §9).
package placement

import (
	"sort"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// Requirement describes what a recording job needs from a recorder.
type Requirement struct {
	Region             string
	CodecRequirements  []string
	EstimatedLoad      int
	PreferGPU          bool
	MinCores           int
	MinRAMBytes        int64
}

// Pick runs the full filter+score pipeline over candidates and returns the
// winning recorder. The second return value is false if no recorder
// survives filtering — spec §4.4 makes "none" an explicit valid outcome,
// never an error.
func Pick(candidates []domain.RecorderNode, req Requirement) (domain.RecorderNode, bool) {
	set := filterAvailable(candidates)
	if len(set) == 0 {
		return domain.RecorderNode{}, false
	}

	set = preferRegion(set, req.Region)
	set = preferCodecs(set, req.CodecRequirements)
	set = applyHardwareFloors(set, req)
	if len(set) == 0 {
		return domain.RecorderNode{}, false
	}

	return scoreAndPick(set, req), true
}

// filterAvailable keeps healthy recorders with free capacity (spec §4.4
// step 1).
func filterAvailable(candidates []domain.RecorderNode) []domain.RecorderNode {
	out := make([]domain.RecorderNode, 0, len(candidates))
	for _, c := range candidates {
		if c.IsHealthy && c.CurrentLoad < c.Capacity {
			out = append(out, c)
		}
	}
	return out
}

// preferRegion narrows to the requested region if that would not empty the
// set (spec §4.4 step 2).
func preferRegion(set []domain.RecorderNode, region string) []domain.RecorderNode {
	if region == "" {
		return set
	}
	var narrowed []domain.RecorderNode
	for _, c := range set {
		if c.Region == region {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) == 0 {
		return set
	}
	return narrowed
}

// supportsAll reports whether a recorder's codec set is a superset of
// required.
func supportsAll(supported, required []string) bool {
	have := make(map[string]bool, len(supported))
	for _, c := range supported {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

// preferCodecs narrows to recorders whose supported-codec set is a superset
// of the request, if that would not empty the set (spec §4.4 step 3).
func preferCodecs(set []domain.RecorderNode, required []string) []domain.RecorderNode {
	if len(required) == 0 {
		return set
	}
	var narrowed []domain.RecorderNode
	for _, c := range set {
		if supportsAll(c.SupportedCodecs, required) {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) == 0 {
		return set
	}
	return narrowed
}

// applyHardwareFloors enforces minCores/minRAM as hard filters and
// preferGPU as a soft one that only narrows if GPU nodes remain (spec §4.4
// step 4).
func applyHardwareFloors(set []domain.RecorderNode, req Requirement) []domain.RecorderNode {
	var floored []domain.RecorderNode
	for _, c := range set {
		if req.MinCores > 0 && c.Hardware.Cores < req.MinCores {
			continue
		}
		if req.MinRAMBytes > 0 && c.Hardware.RAMBytes < req.MinRAMBytes {
			continue
		}
		floored = append(floored, c)
	}

	if !req.PreferGPU {
		return floored
	}
	var gpuOnly []domain.RecorderNode
	for _, c := range floored {
		if c.Hardware.HasGPU {
			gpuOnly = append(gpuOnly, c)
		}
	}
	if len(gpuOnly) == 0 {
		return floored
	}
	return gpuOnly
}

// codecMatches reports whether the recorder supports every requested codec
// (used for the score bonus, distinct from the filtering step above which
// may have already fallen back to "allow any").
func codecMatches(c domain.RecorderNode, required []string) bool {
	return len(required) > 0 && supportsAll(c.SupportedCodecs, required)
}

// score computes the weighted score for a single candidate (spec §4.4
// scoring table). The result is clamped at zero.
func score(c domain.RecorderNode, req Requirement) float64 {
	var s float64

	if c.Capacity > 0 {
		freeRatio := float64(c.Capacity-c.CurrentLoad) / float64(c.Capacity)
		s += freeRatio * 40
	}

	if req.Region != "" {
		if c.Region == req.Region {
			s += 25
		} else {
			s -= 10
		}
	}

	switch {
	case c.Hardware.HasGPU && req.EstimatedLoad > 2:
		s += 20
	case !c.Hardware.HasGPU && req.EstimatedLoad <= 1:
		s += 10
	}

	cores := float64(c.Hardware.Cores) * 2
	if cores > 10 {
		cores = 10
	}
	s += cores

	if c.Capacity > 0 {
		loadRatio := float64(c.CurrentLoad) / float64(c.Capacity)
		s -= loadRatio * 5
	}

	if codecMatches(c, req.CodecRequirements) {
		s += 5
	}

	if s < 0 {
		s = 0
	}
	return s
}

// scoreAndPick scores every candidate and returns the maximum, breaking
// ties lexicographically by recorder ID for determinism (spec §4.4, §8 law
// "Placement determinism").
func scoreAndPick(set []domain.RecorderNode, req Requirement) domain.RecorderNode {
	type scored struct {
		node  domain.RecorderNode
		score float64
	}
	results := make([]scored, len(set))
	for i, c := range set {
		results[i] = scored{node: c, score: score(c, req)}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].node.ID < results[j].node.ID
	})

	return results[0].node
}

// PickRoomServer implements §4.4's room-server selection: prefer a server
// already hosting roomID, else the least-loaded healthy server by load
// ratio. Returns false if candidates is empty or none are healthy.
func PickRoomServer(candidates []domain.RoomServer, roomID string) (domain.RoomServer, bool) {
	var healthy []domain.RoomServer
	for _, c := range candidates {
		if c.IsHealthy {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		return domain.RoomServer{}, false
	}

	if roomID != "" {
		for _, c := range healthy {
			for _, r := range c.Rooms {
				if r == roomID {
					return c, true
				}
			}
		}
	}

	best := healthy[0]
	bestRatio := loadRatio(best)
	for _, c := range healthy[1:] {
		ratio := loadRatio(c)
		if ratio < bestRatio || (ratio == bestRatio && c.ID < best.ID) {
			best = c
			bestRatio = ratio
		}
	}
	return best, true
}

func loadRatio(rs domain.RoomServer) float64 {
	if rs.Capacity <= 0 {
		return 0
	}
	return float64(rs.CurrentLoad) / float64(rs.Capacity)
}
