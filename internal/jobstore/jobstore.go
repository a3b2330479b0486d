// Package jobstore is the in-memory active-jobs map plus the pending queue
// (spec §4.3). It owns RecordingJob for as long as the job is active; once a
// job reaches a terminal status it leaves the active map (Remove) and is
// only reachable through the Repository's history query from then on.
//
// Transition enforces the state machine graph in internal/domain and
// audit-logs every attempted move, successful or not — the same shape as
// arkeep-io-arkeep's repositories.JobRepository.UpdateStatus, generalized
// from a single DB column update to enforce the full legality graph
// in-process before anything is persisted.
package jobstore

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
)

// ErrNotFound is returned when a job identifier is not present in the
// active map.
var ErrNotFound = fmt.Errorf("jobstore: job not found")

// Filters narrows ListActive results.
type Filters struct {
	RoomServerID string
	RecorderID   string
	Status       domain.JobStatus // zero value matches any status
}

// Store is the job store. The zero value is not usable — use New.
type Store struct {
	mu     sync.Mutex
	active map[string]*domain.RecordingJob
	queue  []string // job IDs, FIFO order

	now    func() time.Time
	logger *zap.Logger
}

// New creates an empty Store.
func New(logger *zap.Logger) *Store {
	return &Store{
		active: make(map[string]*domain.RecordingJob),
		now:    time.Now,
		logger: logger.Named("jobstore"),
	}
}

// Create inserts a new job in `pending` status with StartTime set to now.
// The caller supplies a fully-formed job (ID already generated by the
// Dispatcher via idgen); Create only takes ownership of it, keeping every
// other field, RecorderID included, as given.
func (s *Store) Create(job domain.RecordingJob) domain.RecordingJob {
	job.Status = domain.StatusPending
	job.StartTime = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job
	s.active[job.ID] = &cp
	return cp
}

// Restore inserts a job loaded from the Repository at startup (spec §4.1
// warm restart), preserving its persisted status and timestamps verbatim
// instead of resetting them the way Create does. A restored job still
// pending placement is re-enqueued so the Health Loop's drain can pick it
// up again.
func (s *Store) Restore(job domain.RecordingJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job
	s.active[job.ID] = &cp
	if job.Status == domain.StatusPending {
		s.queue = append(s.queue, job.ID)
	}
}

// Get returns a copy of the job, or ErrNotFound.
func (s *Store) Get(id string) (domain.RecordingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.active[id]
	if !ok {
		return domain.RecordingJob{}, ErrNotFound
	}
	return *j, nil
}

// ListActive returns copies of active jobs matching f.
func (s *Store) ListActive(f Filters) []domain.RecordingJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RecordingJob
	for _, j := range s.active {
		if f.RoomServerID != "" && j.RoomServerID != f.RoomServerID {
			continue
		}
		if f.RecorderID != "" && j.RecorderID != f.RecorderID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, *j)
	}
	return out
}

// Enqueue appends a job ID to the pending queue. Called by the Dispatcher
// when no recorder is immediately available.
func (s *Store) Enqueue(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, jobID)
}

// QueueSnapshot returns a copy of the pending queue in FIFO order, safe to
// range over without holding the store's lock (spec §4.6 step 3: "snapshot
// of the queue to avoid mutation during iteration").
func (s *Store) QueueSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queue))
	copy(out, s.queue)
	return out
}

// QueueLength returns the number of pending job IDs, for the Metrics
// Aggregator (read-only access to queue length, spec §5).
func (s *Store) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// DequeueFirstMatching removes and returns the first queued job for which
// pred returns true, preserving FIFO order of the remainder. Returns false
// if no match exists.
func (s *Store) DequeueFirstMatching(pred func(domain.RecordingJob) bool) (domain.RecordingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.queue {
		j, ok := s.active[id]
		if !ok {
			continue
		}
		if pred(*j) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return *j, true
		}
	}
	return domain.RecordingJob{}, false
}

// HighestPriorityMatching removes and returns the queued job with the
// highest domain.RecordingJob.Priority among those for which pred returns
// true (SPEC_FULL §12, priority-aware queue drain). Ties keep FIFO order
// (the earliest-queued of equal priority wins).
func (s *Store) HighestPriorityMatching(pred func(domain.RecordingJob) bool) (domain.RecordingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bestIdx := -1
	bestScore := 0
	for i, id := range s.queue {
		j, ok := s.active[id]
		if !ok || !pred(*j) {
			continue
		}
		score := j.Priority(now)
		if bestIdx == -1 || score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx == -1 {
		return domain.RecordingJob{}, false
	}
	id := s.queue[bestIdx]
	j := *s.active[id]
	s.queue = append(s.queue[:bestIdx], s.queue[bestIdx+1:]...)
	return j, true
}

// RemoveFromQueue drops a job ID from the pending queue without returning
// it (used when a queued job's room server has gone unhealthy).
func (s *Store) RemoveFromQueue(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.queue {
		if id == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// ResetForReassignment returns a job to `pending` with its recorder
// unassigned, bypassing the normal transition graph. This is not a
// client-visible transition: it models the Health Loop's internal
// reconciliation when a recorder fails out from under a `recording` or
// `initializing` job (spec §4.6 step 2, "job moves pending -> initializing
// -> recording again"), not an externally observed state change. The
// subsequent call into Dispatcher.Reassign drives the job back through the
// ordinary pending -> initializing -> recording path via Transition.
func (s *Store) ResetForReassignment(id string) (domain.RecordingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.active[id]
	if !ok {
		return domain.RecordingJob{}, ErrNotFound
	}
	if j.Status.IsTerminal() {
		return *j, nil
	}

	from := j.Status
	j.Status = domain.StatusPending
	j.RecorderID = ""
	j.Forwarding = domain.RTPForwardingConfig{}

	s.logger.Info("job reset for reassignment",
		zap.String("job_id", id),
		zap.String("from", string(from)),
	)
	return *j, nil
}

// Remove deletes a job from the active map. Called once a terminal job has
// been persisted — from then on it is only reachable via job history.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Patch mutates fields of an active job in place via fn, without changing
// status. Used by the Dispatcher to set RecorderID, Forwarding, OutputPath,
// etc. between transitions.
func (s *Store) Patch(id string, fn func(*domain.RecordingJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.active[id]
	if !ok {
		return ErrNotFound
	}
	fn(j)
	return nil
}

// Transition enforces the job state machine (internal/domain). An attempt
// to transition a job that is already terminal is idempotently dropped
// (spec §5: "an external event arriving for a terminal job is idempotently
// dropped") rather than returning InvalidTransitionError, since terminal ->
// terminal is a common race (e.g. two failure paths racing to fail the same
// job) rather than a programmer error.
//
// patch, if non-nil, is applied to the job before the status/EndTime fields
// are stamped, so callers can set RecorderID/ErrorMessage/OutputPath in the
// same critical section as the transition (spec §5: "State transitions of a
// single job are strictly serialized").
func (s *Store) Transition(id string, newStatus domain.JobStatus, patch func(*domain.RecordingJob)) (domain.RecordingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.active[id]
	if !ok {
		return domain.RecordingJob{}, ErrNotFound
	}

	if j.Status.IsTerminal() {
		s.logger.Debug("transition on terminal job dropped",
			zap.String("job_id", id),
			zap.String("status", string(j.Status)),
			zap.String("attempted", string(newStatus)),
		)
		return *j, nil
	}

	if !domain.CanTransition(j.Status, newStatus) {
		err := &domain.InvalidTransitionError{From: j.Status, To: newStatus}
		s.logger.Error("invalid job transition attempted",
			zap.String("job_id", id),
			zap.Error(err),
		)
		return domain.RecordingJob{}, err
	}

	from := j.Status
	if patch != nil {
		patch(j)
	}
	j.Status = newStatus
	if newStatus.IsTerminal() {
		now := s.now()
		j.EndTime = &now
	}

	s.logger.Info("job transitioned",
		zap.String("job_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(newStatus)),
	)
	return *j, nil
}
