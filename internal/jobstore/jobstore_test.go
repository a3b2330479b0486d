package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/domain"
)

func newTestStore() *Store {
	return New(zap.NewNop())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	job := s.Create(domain.RecordingJob{ID: "job-1", RoomServerID: "rs-1"})

	assert.Equal(t, domain.StatusPending, job.Status)

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "rs-1", got.RoomServerID)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionLegalPath(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})

	job, err := s.Transition("job-1", domain.StatusInitializing, func(j *domain.RecordingJob) {
		j.RecorderID = "rec-1"
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInitializing, job.Status)
	assert.Equal(t, "rec-1", job.RecorderID)

	job, err = s.Transition("job-1", domain.StatusRecording, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, job.Status)
	assert.Nil(t, job.EndTime)

	job, err = s.Transition("job-1", domain.StatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.EndTime)
}

func TestTransitionIllegalPath(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})

	_, err := s.Transition("job-1", domain.StatusRecording, nil)
	var invalidErr *domain.InvalidTransitionError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestTransitionOnTerminalJobIsDroppedIdempotently(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})
	_, err := s.Transition("job-1", domain.StatusFailed, nil)
	require.NoError(t, err)

	job, err := s.Transition("job-1", domain.StatusCompleted, nil)
	require.NoError(t, err, "a transition attempt on a terminal job must not error")
	assert.Equal(t, domain.StatusFailed, job.Status, "the terminal status must not change")
}

func TestTransitionNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Transition("missing", domain.StatusFailed, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueFIFOOrdering(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})
	s.Create(domain.RecordingJob{ID: "job-2"})
	s.Create(domain.RecordingJob{ID: "job-3"})

	s.Enqueue("job-1")
	s.Enqueue("job-2")
	s.Enqueue("job-3")

	assert.Equal(t, 3, s.QueueLength())

	job, ok := s.DequeueFirstMatching(func(domain.RecordingJob) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 2, s.QueueLength())

	assert.Equal(t, []string{"job-2", "job-3"}, s.QueueSnapshot())
}

func TestDequeueFirstMatchingNoMatch(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1", RoomServerID: "rs-1"})
	s.Enqueue("job-1")

	_, ok := s.DequeueFirstMatching(func(j domain.RecordingJob) bool { return j.RoomServerID == "rs-2" })
	assert.False(t, ok)
	assert.Equal(t, 1, s.QueueLength())
}

func TestHighestPriorityMatchingBreaksTiesByFIFO(t *testing.T) {
	s := newTestStore()
	now := time.Now()

	s.Create(domain.RecordingJob{ID: "low", EnqueuedAt: now})
	s.Create(domain.RecordingJob{ID: "high", Peer: domain.PeerInfo{Roles: []domain.PeerRole{domain.RoleModerator}}, EnqueuedAt: now})
	s.Create(domain.RecordingJob{ID: "also-low", EnqueuedAt: now})

	s.Enqueue("low")
	s.Enqueue("high")
	s.Enqueue("also-low")

	job, ok := s.HighestPriorityMatching(func(domain.RecordingJob) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "high", job.ID)

	// Remaining two are tied at priority 0; FIFO order should keep "low" first.
	job, ok = s.HighestPriorityMatching(func(domain.RecordingJob) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "low", job.ID)
}

func TestRemoveFromQueue(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})
	s.Enqueue("job-1")

	s.RemoveFromQueue("job-1")
	assert.Equal(t, 0, s.QueueLength())
}

func TestPatchMutatesInPlace(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})

	err := s.Patch("job-1", func(j *domain.RecordingJob) {
		j.OutputPath = "/tmp/out.mp4"
	})
	require.NoError(t, err)

	job, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.mp4", job.OutputPath)
}

func TestResetForReassignment(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})
	_, err := s.Transition("job-1", domain.StatusInitializing, func(j *domain.RecordingJob) { j.RecorderID = "rec-1" })
	require.NoError(t, err)
	_, err = s.Transition("job-1", domain.StatusRecording, nil)
	require.NoError(t, err)

	job, err := s.ResetForReassignment("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Empty(t, job.RecorderID)
	assert.Equal(t, domain.RTPForwardingConfig{}, job.Forwarding)

	// it should now be legal to drive the job back through the normal path
	_, err = s.Transition("job-1", domain.StatusInitializing, nil)
	assert.NoError(t, err)
}

func TestResetForReassignmentNoOpOnTerminalJob(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1"})
	_, err := s.Transition("job-1", domain.StatusFailed, nil)
	require.NoError(t, err)

	job, err := s.ResetForReassignment("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
}

func TestResetForReassignmentNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.ResetForReassignment("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveFilters(t *testing.T) {
	s := newTestStore()
	s.Create(domain.RecordingJob{ID: "job-1", RoomServerID: "rs-1", RecorderID: "rec-1"})
	s.Create(domain.RecordingJob{ID: "job-2", RoomServerID: "rs-2", RecorderID: "rec-2"})

	out := s.ListActive(Filters{RoomServerID: "rs-1"})
	require.Len(t, out, 1)
	assert.Equal(t, "job-1", out[0].ID)
}

func TestRestorePreservesPersistedStatus(t *testing.T) {
	s := newTestStore()
	start := time.Now().Add(-time.Hour)

	s.Restore(domain.RecordingJob{ID: "job-1", RoomServerID: "rs-1", Status: domain.StatusRecording, StartTime: start})

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRecording, got.Status)
	assert.Equal(t, start, got.StartTime)
	assert.Equal(t, 0, s.QueueLength(), "a recording job is not re-queued on restore")
}

func TestRestoreReenqueuesPendingJobs(t *testing.T) {
	s := newTestStore()
	s.Restore(domain.RecordingJob{ID: "job-1", RoomServerID: "rs-1", Status: domain.StatusPending})

	assert.Equal(t, []string{"job-1"}, s.QueueSnapshot())
}
