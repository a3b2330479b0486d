package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCapacityFor(t *testing.T) {
	tests := []struct {
		name string
		hw   HardwareSpec
		want int
	}{
		{
			name: "modest CPU, no GPU, RAM is the binding constraint",
			hw:   HardwareSpec{Cores: 4, RAMBytes: 1 * 1024 * 1024 * 1024, HasGPU: false},
			want: 2, // coreBound = 6, ramBound = 2 -> min is 2
		},
		{
			name: "GPU doubles the core bound",
			hw:   HardwareSpec{Cores: 4, RAMBytes: 16 * 1024 * 1024 * 1024, HasGPU: true},
			want: 12, // coreBound = 12, ramBound = 32 -> min is 12, then capped at 12
		},
		{
			name: "ceiling caps at 12 regardless of hardware",
			hw:   HardwareSpec{Cores: 64, RAMBytes: 256 * 1024 * 1024 * 1024, HasGPU: true},
			want: 12,
		},
		{
			name: "zero hardware yields zero capacity",
			hw:   HardwareSpec{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CapacityFor(tt.hw))
		})
	}
}

func TestPeerInfoHasRole(t *testing.T) {
	peer := PeerInfo{Roles: []PeerRole{RoleAuthenticated, RoleModerator}}

	assert.True(t, peer.HasRole(RoleAuthenticated))
	assert.True(t, peer.HasRole(RoleModerator))
	assert.False(t, peer.HasRole(RolePresenter))
}

func TestRecordingJobPriority(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	plain := RecordingJob{}
	assert.Equal(t, 0, plain.Priority(now))

	moderator := RecordingJob{Peer: PeerInfo{Authenticated: true, Roles: []PeerRole{RoleModerator}}}
	assert.Equal(t, 50, moderator.Priority(now))

	presenter := RecordingJob{Peer: PeerInfo{Roles: []PeerRole{RolePresenter}}}
	assert.Equal(t, 15, presenter.Priority(now))

	waited := RecordingJob{EnqueuedAt: now.Add(-90 * time.Second)}
	assert.Equal(t, 3, waited.Priority(now))

	waitedLong := RecordingJob{EnqueuedAt: now.Add(-20 * time.Minute)}
	assert.Equal(t, 20, waitedLong.Priority(now), "wait boost should cap at 20")

	highQuality := RecordingJob{Options: RecordingOptions{Quality: QualityHigh}}
	assert.Equal(t, -10, highQuality.Priority(now))

	mediumQuality := RecordingJob{Options: RecordingOptions{Quality: QualityMedium}}
	assert.Equal(t, -5, mediumQuality.Priority(now))
}
