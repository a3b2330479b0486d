package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorderIDFormat(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := RecorderID("us-east", now)

	assert.Regexp(t, `^recorder-us-east-\d+-[a-z0-9]{6}$`, id)
}

func TestJobIDFormat(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := JobID(now)

	assert.Regexp(t, `^rec-\d+-[a-z0-9]{8}$`, id)
}

func TestIDsAreUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := JobID(now)
		assert.False(t, seen[id], "generated a duplicate job ID")
		seen[id] = true
	}
}
