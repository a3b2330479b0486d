// Package idgen generates the orchestrator's bespoke identifier formats:
// "recorder-<region>-<unixMillis>-<randSuffix>" for recorder nodes (spec
// §4.2) and "rec-<unixMillis>-<randSuffix>" for recording jobs (spec §4.3).
//
// Neither format is a UUID, so the corpus's google/uuid (used elsewhere in
// this module for repository primary keys) does not apply here — a short
// crypto/rand suffix is the standard-library tool for the job, and no
// third-party ID-formatting library in the retrieved pack targets this
// hyphenated timestamp-plus-suffix shape.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randSuffix returns a random lowercase alphanumeric string of length n.
func randSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a properly configured OS does not fail in
		// practice; fall back to a fixed suffix rather than panicking so
		// ID generation never blocks job/node creation.
		for i := range buf {
			buf[i] = suffixAlphabet[0]
		}
		return string(buf)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out)
}

// RecorderID generates a recorder node identifier for the given region.
func RecorderID(region string, now time.Time) string {
	return fmt.Sprintf("recorder-%s-%d-%s", region, now.UnixMilli(), randSuffix(6))
}

// JobID generates a recording job identifier.
func JobID(now time.Time) string {
	return fmt.Sprintf("rec-%d-%s", now.UnixMilli(), randSuffix(8))
}
