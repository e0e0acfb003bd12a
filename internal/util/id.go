// Package util holds small helpers shared across the engine.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 128-bit random hex id, optionally prefixed so that
// document, revision, snapshot, and issue ids are distinguishable in logs
// ("doc_…", "rev_…", "snap_…", "iss_…").
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
