package config

import (
	"crypto/sha256"
	"encoding/binary"
)

// RolloutEnabled reports whether subject falls inside a percent-sized canary
// bucket. The bucket is a SHA-256 hash of the subject modulo 100, so a given
// subject (usually a call id) lands in the same bucket on every host and
// every restart.
func RolloutEnabled(subject string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	sum := sha256.Sum256([]byte(subject))
	bucket := binary.BigEndian.Uint64(sum[:8]) % 100
	return bucket < uint64(percent)
}
