package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const shutdownTimeout = 3 * time.Second

func secondsToDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// hashPayload derives the result-cache key component for a request payload.
// JSON marshaling is order-stable for map keys, so equal payloads always
// hash identically regardless of transport-level key ordering.
func hashPayload(payload any) string {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
