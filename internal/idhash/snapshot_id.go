package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"forge-supply/internal/domain"
)

// ComputeSnapshotID computes a deterministic snapshot_id using SHA256.
// Formula: SHA256(mint|trigger|slot|taken_at_ms)
// Returns hex-encoded hash (64 characters).
func ComputeSnapshotID(
	mint string,
	trigger domain.Trigger,
	slot int64,
	takenAtMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		mint,
		string(trigger),
		slot,
		takenAtMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
