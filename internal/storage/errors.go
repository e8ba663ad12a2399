package storage

import "errors"

// Sentinels shared by the snapshot and timeseries stores.
var (
	// ErrNotFound means no snapshot is recorded for the mint.
	ErrNotFound = errors.New("supply record not found")

	// ErrDuplicateKey means a snapshot ID or (mint, timestamp) sample already
	// exists. Recorded supply is never overwritten.
	ErrDuplicateKey = errors.New("supply record already exists")

	// ErrInvalidInput means a record failed validation before or during write.
	ErrInvalidInput = errors.New("invalid supply record")
)
