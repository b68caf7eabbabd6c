package signal

import "errors"

// Error taxonomy. Callers wrap these with context and compare with errors.Is.
var (
	// ErrDataQuality marks an out-of-range or missing input that was clamped or skipped.
	ErrDataQuality = errors.New("data quality")
	// ErrUnknownReference marks an instruction naming an undefined intersection, approach or phase.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrClaimExpired marks a claim dropped before it could be honored.
	ErrClaimExpired = errors.New("claim expired")
	// ErrControllerStalled marks a controller that missed its tick.
	ErrControllerStalled = errors.New("controller stalled")
	// ErrConfigInvalid is fatal at startup.
	ErrConfigInvalid = errors.New("invalid configuration")
)
