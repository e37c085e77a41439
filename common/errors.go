package common

import "errors"

var (
	// ErrNotFound is returned when an event or control call references a
	// switch, port or group the controller does not know about.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for configuration and control-surface input
	// that is missing or out of range.
	ErrValidation = errors.New("validation failed")

	// ErrComputationInProgress is returned when a computation is requested
	// while another pass is still running.
	ErrComputationInProgress = errors.New("computation already in progress")

	// ErrMalformedProbe is returned for latency probe payloads that cannot be parsed.
	ErrMalformedProbe = errors.New("malformed probe payload")
)
