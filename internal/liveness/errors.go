package liveness

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, deleted or expired session ids.
	ErrSessionNotFound = errors.New("liveness: session not found")
	// ErrInvalidPoseSignal rejects a frame whose pose carries non-finite values.
	ErrInvalidPoseSignal = errors.New("liveness: invalid pose signal")
	// ErrPolicyMisconfigured is returned when a policy fails validation.
	ErrPolicyMisconfigured = errors.New("liveness: policy misconfigured")
)
