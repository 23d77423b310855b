package liveness

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Policy bundles the classifier thresholds, the completion rules and the
// per-session resource limits.
type Policy struct {
	Thresholds           Thresholds
	RequiredMovements    []Movement
	MinRequiredCount     int
	MinTotalFrames       int
	MinFaceDetectionRate float64
	HistoryCapacity      int
	PositionCapacity     int
	SessionTTL           time.Duration
	// MaxFrames forces a failed verdict once reached without success. Zero disables it.
	MaxFrames int
}

const (
	ProfileMesh    = "mesh"
	ProfileCascade = "cascade"
)

var defaultRequired = []Movement{MovementLeft, MovementRight, MovementUp, MovementCenter}

// MeshPolicy is tuned for landmark-based pose extraction (nose tip position).
func MeshPolicy() Policy {
	return Policy{
		Thresholds:           Thresholds{Center: 0.08, Horizontal: 0.15, Vertical: 0.12},
		RequiredMovements:    append([]Movement(nil), defaultRequired...),
		MinRequiredCount:     3,
		MinTotalFrames:       60,
		MinFaceDetectionRate: 0.7,
		HistoryCapacity:      30,
		PositionCapacity:     10,
		SessionTTL:           10 * time.Minute,
	}
}

// CascadePolicy is tuned for bounding-box pose extraction, which is noisier.
func CascadePolicy() Policy {
	return Policy{
		Thresholds:           Thresholds{Center: 0.1, Horizontal: 0.2, Vertical: 0.15},
		RequiredMovements:    append([]Movement(nil), defaultRequired...),
		MinRequiredCount:     3,
		MinTotalFrames:       45,
		MinFaceDetectionRate: 0.6,
		HistoryCapacity:      30,
		PositionCapacity:     15,
		SessionTTL:           10 * time.Minute,
	}
}

// PolicyForProfile returns the built-in policy registered under name.
func PolicyForProfile(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProfileMesh, "":
		return MeshPolicy(), nil
	case ProfileCascade:
		return CascadePolicy(), nil
	default:
		return Policy{}, fmt.Errorf("%w: unknown profile %q", ErrPolicyMisconfigured, name)
	}
}

// Validate checks every field and wraps the first problem in ErrPolicyMisconfigured.
func (p Policy) Validate() error {
	if err := p.validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrPolicyMisconfigured, err)
	}
	return nil
}

func (p Policy) validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"center threshold", p.Thresholds.Center},
		{"horizontal threshold", p.Thresholds.Horizontal},
		{"vertical threshold", p.Thresholds.Vertical},
	}
	for _, th := range thresholds {
		if !isFinite(th.value) || th.value <= 0 {
			return fmt.Errorf("%s must be a positive number, got %v", th.name, th.value)
		}
	}

	if len(p.RequiredMovements) == 0 {
		return fmt.Errorf("required movements must not be empty")
	}
	var seen MovementSet
	for _, m := range p.RequiredMovements {
		if m.bit() == 0 {
			return fmt.Errorf("required movement %q is not trackable", m)
		}
		if seen.Has(m) {
			return fmt.Errorf("required movement %q listed twice", m)
		}
		seen = seen.Add(m)
	}

	if p.MinRequiredCount < 1 || p.MinRequiredCount > len(p.RequiredMovements) {
		return fmt.Errorf("min required count %d outside [1, %d]", p.MinRequiredCount, len(p.RequiredMovements))
	}
	if p.MinTotalFrames < 0 {
		return fmt.Errorf("min total frames must not be negative, got %d", p.MinTotalFrames)
	}
	if math.IsNaN(p.MinFaceDetectionRate) || p.MinFaceDetectionRate <= 0 || p.MinFaceDetectionRate > 1 {
		return fmt.Errorf("min face detection rate %v outside (0, 1]", p.MinFaceDetectionRate)
	}
	if p.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be positive, got %d", p.HistoryCapacity)
	}
	if p.PositionCapacity < 1 {
		return fmt.Errorf("position capacity must be positive, got %d", p.PositionCapacity)
	}
	if p.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", p.SessionTTL)
	}
	if p.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", p.MaxFrames)
	}
	if p.MaxFrames > 0 && p.MaxFrames < p.MinTotalFrames {
		return fmt.Errorf("max frames %d below min total frames %d", p.MaxFrames, p.MinTotalFrames)
	}
	return nil
}
