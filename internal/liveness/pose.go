package liveness

import (
	"fmt"
	"math"
	"strings"
)

// PoseSignal is the displacement of the detected face center from the frame
// center, normalized to roughly [-1, 1] on each axis. Positive vertical values
// point toward the bottom of the frame.
type PoseSignal struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

// Validate reports ErrInvalidPoseSignal for NaN or infinite components.
func (p PoseSignal) Validate() error {
	if !isFinite(p.Horizontal) || !isFinite(p.Vertical) {
		return fmt.Errorf("%w: horizontal=%v vertical=%v", ErrInvalidPoseSignal, p.Horizontal, p.Vertical)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Movement is a discrete head movement label.
type Movement string

const (
	MovementNone   Movement = "none"
	MovementCenter Movement = "center"
	MovementLeft   Movement = "left"
	MovementRight  Movement = "right"
	MovementUp     Movement = "up"
	MovementDown   Movement = "down"
)

// Movements lists every trackable label in display order.
var Movements = []Movement{MovementCenter, MovementLeft, MovementRight, MovementUp, MovementDown}

// ParseMovement converts a case-insensitive label. "none" is not accepted.
func ParseMovement(s string) (Movement, error) {
	m := Movement(strings.ToLower(strings.TrimSpace(s)))
	if m.bit() == 0 {
		return MovementNone, fmt.Errorf("unknown movement %q", s)
	}
	return m, nil
}

func (m Movement) bit() MovementSet {
	switch m {
	case MovementCenter:
		return 1 << 0
	case MovementLeft:
		return 1 << 1
	case MovementRight:
		return 1 << 2
	case MovementUp:
		return 1 << 3
	case MovementDown:
		return 1 << 4
	default:
		return 0
	}
}

// MovementSet is the set of movements achieved at least once.
type MovementSet uint8

// Add returns the set with m included. MovementNone is ignored.
func (s MovementSet) Add(m Movement) MovementSet {
	return s | m.bit()
}

// Has reports whether m is in the set.
func (s MovementSet) Has(m Movement) bool {
	b := m.bit()
	return b != 0 && s&b != 0
}

// Count returns how many of the given movements are in the set.
func (s MovementSet) Count(of []Movement) int {
	n := 0
	for _, m := range of {
		if s.Has(m) {
			n++
		}
	}
	return n
}

// Map renders the set as the per-label flags exposed to clients.
func (s MovementSet) Map() map[Movement]bool {
	out := make(map[Movement]bool, len(Movements))
	for _, m := range Movements {
		out[m] = s.Has(m)
	}
	return out
}

// Thresholds configures Classify. All values must be positive.
type Thresholds struct {
	Center     float64 `json:"center"`
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

// Classify maps a pose to a movement. The first matching rule wins, so
// horizontal movement takes precedence over vertical; every comparison is
// strict.
func Classify(p PoseSignal, t Thresholds) Movement {
	switch {
	case math.Abs(p.Horizontal) < t.Center && math.Abs(p.Vertical) < t.Center:
		return MovementCenter
	case p.Horizontal > t.Horizontal:
		return MovementRight
	case p.Horizontal < -t.Horizontal:
		return MovementLeft
	case p.Vertical < -t.Vertical:
		return MovementUp
	case p.Vertical > t.Vertical:
		return MovementDown
	default:
		return MovementNone
	}
}
