package liveness

// Evaluate decides whether the record satisfies the policy. Success requires
// enough distinct required movements, enough frames and a high enough face
// detection rate; order of movements is irrelevant. When the policy sets a
// frame budget, exhausting it without success yields complete=true,
// verified=false.
func Evaluate(r *Record, p Policy) (complete, verified bool) {
	satisfied := r.Completed.Count(p.RequiredMovements)
	if satisfied >= p.MinRequiredCount &&
		r.TotalFrames >= p.MinTotalFrames &&
		r.DetectionRate() >= p.MinFaceDetectionRate {
		return true, true
	}
	if FrameBudgetExhausted(r, p) {
		return true, false
	}
	return false, false
}

// FrameBudgetExhausted reports whether the policy's frame budget is used up.
func FrameBudgetExhausted(r *Record, p Policy) bool {
	return p.MaxFrames > 0 && r.TotalFrames >= p.MaxFrames
}

// Progress is the share of required movements achieved, in percent.
func Progress(r *Record, p Policy) float64 {
	if len(p.RequiredMovements) == 0 {
		return 0
	}
	pct := 100 * float64(r.Completed.Count(p.RequiredMovements)) / float64(len(p.RequiredMovements))
	if pct > 100 {
		return 100
	}
	return pct
}
