package liveness

import "time"

// MovementEvent is a classified frame kept for diagnostics.
type MovementEvent struct {
	Movement Movement   `json:"movement"`
	Pose     PoseSignal `json:"pose"`
	At       time.Time  `json:"timestamp"`
}

// PositionSample is a raw pose kept for telemetry.
type PositionSample struct {
	Pose PoseSignal `json:"pose"`
	At   time.Time  `json:"timestamp"`
}

// Record is the state of one liveness session. It is owned by the session
// store; callers only ever see clones.
type Record struct {
	ID           string
	Subject      string
	StartedAt    time.Time
	LastActivity time.Time

	Completed       MovementSet
	MovementHistory Ring[MovementEvent]
	PositionHistory Ring[PositionSample]

	TotalFrames        int
	FaceDetectedFrames int

	VerificationComplete bool
	Verified             bool
	CompletedAt          time.Time
}

// NewRecord returns an empty record with histories sized by the policy.
func NewRecord(id string, policy Policy, now time.Time) *Record {
	return &Record{
		ID:              id,
		StartedAt:       now,
		LastActivity:    now,
		MovementHistory: NewRing[MovementEvent](policy.HistoryCapacity),
		PositionHistory: NewRing[PositionSample](policy.PositionCapacity),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() Record {
	c := *r
	c.MovementHistory = r.MovementHistory.Clone()
	c.PositionHistory = r.PositionHistory.Clone()
	return c
}

// DetectionRate is the fraction of frames that carried a pose.
func (r *Record) DetectionRate() float64 {
	total := r.TotalFrames
	if total < 1 {
		total = 1
	}
	return float64(r.FaceDetectedFrames) / float64(total)
}

// ObservePose records a detected pose and returns its classification. A label
// other than MovementNone is added to the completed set and movement history.
func (r *Record) ObservePose(pose PoseSignal, t Thresholds, now time.Time) Movement {
	r.FaceDetectedFrames++
	r.PositionHistory.Push(PositionSample{Pose: pose, At: now})

	m := Classify(pose, t)
	if m == MovementNone {
		return m
	}
	r.Completed = r.Completed.Add(m)
	r.MovementHistory.Push(MovementEvent{Movement: m, Pose: pose, At: now})
	return m
}

// Finalize freezes the verdict. It reports false when the record was
// already terminal.
func (r *Record) Finalize(verified bool, now time.Time) bool {
	if r.VerificationComplete {
		return false
	}
	r.VerificationComplete = true
	r.Verified = verified
	r.CompletedAt = now
	return true
}
