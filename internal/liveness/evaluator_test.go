package liveness

import (
	"testing"
	"time"
)

func scenarioPolicy() Policy {
	return Policy{
		Thresholds:           Thresholds{Center: 0.08, Horizontal: 0.15, Vertical: 0.12},
		RequiredMovements:    []Movement{MovementCenter, MovementLeft, MovementRight, MovementUp},
		MinRequiredCount:     3,
		MinTotalFrames:       60,
		MinFaceDetectionRate: 0.7,
		HistoryCapacity:      30,
		PositionCapacity:     10,
		SessionTTL:           time.Minute,
	}
}

func TestEvaluateRequiresAllConditions(t *testing.T) {
	p := scenarioPolicy()
	r := NewRecord("s", p, time.Now())
	r.Completed = r.Completed.Add(MovementCenter).Add(MovementLeft).Add(MovementRight)
	r.TotalFrames = 59
	r.FaceDetectedFrames = 59
	if complete, _ := Evaluate(r, p); complete {
		t.Fatal("expected incomplete below min frames")
	}

	r.TotalFrames = 100
	r.FaceDetectedFrames = 69
	if complete, _ := Evaluate(r, p); complete {
		t.Fatal("expected incomplete below detection rate")
	}

	r.FaceDetectedFrames = 70
	complete, verified := Evaluate(r, p)
	if !complete || !verified {
		t.Fatalf("expected complete and verified, got %t %t", complete, verified)
	}
}

func TestEvaluateIgnoresUnrequiredMovements(t *testing.T) {
	p := scenarioPolicy()
	r := NewRecord("s", p, time.Now())
	r.Completed = r.Completed.Add(MovementCenter).Add(MovementLeft).Add(MovementDown)
	r.TotalFrames = 60
	r.FaceDetectedFrames = 60
	if complete, _ := Evaluate(r, p); complete {
		t.Fatal("down is not required and must not count")
	}
	if got := Progress(r, p); got != 50 {
		t.Fatalf("expected progress 50, got %v", got)
	}
}

func TestEvaluateFrameBudgetFails(t *testing.T) {
	p := scenarioPolicy()
	p.MaxFrames = 90
	r := NewRecord("s", p, time.Now())
	r.TotalFrames = 90
	complete, verified := Evaluate(r, p)
	if !complete || verified {
		t.Fatalf("expected failed verdict, got complete=%t verified=%t", complete, verified)
	}
}

func TestRecordObservePoseAndFinalize(t *testing.T) {
	p := scenarioPolicy()
	now := time.Now()
	r := NewRecord("s", p, now)

	if m := r.ObservePose(PoseSignal{0.1, 0.1}, p.Thresholds, now); m != MovementNone {
		t.Fatalf("expected none, got %s", m)
	}
	if r.MovementHistory.Len() != 0 || r.PositionHistory.Len() != 1 {
		t.Fatalf("unexpected history sizes %d/%d", r.MovementHistory.Len(), r.PositionHistory.Len())
	}
	if m := r.ObservePose(PoseSignal{-0.5, 0}, p.Thresholds, now); m != MovementLeft {
		t.Fatalf("expected left, got %s", m)
	}
	if !r.Completed.Has(MovementLeft) || r.FaceDetectedFrames != 2 {
		t.Fatalf("unexpected record state: %+v", r)
	}

	if !r.Finalize(true, now) {
		t.Fatal("expected first finalize to succeed")
	}
	if r.Finalize(false, now) || !r.Verified {
		t.Fatal("finalize must not change a terminal record")
	}
}
