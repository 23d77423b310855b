package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/liveness"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/session"
)

// VerdictPublisher receives a session's verdict once, when it becomes final.
// Publish must not block.
type VerdictPublisher interface {
	Publish(v Verdict)
}

// Verdict is the terminal outcome of a liveness session.
type Verdict struct {
	SessionID          string
	Subject            string
	Verified           bool
	TotalFrames        int
	FaceDetectedFrames int
	Movements          []liveness.Movement
	StartedAt          time.Time
	CompletedAt        time.Time
}

// FrameResult is returned for every processed frame.
type FrameResult struct {
	FaceDetected         bool                       `json:"face_detected"`
	MovementDetected     liveness.Movement          `json:"movement_detected"`
	MovementsCompleted   map[liveness.Movement]bool `json:"movements_completed"`
	VerificationComplete bool                       `json:"verification_complete"`
	IsVerified           bool                       `json:"is_verified"`
	Progress             float64                    `json:"progress"`
}

// SessionStatus is a read-only view of a session.
type SessionStatus struct {
	SessionID            string                     `json:"session_id"`
	MovementsCompleted   map[liveness.Movement]bool `json:"movements_completed"`
	VerificationComplete bool                       `json:"verification_complete"`
	IsVerified           bool                       `json:"is_verified"`
	TotalFrames          int                        `json:"total_frames"`
	FaceDetectedFrames   int                        `json:"face_detected_frames"`
	ElapsedSeconds       float64                    `json:"elapsed_seconds"`
	Progress             float64                    `json:"progress"`
	MovementHistory      []liveness.MovementEvent   `json:"movement_history"`
	PositionHistory      []liveness.PositionSample  `json:"position_history"`
}

// LivenessEngine drives liveness sessions: it classifies incoming poses,
// accumulates evidence per session and renders the verdict.
type LivenessEngine struct {
	policy    liveness.Policy
	store     *session.Store
	publisher VerdictPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewLivenessEngine validates policy and constructs the engine. publisher may be nil.
func NewLivenessEngine(policy liveness.Policy, publisher VerdictPublisher, logger *zap.Logger) (*LivenessEngine, error) {
	return newLivenessEngine(policy, publisher, logger, time.Now)
}

func newLivenessEngine(policy liveness.Policy, publisher VerdictPublisher, logger *zap.Logger, now func() time.Time) (*LivenessEngine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &LivenessEngine{
		policy:    policy,
		store:     session.NewStore(policy, session.WithClock(now)),
		publisher: publisher,
		logger:    logger.Named("liveness_engine"),
		now:       now,
	}, nil
}

// Policy returns the policy the engine was built with.
func (e *LivenessEngine) Policy() liveness.Policy {
	return e.policy
}

// CreateSession opens a session on behalf of subject and returns its id.
func (e *LivenessEngine) CreateSession(subject string) string {
	id := e.store.Create(subject)
	logging.WithOperation(e.logger, "usecase.create_session", id).Info("liveness session created", zap.String("subject", subject))
	return id
}

// ProcessFrame ingests one frame. A nil pose means no face was detected
// upstream. Every call counts as a frame, including rejected ones.
func (e *LivenessEngine) ProcessFrame(sessionID string, pose *liveness.PoseSignal) (*FrameResult, error) {
	var (
		result  FrameResult
		verdict *Verdict
	)

	err := e.store.Update(sessionID, func(rec *liveness.Record) error {
		now := e.now()
		rec.TotalFrames++
		result.MovementDetected = liveness.MovementNone

		var (
			complete, verified bool
			frameErr           error
		)
		if pose != nil {
			frameErr = pose.Validate()
		}
		if pose != nil && frameErr == nil {
			result.FaceDetected = true
			result.MovementDetected = rec.ObservePose(*pose, e.policy.Thresholds, now)
			complete, verified = liveness.Evaluate(rec, e.policy)
		} else {
			// A rejected frame still spends the frame budget.
			complete = liveness.FrameBudgetExhausted(rec, e.policy)
		}

		if complete && rec.Finalize(verified, now) {
			v := verdictFromRecord(rec)
			verdict = &v
		}
		if frameErr != nil {
			return frameErr
		}

		result.MovementsCompleted = rec.Completed.Map()
		result.VerificationComplete = rec.VerificationComplete
		result.IsVerified = rec.Verified
		result.Progress = liveness.Progress(rec, e.policy)
		return nil
	})

	if verdict != nil {
		e.publishVerdict(*verdict)
	}
	if err != nil {
		opLogger := logging.WithOperation(e.logger, "usecase.process_frame", sessionID)
		if errors.Is(err, liveness.ErrInvalidPoseSignal) {
			opLogger.Warn("rejected frame", zap.Error(err))
		}
		return nil, logging.NewOperationError("usecase.process_frame", sessionID, err)
	}
	return &result, nil
}

func (e *LivenessEngine) publishVerdict(v Verdict) {
	logging.WithOperation(e.logger, "usecase.process_frame", v.SessionID).Info("liveness verification completed",
		zap.Bool("verified", v.Verified),
		zap.Int("total_frames", v.TotalFrames),
		zap.Int("face_detected_frames", v.FaceDetectedFrames),
		zap.Duration("elapsed", v.CompletedAt.Sub(v.StartedAt)),
	)
	if e.publisher != nil {
		e.publisher.Publish(v)
	}
}

// GetStatus reports the current state of a session without changing it.
func (e *LivenessEngine) GetStatus(sessionID string) (*SessionStatus, error) {
	rec, err := e.store.Get(sessionID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.get_status", sessionID, err)
	}
	return &SessionStatus{
		SessionID:            rec.ID,
		MovementsCompleted:   rec.Completed.Map(),
		VerificationComplete: rec.VerificationComplete,
		IsVerified:           rec.Verified,
		TotalFrames:          rec.TotalFrames,
		FaceDetectedFrames:   rec.FaceDetectedFrames,
		ElapsedSeconds:       e.now().Sub(rec.StartedAt).Seconds(),
		Progress:             liveness.Progress(&rec, e.policy),
		MovementHistory:      rec.MovementHistory.Items(),
		PositionHistory:      rec.PositionHistory.Items(),
	}, nil
}

// DeleteSession retires a session. Later calls for its id fail with
// liveness.ErrSessionNotFound.
func (e *LivenessEngine) DeleteSession(sessionID string) error {
	if !e.store.Delete(sessionID) {
		return logging.NewOperationError("usecase.delete_session", sessionID, liveness.ErrSessionNotFound)
	}
	logging.WithOperation(e.logger, "usecase.delete_session", sessionID).Info("liveness session deleted")
	return nil
}

// Sweep drops sessions idle for longer than the policy TTL.
func (e *LivenessEngine) Sweep() int {
	removed := e.store.Sweep(e.policy.SessionTTL)
	if removed > 0 {
		e.logger.Info("expired liveness sessions swept", zap.Int("removed", removed), zap.Int("remaining", e.store.Len()))
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *LivenessEngine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

func verdictFromRecord(rec *liveness.Record) Verdict {
	movements := make([]liveness.Movement, 0, len(liveness.Movements))
	for _, m := range liveness.Movements {
		if rec.Completed.Has(m) {
			movements = append(movements, m)
		}
	}
	return Verdict{
		SessionID:          rec.ID,
		Subject:            rec.Subject,
		Verified:           rec.Verified,
		TotalFrames:        rec.TotalFrames,
		FaceDetectedFrames: rec.FaceDetectedFrames,
		Movements:          movements,
		StartedAt:          rec.StartedAt,
		CompletedAt:        rec.CompletedAt,
	}
}
