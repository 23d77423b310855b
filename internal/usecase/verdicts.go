package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/repository"
	"github.com/example/liveness-check/internal/retry"
)

// VerdictRepository defines the persistence operations needed for verdicts.
type VerdictRepository interface {
	SaveVerdict(ctx context.Context, log *repository.VerdictLog) error
	FindBySessionID(ctx context.Context, sessionID string) (*repository.VerdictLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// VerdictView is the client-facing form of a recorded verdict.
type VerdictView struct {
	SessionID          string    `json:"session_id"`
	Subject            string    `json:"subject"`
	Verified           bool      `json:"is_verified"`
	TotalFrames        int       `json:"total_frames"`
	FaceDetectedFrames int       `json:"face_detected_frames"`
	Movements          []string  `json:"movements"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
	DurationMs         int64     `json:"duration_ms"`
}

// VerdictService records verdicts in the background and serves lookups from
// Redis with the database as fallback.
type VerdictService struct {
	repo    VerdictRepository
	cache   Cache
	logger  *zap.Logger
	queue   chan Verdict
	backoff retry.Backoff
}

// NewVerdictService constructs the service with a queue of queueSize pending verdicts.
func NewVerdictService(repo VerdictRepository, cache Cache, logger *zap.Logger, queueSize int) *VerdictService {
	if queueSize < 1 {
		queueSize = 1
	}
	return &VerdictService{
		repo:    repo,
		cache:   cache,
		logger:  logger.Named("verdict_service"),
		queue:   make(chan Verdict, queueSize),
		backoff: retry.DefaultBackoff,
	}
}

// Publish enqueues v without blocking. When the queue is full the verdict is
// dropped and logged.
func (s *VerdictService) Publish(v Verdict) {
	select {
	case s.queue <- v:
	default:
		logging.WithOperation(s.logger, "usecase.publish_verdict", v.SessionID).Warn("verdict queue full, dropping verdict",
			zap.Bool("verified", v.Verified))
	}
}

// Run records queued verdicts until ctx is done, then flushes what is left
// within drainTimeout.
func (s *VerdictService) Run(ctx context.Context, drainTimeout time.Duration) {
	for {
		select {
		case v := <-s.queue:
			_ = s.Record(ctx, v)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case v := <-s.queue:
					_ = s.Record(drainCtx, v)
				default:
					return
				}
			}
		}
	}
}

// Record persists v and then caches it.
func (s *VerdictService) Record(ctx context.Context, v Verdict) error {
	opLogger := logging.WithOperation(s.logger, "usecase.record_verdict", v.SessionID)

	row := verdictLogFromVerdict(v)
	if err := s.repo.SaveVerdict(ctx, row); err != nil {
		opLogger.Error("failed to persist verdict", zap.Error(err))
		return err
	}

	serialized, err := json.Marshal(viewFromLog(row))
	if err != nil {
		opLogger.Error("failed to serialize verdict", zap.Error(err))
		return err
	}

	key := verdictCacheKey(v.SessionID)
	if err := retry.Do(ctx, s.logger, s.backoff, "cache.set.verdict", v.SessionID, func() error {
		return s.cache.Set(ctx, key, string(serialized), verdictCacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verdict", zap.Error(err))
		return err
	}
	return nil
}

// GetVerdict returns the recorded verdict for a session.
func (s *VerdictService) GetVerdict(ctx context.Context, sessionID string) (*VerdictView, error) {
	opLogger := logging.WithOperation(s.logger, "usecase.get_verdict", sessionID)

	var (
		cached string
		hit    bool
	)
	err := retry.Do(ctx, s.logger, s.backoff, "cache.get.verdict", sessionID, func() error {
		value, err := s.cache.Get(ctx, verdictCacheKey(sessionID))
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		cached, hit = value, true
		return nil
	})
	if err != nil {
		opLogger.Warn("failed to read cache", zap.Error(err))
	} else if hit {
		var view VerdictView
		if err := json.Unmarshal([]byte(cached), &view); err != nil {
			opLogger.Warn("failed to decode cached verdict", zap.Error(err))
		} else {
			return &view, nil
		}
	}

	row, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return viewFromLog(row), nil
}

func verdictLogFromVerdict(v Verdict) *repository.VerdictLog {
	movements := make([]string, len(v.Movements))
	for i, m := range v.Movements {
		movements[i] = string(m)
	}
	return &repository.VerdictLog{
		SessionID:          v.SessionID,
		Subject:            v.Subject,
		Verified:           v.Verified,
		TotalFrames:        v.TotalFrames,
		FaceDetectedFrames: v.FaceDetectedFrames,
		Movements:          strings.Join(movements, ","),
		StartedAt:          v.StartedAt.UTC(),
		CompletedAt:        v.CompletedAt.UTC(),
		DurationMs:         v.CompletedAt.Sub(v.StartedAt).Milliseconds(),
	}
}

func viewFromLog(row *repository.VerdictLog) *VerdictView {
	movements := []string{}
	if row.Movements != "" {
		movements = strings.Split(row.Movements, ",")
	}
	return &VerdictView{
		SessionID:          row.SessionID,
		Subject:            row.Subject,
		Verified:           row.Verified,
		TotalFrames:        row.TotalFrames,
		FaceDetectedFrames: row.FaceDetectedFrames,
		Movements:          movements,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
		DurationMs:         row.DurationMs,
	}
}
