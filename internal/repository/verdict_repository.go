package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/liveness-check/internal/retry"
)

// ErrVerdictNotFound is returned when no verdict was recorded for a session.
var ErrVerdictNotFound = errors.New("repository: verdict not found")

// VerdictLog is the audit row written when a liveness session reaches its verdict.
type VerdictLog struct {
	ID                 uint      `gorm:"primaryKey"`
	SessionID          string    `gorm:"column:session_id;uniqueIndex;size:64"`
	Subject            string    `gorm:"column:subject;size:128;index"`
	Verified           bool      `gorm:"column:verified"`
	TotalFrames        int       `gorm:"column:total_frames"`
	FaceDetectedFrames int       `gorm:"column:face_detected_frames"`
	Movements          string    `gorm:"column:movements;size:64"`
	StartedAt          time.Time `gorm:"column:started_at"`
	CompletedAt        time.Time `gorm:"column:completed_at"`
	DurationMs         int64     `gorm:"column:duration_ms"`
}

// TableName overrides the default table name.
func (VerdictLog) TableName() string {
	return "liveness_verdicts"
}

// MetricsAggregation holds the raw aggregates behind the metrics summary.
type MetricsAggregation struct {
	TotalCount        int64
	VerifiedCount     int64
	AverageFrames     float64
	AverageDurationMs float64
}

// VerdictRepository persists liveness verdicts.
type VerdictRepository struct {
	db      *gorm.DB
	logger  *zap.Logger
	backoff retry.Backoff
}

// NewVerdictRepository creates a new repository instance.
func NewVerdictRepository(db *gorm.DB, logger *zap.Logger) *VerdictRepository {
	return &VerdictRepository{
		db:      db,
		logger:  logger.Named("verdict_repository"),
		backoff: retry.DefaultBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerdictRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerdictLog{})
}

// SaveVerdict inserts a verdict row, retrying transient failures.
func (r *VerdictRepository) SaveVerdict(ctx context.Context, log *VerdictLog) error {
	return r.executeWithRetry(ctx, "repository.save_verdict", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySessionID loads the verdict recorded for a session.
func (r *VerdictRepository) FindBySessionID(ctx context.Context, sessionID string) (*VerdictLog, error) {
	var log VerdictLog
	err := r.executeWithRetry(ctx, "repository.find_verdict", sessionID, func() error {
		return r.db.WithContext(ctx).First(&log, "session_id = ?", sessionID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerdictNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes every recorded verdict.
func (r *VerdictRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerdictLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0) AS verified_count,
				COALESCE(AVG(total_frames), 0) AS average_frames,
				COALESCE(AVG(duration_ms), 0) AS average_duration_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerdictRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.backoff, operation, sessionID, fn)
}
