package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/liveness-check/internal/liveness"
)

// Config is the service configuration read from the environment.
type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN       string        `env:"DATABASE_DSN" envDefault:"host=postgres user=postgres password=postgres dbname=liveness port=5432 sslmode=disable"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"redis:6379"`
	PoseExtractorAddr string        `env:"POSE_EXTRACTOR_ADDR" envDefault:"pose-service:50051"`
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWTAudience       string        `env:"JWT_AUDIENCE"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SweepInterval     time.Duration `env:"LIVENESS_SWEEP_INTERVAL" envDefault:"1m"`
	VerdictQueueSize  int           `env:"LIVENESS_VERDICT_QUEUE_SIZE" envDefault:"256"`
	Profile           string        `env:"LIVENESS_PROFILE" envDefault:"mesh"`
}

// policyOverrides mirrors liveness.Policy in env-friendly types. Fields are
// pre-filled from the selected profile, so unset variables keep its values.
type policyOverrides struct {
	CenterThreshold      float64       `env:"CENTER_THRESHOLD"`
	HorizontalThreshold  float64       `env:"HORIZONTAL_THRESHOLD"`
	VerticalThreshold    float64       `env:"VERTICAL_THRESHOLD"`
	RequiredMovements    []string      `env:"REQUIRED_MOVEMENTS" envSeparator:","`
	MinRequiredCount     int           `env:"MIN_REQUIRED_COUNT"`
	MinTotalFrames       int           `env:"MIN_TOTAL_FRAMES"`
	MinFaceDetectionRate float64       `env:"MIN_FACE_DETECTION_RATE"`
	HistoryCapacity      int           `env:"HISTORY_CAPACITY"`
	PositionCapacity     int           `env:"POSITION_CAPACITY"`
	SessionTTL           time.Duration `env:"SESSION_TTL"`
	MaxFrames            int           `env:"MAX_FRAMES"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	return ParseEnvWithPrefix(target, "")
}

// ParseEnvWithPrefix is ParseEnv with every variable name prefixed.
func ParseEnvWithPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the service configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}

// LivenessPolicy builds the policy for the configured profile with any
// LIVENESS_* overrides applied, and validates it.
func (c Config) LivenessPolicy() (liveness.Policy, error) {
	base, err := liveness.PolicyForProfile(c.Profile)
	if err != nil {
		return liveness.Policy{}, err
	}

	o := policyOverrides{
		CenterThreshold:      base.Thresholds.Center,
		HorizontalThreshold:  base.Thresholds.Horizontal,
		VerticalThreshold:    base.Thresholds.Vertical,
		MinRequiredCount:     base.MinRequiredCount,
		MinTotalFrames:       base.MinTotalFrames,
		MinFaceDetectionRate: base.MinFaceDetectionRate,
		HistoryCapacity:      base.HistoryCapacity,
		PositionCapacity:     base.PositionCapacity,
		SessionTTL:           base.SessionTTL,
		MaxFrames:            base.MaxFrames,
	}
	for _, m := range base.RequiredMovements {
		o.RequiredMovements = append(o.RequiredMovements, string(m))
	}
	if err := ParseEnvWithPrefix(&o, "LIVENESS_"); err != nil {
		return liveness.Policy{}, fmt.Errorf("%w: %s", liveness.ErrPolicyMisconfigured, err)
	}

	required := make([]liveness.Movement, 0, len(o.RequiredMovements))
	for _, raw := range o.RequiredMovements {
		m, err := liveness.ParseMovement(raw)
		if err != nil {
			return liveness.Policy{}, fmt.Errorf("%w: %s", liveness.ErrPolicyMisconfigured, err)
		}
		required = append(required, m)
	}

	policy := liveness.Policy{
		Thresholds: liveness.Thresholds{
			Center:     o.CenterThreshold,
			Horizontal: o.HorizontalThreshold,
			Vertical:   o.VerticalThreshold,
		},
		RequiredMovements:    required,
		MinRequiredCount:     o.MinRequiredCount,
		MinTotalFrames:       o.MinTotalFrames,
		MinFaceDetectionRate: o.MinFaceDetectionRate,
		HistoryCapacity:      o.HistoryCapacity,
		PositionCapacity:     o.PositionCapacity,
		SessionTTL:           o.SessionTTL,
		MaxFrames:            o.MaxFrames,
	}
	if err := policy.Validate(); err != nil {
		return liveness.Policy{}, err
	}
	return policy, nil
}
