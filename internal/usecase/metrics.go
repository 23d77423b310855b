package usecase

import "context"

// MetricsSummary represents aggregated liveness verdict insights.
type MetricsSummary struct {
	TotalVerdicts     int64   `json:"total_verdicts"`
	VerifiedVerdicts  int64   `json:"verified_verdicts"`
	SuccessRate       float64 `json:"success_rate"`
	AverageFrames     float64 `json:"average_frames"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// GetMetricsSummary aggregates recorded verdicts.
func (s *VerdictService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalVerdicts:     aggregation.TotalCount,
		VerifiedVerdicts:  aggregation.VerifiedCount,
		AverageFrames:     aggregation.AverageFrames,
		AverageDurationMs: aggregation.AverageDurationMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.VerifiedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
