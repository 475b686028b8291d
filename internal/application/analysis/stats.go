package analysis

import (
	"context"
	"fmt"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// Stats aggregates result and job counters. Every label and status is
// present in the maps, zero when nothing matches.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	total, err := s.Results.Count(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count results: %w", err)
	}
	byLabel, err := s.Results.CountByLabel(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count labels: %w", err)
	}
	byStatus, err := s.Jobs.CountByStatus(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count statuses: %w", err)
	}
	avgConf, err := s.Results.AverageConfidence(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("average confidence: %w", err)
	}
	avgLatency, err := s.Jobs.AverageLatency(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("average latency: %w", err)
	}

	st := domain.Stats{
		TotalAnalyses:     total,
		PerLabel:          make(map[domain.Label]int64, len(domain.Labels)),
		PerStatus:         make(map[domain.Status]int64, len(domain.Statuses)),
		AverageConfidence: avgConf,
		AverageLatencyMS:  float64(avgLatency.Microseconds()) / 1000,
	}
	for _, l := range domain.Labels {
		st.PerLabel[l] = byLabel[l]
	}
	for _, status := range domain.Statuses {
		st.PerStatus[status] = byStatus[status]
	}
	st.PendingJobs = st.PerStatus[domain.StatusPending]
	st.ProcessingJobs = st.PerStatus[domain.StatusProcessing]
	st.CompletedJobs = st.PerStatus[domain.StatusCompleted]
	st.FailedJobs = st.PerStatus[domain.StatusFailed]
	return st, nil
}
