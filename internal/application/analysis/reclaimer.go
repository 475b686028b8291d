package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bryanwahyu/realcheck/internal/application"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// Reclaimer fails jobs stuck in processing longer than Timeout. A reclaimed
// job consumes one attempt, same as any other failure.
type Reclaimer struct {
	Jobs     domain.JobQueue
	Clock    application.Clock
	Metrics  Metrics
	Timeout  time.Duration
	Interval time.Duration
}

// Sweep runs one reclaim pass.
func (r *Reclaimer) Sweep(ctx context.Context) ([]domain.Reclaimed, error) {
	clock := r.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cutoff := clock.Now().Add(-timeout)

	out, err := r.Jobs.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reclaim stuck: %w", err)
	}
	for _, rc := range out {
		log.Printf("job reclaimed id=%s fingerprint=%s requeued=%t", rc.JobID, rc.Fingerprint.Short(), rc.Requeued)
	}
	if len(out) > 0 && r.Metrics != nil {
		r.Metrics.Reclaimed(len(out))
	}
	return out, nil
}

// Run sweeps every Interval until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Printf("reclaimer error: %v", err)
			}
		}
	}
}
