package analysis

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool runs Workers executors polling the queue. Claims are atomic in the
// queue, so workers never coordinate with each other.
type Pool struct {
	Executor  *Executor
	Reclaimer *Reclaimer
	Workers   int
	Poll      time.Duration
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error { return p.work(ctx, id) })
	}
	if p.Reclaimer != nil {
		g.Go(func() error { return p.Reclaimer.Run(ctx) })
	}
	log.Printf("worker pool started workers=%d", workers)
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int) error {
	poll := p.Poll
	if poll <= 0 {
		poll = time.Second
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		did, err := p.Executor.RunOnce(ctx)
		if err != nil {
			log.Printf("worker=%d error: %v", id, err)
		}
		if did && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}
	}
}
