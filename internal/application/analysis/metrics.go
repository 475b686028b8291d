package analysis

import "time"

// Metrics is the counter sink used by the gate, executor and reclaimer.
type Metrics interface {
	Submitted(outcome Outcome)
	JobFinished(status string, took time.Duration)
	Reclaimed(n int)
}

// NopMetrics drops everything.
type NopMetrics struct{}

func (NopMetrics) Submitted(Outcome)                 {}
func (NopMetrics) JobFinished(string, time.Duration) {}
func (NopMetrics) Reclaimed(int)                     {}
