package measure

import "time"

// Measure keeps one Metric per step.
type Measure interface {
	AddMetric(name string) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
	// RemoveMetric drops the metric of name if it has never recorded a run.
	RemoveMetric(name string)
}

// Metric accumulates the runs of a single step.
type Metric interface {
	AddDuration(elapsed time.Duration)
	AddFailure(elapsed time.Duration)
	AVGDuration() time.Duration
	GetTotalDuration() time.Duration
	Runs() int64
	Failures() int64
}
