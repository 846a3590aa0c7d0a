package measure

import (
	"sync"
	"time"
)

type DefaultMetric struct {
	mu            *sync.Mutex
	totalDuration time.Duration
	runs          int64
	failures      int64
}

// AddDuration records a successful run.
func (mt *DefaultMetric) AddDuration(elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.runs++
	mt.totalDuration += elapsed
}

// AddFailure records a failed run. Its duration counts towards the total.
func (mt *DefaultMetric) AddFailure(elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.runs++
	mt.failures++
	mt.totalDuration += elapsed
}

func (mt *DefaultMetric) GetTotalDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.totalDuration
}

func (mt *DefaultMetric) AVGDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.runs == 0 {
		return time.Duration(0)
	}

	return round(time.Duration(float64(mt.totalDuration) / float64(mt.runs)))
}

func (mt *DefaultMetric) Runs() int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.runs
}

func (mt *DefaultMetric) Failures() int64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.failures
}

func round(d time.Duration) time.Duration {
	switch {
	case d > time.Hour:
		d = d.Round(time.Minute)
	case d > time.Second:
		d = d.Round(time.Millisecond)
	case d > time.Millisecond:
		d = d.Round(time.Microsecond)
	}

	return d
}
