package measure

import (
	"sync"
)

type DefaultMeasure struct {
	mu    sync.RWMutex
	Steps map[string]Metric
}

func NewDefaultMeasure() *DefaultMeasure {
	return &DefaultMeasure{
		Steps: make(map[string]Metric),
	}
}

// AddMetric registers a metric for name, keeping the existing one if any.
func (m *DefaultMeasure) AddMetric(name string) Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt, ok := m.Steps[name]; ok {
		return mt
	}

	mt := &DefaultMetric{mu: &sync.Mutex{}}
	m.Steps[name] = mt

	return mt
}

func (m *DefaultMeasure) GetMetric(name string) Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Steps[name]
}

func (m *DefaultMeasure) AllMetrics() map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Metric, len(m.Steps))
	for name, mt := range m.Steps {
		out[name] = mt
	}

	return out
}

func (m *DefaultMeasure) RemoveMetric(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt, ok := m.Steps[name]; ok && mt.Runs() == 0 {
		delete(m.Steps, name)
	}
}

var _ Measure = (*DefaultMeasure)(nil)
