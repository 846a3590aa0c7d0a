package measure

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Prometheus exports step runs as Prometheus metrics.
type Prometheus struct {
	stepRuns     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	pipelineRuns prometheus.Counter
}

// NewPrometheus creates the collectors under namespace and registers them
// with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	prom := &Prometheus{
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Number of step runs by outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		pipelineRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Number of finished pipeline runs.",
		}),
	}

	for _, collector := range []prometheus.Collector{prom.stepRuns, prom.stepDuration, prom.pipelineRuns} {
		err := reg.Register(collector)
		if err != nil {
			return nil, errors.Wrap(err, "unable to register collector")
		}
	}

	return prom, nil
}

func (pr *Prometheus) New() error {
	return nil
}

func (pr *Prometheus) PrepareStep(step *model.StepInfo) error {
	// Initialise the series so that steps that never ran are exported as zero.
	pr.stepRuns.WithLabelValues(step.Name, outcomeSuccess)
	pr.stepRuns.WithLabelValues(step.Name, outcomeFailure)

	return nil
}

func (pr *Prometheus) RejectStep(step *model.StepInfo) {
	pr.stepRuns.DeleteLabelValues(step.Name, outcomeSuccess)
	pr.stepRuns.DeleteLabelValues(step.Name, outcomeFailure)
}

func (pr *Prometheus) BeforeStep(step *model.StepInfo) error {
	return nil
}

func (pr *Prometheus) AfterStep(step *model.StepInfo, elapsed time.Duration, stepErr error) error {
	outcome := outcomeSuccess
	if stepErr != nil {
		outcome = outcomeFailure
	}
	pr.stepRuns.WithLabelValues(step.Name, outcome).Inc()
	pr.stepDuration.WithLabelValues(step.Name).Observe(elapsed.Seconds())

	return nil
}

func (pr *Prometheus) Finish() error {
	pr.pipelineRuns.Inc()

	return nil
}

var (
	_ model.PipelineOption = (*Prometheus)(nil)
	_ model.StepRejecter   = (*Prometheus)(nil)
)
