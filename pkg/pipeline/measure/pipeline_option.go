package measure

import (
	"time"

	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

type pipelineMeasure struct {
	Measure
}

func (pm *pipelineMeasure) New() error {
	return nil
}

func (pm *pipelineMeasure) PrepareStep(step *model.StepInfo) error {
	pm.AddMetric(step.Name)

	return nil
}

func (pm *pipelineMeasure) RejectStep(step *model.StepInfo) {
	pm.RemoveMetric(step.Name)
}

func (pm *pipelineMeasure) BeforeStep(step *model.StepInfo) error {
	return nil
}

func (pm *pipelineMeasure) AfterStep(step *model.StepInfo, elapsed time.Duration, stepErr error) error {
	mt := pm.AddMetric(step.Name)
	if stepErr != nil {
		mt.AddFailure(elapsed)
		return nil
	}
	mt.AddDuration(elapsed)

	return nil
}

func (pm *pipelineMeasure) Finish() error {
	return nil
}

// PipelineMeasure records the duration and outcome of every step run into measure.
func PipelineMeasure(measure Measure) model.PipelineOption {
	return &pipelineMeasure{measure}
}

var _ model.StepRejecter = (*pipelineMeasure)(nil)
