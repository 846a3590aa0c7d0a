package drawer

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-stepline/pkg/pipeline/measure"
	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

type pipelineDrawer struct {
	Drawer
	m measure.Measure

	mu        sync.Mutex
	dependsOn map[string][]string
	order     []string
}

func (pd *pipelineDrawer) New() error {
	return nil
}

// PrepareStep records the step. The graph itself is built by Finish.
func (pd *pipelineDrawer) PrepareStep(step *model.StepInfo) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if _, exists := pd.dependsOn[step.Name]; !exists {
		pd.order = append(pd.order, step.Name)
	}
	pd.dependsOn[step.Name] = step.DependsOn

	return nil
}

func (pd *pipelineDrawer) RejectStep(step *model.StepInfo) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if _, exists := pd.dependsOn[step.Name]; !exists {
		return
	}
	delete(pd.dependsOn, step.Name)

	for idx, name := range pd.order {
		if name == step.Name {
			pd.order = append(pd.order[:idx], pd.order[idx+1:]...)
			break
		}
	}
}

func (pd *pipelineDrawer) BeforeStep(step *model.StepInfo) error {
	return nil
}

func (pd *pipelineDrawer) AfterStep(step *model.StepInfo, elapsed time.Duration, stepErr error) error {
	return nil
}

// Finish links every step to its dependencies, which may have been registered
// after it, then draws the graph. Self dependencies are not drawn.
func (pd *pipelineDrawer) Finish() error {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	for _, name := range pd.order {
		err := pd.AddStep(name)
		if err != nil {
			return errors.Wrapf(err, "unable to add step %s to drawer", name)
		}
	}

	for _, name := range pd.order {
		for _, dep := range pd.dependsOn[name] {
			if dep == name {
				continue
			}
			if _, registered := pd.dependsOn[dep]; !registered {
				err := pd.MarkMissing(dep)
				if err != nil {
					return errors.Wrapf(err, "unable to mark missing step %s", dep)
				}
			}

			err := pd.AddLink(dep, name)
			if err != nil {
				return errors.Wrap(err, "unable to link steps")
			}
		}
	}

	if pd.m != nil {
		err := pd.AddMeasure(pd.m)
		if err != nil {
			return errors.Wrap(err, "unable to add measure")
		}
	}

	err := pd.Draw()
	if err != nil {
		return errors.Wrap(err, "unable to draw pipeline")
	}

	return nil
}

// PipelineDrawer draws the dependency graph of the pipeline after every run.
// When measure is set the steps are labelled with their timings.
func PipelineDrawer(drawer Drawer, measure measure.Measure) model.PipelineOption {
	return &pipelineDrawer{
		Drawer:    drawer,
		m:         measure,
		dependsOn: make(map[string][]string),
	}
}

var _ model.StepRejecter = (*pipelineDrawer)(nil)
