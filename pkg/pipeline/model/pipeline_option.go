package model

import "time"

// PipelineOption defines the interface for pipeline features.
type PipelineOption interface {
	// New initialises the pipeline option.
	New() error

	pipelineStepOption

	// Finish runs after every pipeline run, whatever its outcome.
	Finish() error
}

// pipelineStepOption defines the interface for step hooks at the pipeline level.
type pipelineStepOption interface {
	// PrepareStep runs when the step is registered.
	PrepareStep(step *StepInfo) error
	// BeforeStep runs right before the step handler is invoked.
	BeforeStep(step *StepInfo) error
	// AfterStep runs once the step has returned. stepErr is the error returned by the step, if any.
	AfterStep(step *StepInfo, elapsed time.Duration, stepErr error) error
}

// StepRejecter is implemented by options that keep state from PrepareStep.
// RejectStep is called when a step they prepared is refused by a later option,
// so that state can be dropped.
type StepRejecter interface {
	RejectStep(step *StepInfo)
}
