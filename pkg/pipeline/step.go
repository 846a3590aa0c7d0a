package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/askiada/go-stepline/internal/dotpath"
	"github.com/askiada/go-stepline/pkg/logbook"
	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

// Log is the run log a pipeline and its handlers write to.
type Log interface {
	Append(entry any, opts ...logbook.AppendOption)
	Flush(ctx context.Context) error
	Destination() string
}

// Signaler receives signals raised by a handler.
type Signaler interface {
	Signal(signal Signal)
}

// Handles are the capabilities handed to a handler for one invocation. Step.Run
// fills a missing Log with an in-memory one and a missing Pipeline with the
// owning pipeline.
type Handles struct {
	Log      Log
	Pipeline Signaler
	RunID    string
}

// Handler does the work of a step. It receives a private copy of the context
// and returns the fragment to merge into it, or nil for no change.
type Handler func(ctx context.Context, c Context, h Handles) (Context, error)

type InputOptions struct {
	Required bool
}

// StepSpec is accepted by AddStep: either StepParams or a *Step.
type StepSpec interface {
	stepSpec()
}

// StepParams describes a step to create.
type StepParams struct {
	// Name must be unique within the pipeline. It defaults to "step-<n>".
	Name   string
	Handle Handler
	// DependsOn lists the steps that must run, and run earlier, whenever this step runs.
	DependsOn []string
	// ExcludeByDefault skips the step unless it is named in IncludeSteps.
	ExcludeByDefault bool
	// Inputs maps dotted context paths to their requirements.
	Inputs map[string]InputOptions
}

func (StepParams) stepSpec() {}

// Step is a named unit of work. It is immutable once created.
type Step struct {
	name             string
	handle           Handler
	dependsOn        []string
	excludeByDefault bool
	inputs           map[string]InputOptions

	ownerID uuid.UUID
	owner   *Pipeline
}

func (*Step) stepSpec() {}

// NewStep creates a step that belongs to no pipeline yet. It is bound to the
// first pipeline it is added to. An empty name is left empty until then.
func NewStep(params StepParams) (*Step, error) {
	if params.Handle == nil {
		return nil, ErrHandlerMustBeSet
	}

	step := &Step{
		name:             params.Name,
		handle:           params.Handle,
		excludeByDefault: params.ExcludeByDefault,
		dependsOn:        append([]string(nil), params.DependsOn...),
		inputs:           make(map[string]InputOptions, len(params.Inputs)),
	}
	for path, opts := range params.Inputs {
		step.inputs[path] = opts
	}

	return step, nil
}

func (s *Step) Name() string { return s.name }

func (s *Step) DependsOn() []string {
	return append([]string(nil), s.dependsOn...)
}

func (s *Step) ExcludeByDefault() bool { return s.excludeByDefault }

func (s *Step) Inputs() map[string]InputOptions {
	out := make(map[string]InputOptions, len(s.inputs))
	for path, opts := range s.inputs {
		out[path] = opts
	}

	return out
}

// ValidateInputs returns one message per required input path missing from c.
func (s *Step) ValidateInputs(c Context) []string {
	paths := make([]string, 0, len(s.inputs))
	for path, opts := range s.inputs {
		if opts.Required {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var messages []string
	for _, path := range paths {
		if !dotpath.Has(map[string]any(c), path) {
			messages = append(messages, fmt.Sprintf("Missing required context path '%s'", path))
		}
	}

	return messages
}

// Run checks the required inputs, invokes the handler and merges a non-empty
// fragment into the owning pipeline. The fragment is also returned. Errors
// from the handler are returned as they are.
func (s *Step) Run(ctx context.Context, c Context, h Handles) (Context, error) {
	if messages := s.ValidateInputs(c); len(messages) > 0 {
		return nil, &ValidationError{Step: s.name, Messages: messages}
	}

	if h.Log == nil {
		h.Log = logbook.New()
	}
	if h.Pipeline == nil {
		h.Pipeline = s.signaler()
	}

	fragment, err := s.handle(ctx, c, h)
	if err != nil {
		return nil, err
	}

	if len(fragment) == 0 {
		return Context{}, nil
	}

	if s.owner != nil {
		s.owner.UpdateContext(fragment)
	}

	return fragment, nil
}

// signaler is the owning pipeline, or a sink for steps that have none.
func (s *Step) signaler() Signaler {
	if s.owner != nil {
		return s.owner
	}

	return discardSignals{}
}

type discardSignals struct{}

func (discardSignals) Signal(Signal) {}

func (s *Step) info(index int) *model.StepInfo {
	return &model.StepInfo{
		Name:             s.name,
		Index:            index,
		DependsOn:        s.DependsOn(),
		ExcludeByDefault: s.excludeByDefault,
	}
}
