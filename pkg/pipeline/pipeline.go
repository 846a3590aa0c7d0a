package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/askiada/go-stepline/pkg/logbook"
	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

// State is the position of a pipeline in its run lifecycle.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pipeline owns an ordered registry of steps and the context they build.
// A pipeline supports one run at a time.
type Pipeline struct {
	id uuid.UUID

	mu          sync.Mutex
	steps       []*Step
	names       map[string]int
	created     int
	context     Context
	initial     Context
	signals     map[Signal]struct{}
	signalOrder []Signal
	state       State

	log      Log
	logger   *slog.Logger
	features []model.PipelineOption
}

// New creates a pipeline.
func New(opts ...Option) (*Pipeline, error) {
	pipe := &Pipeline{
		id:      uuid.New(),
		names:   make(map[string]int),
		signals: make(map[Signal]struct{}),
		context: Context{},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(pipe)
	}

	if pipe.log == nil {
		pipe.log = logbook.New()
	}

	pipe.UpdateContext(Clone(pipe.initial))
	pipe.initial = nil

	for _, feature := range pipe.features {
		err := feature.New()
		if err != nil {
			return nil, errors.Wrap(err, "unable to apply pipeline option")
		}
	}

	return pipe, nil
}

// ID identifies the pipeline. Steps created by it carry the same identity.
func (p *Pipeline) ID() uuid.UUID { return p.id }

func (p *Pipeline) Log() Log { return p.log }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = s
}

// Context returns a copy of the current context. After a failed run it holds
// everything merged before the failure.
func (p *Pipeline) Context() Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Clone(p.context)
}

// UpdateContext merges fragment into the current context and returns a copy
// of the result.
func (p *Pipeline) UpdateContext(fragment Context) Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.context = Merge(p.context, fragment)

	return Clone(p.context)
}

// CreateStep builds a step bound to this pipeline without registering it.
func (p *Pipeline) CreateStep(params StepParams) (*Step, error) {
	step, err := NewStep(params)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create step %q", params.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.created++
	if step.name == "" {
		step.name = fmt.Sprintf("step-%d", p.created)
	}
	step.ownerID = p.id
	step.owner = p

	return step, nil
}

// AddStep registers a step, built from StepParams or given as a *Step. The
// registry, the step and the step counter are left untouched when an error is
// returned.
func (p *Pipeline) AddStep(spec StepSpec) error {
	var (
		step  *Step
		fresh bool
		err   error
	)

	switch s := spec.(type) {
	case StepParams:
		step, err = NewStep(s)
		if err != nil {
			return errors.Wrapf(err, "unable to create step %q", s.Name)
		}
		fresh = true
	case *Step:
		if s == nil {
			return ErrStepMustBeSet
		}
		step = s
		fresh = s.ownerID == uuid.Nil
	case nil:
		return ErrStepMustBeSet
	default:
		return errors.Errorf("unsupported step spec %T", spec)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !fresh && step.ownerID != p.id {
		return errors.Wrapf(ErrForeignStep, "step %q", step.name)
	}

	name := step.name
	if fresh && name == "" {
		name = fmt.Sprintf("step-%d", p.created+1)
	}

	if _, exists := p.names[name]; exists {
		return errors.Wrapf(ErrDuplicateStepName, "step %q", name)
	}

	info := step.info(len(p.steps))
	info.Name = name
	for i, feature := range p.features {
		err := feature.PrepareStep(info)
		if err != nil {
			p.rejectStep(info, i)
			return errors.Wrapf(err, "unable to prepare step %q", name)
		}
	}

	if fresh {
		p.created++
	}
	step.name = name
	step.ownerID = p.id
	step.owner = p
	p.names[name] = len(p.steps)
	p.steps = append(p.steps, step)

	return nil
}

// rejectStep lets the first n features drop what they prepared for step.
func (p *Pipeline) rejectStep(step *model.StepInfo, n int) {
	for _, feature := range p.features[:n] {
		if rejecter, ok := feature.(model.StepRejecter); ok {
			rejecter.RejectStep(step)
		}
	}
}

// MustAddStep is like AddStep but panics on error. It returns the pipeline so
// registrations can be chained.
func (p *Pipeline) MustAddStep(spec StepSpec) *Pipeline {
	err := p.AddStep(spec)
	if err != nil {
		panic(err)
	}

	return p
}

// Steps returns the registered steps in registration order.
func (p *Pipeline) Steps() []*Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*Step(nil), p.steps...)
}

// Step returns the registered step called name.
func (p *Pipeline) Step(name string) (*Step, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.names[name]
	if !ok {
		return nil, false
	}

	return p.steps[idx], true
}

// FilterSteps returns the registered steps selected by opts.
func (p *Pipeline) FilterSteps(opts FilterOptions) ([]*Step, error) {
	return FilterSteps(p.Steps(), opts)
}

// Validate checks the sequence selected by opts without running it.
func (p *Pipeline) Validate(opts FilterOptions) ValidationResult {
	result := ValidationResult{}

	for _, name := range opts.IncludeSteps {
		if _, ok := p.Step(name); !ok {
			result.addWarning("Step '%s' in includeSteps is not defined", name)
		}
	}
	for _, name := range opts.ExcludeSteps {
		if _, ok := p.Step(name); !ok {
			result.addWarning("Step '%s' in excludeSteps is not defined", name)
		}
	}

	filtered, err := p.FilterSteps(opts)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	deps := ValidateDependencies(filtered)
	result.Errors = append(result.Errors, deps.Errors...)
	result.Warnings = append(result.Warnings, deps.Warnings...)

	return result
}
