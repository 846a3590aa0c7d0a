package pipeline

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet = errors.New("pipeline must be set")
	ErrStepMustBeSet     = errors.New("step must be set")
	ErrHandlerMustBeSet  = errors.New("handler must be set")
	ErrDuplicateStepName = errors.New("step name already exists in the pipeline")
	ErrForeignStep       = errors.New("step belongs to another pipeline")
	ErrIncludeAndExclude = errors.New("includeSteps and excludeSteps cannot be used together")
	ErrInvalidSlice      = errors.New("slice takes a start index and an optional end index")
)

// ValidationError is returned by a step whose required inputs are missing
// from the context. The handler is not invoked.
type ValidationError struct {
	Step     string
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for step '%s': %s", e.Step, strings.Join(e.Messages, "; "))
}

// Data exposes the messages when the failure is serialized to the run log.
func (e *ValidationError) Data() any {
	return e.Messages
}

// DependencyError aborts a run before any step executes.
type DependencyError struct {
	Problems []string
}

func (e *DependencyError) Error() string {
	return "invalid pipeline: " + strings.Join(e.Problems, "; ")
}

func (e *DependencyError) Data() any {
	return e.Problems
}
