package pipeline

import (
	"fmt"
)

// ValidationResult collects the problems found in a step sequence. Errors
// prevent a run, warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateDependencies checks that every dependency of every step in seq is
// present in seq and positioned before the step that needs it.
func ValidateDependencies(seq []*Step) ValidationResult {
	result := ValidationResult{}

	positions := make(map[string]int, len(seq))
	for idx, step := range seq {
		positions[step.name] = idx
	}

	for idx, step := range seq {
		seen := make(map[string]struct{}, len(step.dependsOn))
		for _, dep := range step.dependsOn {
			if _, dup := seen[dep]; dup {
				result.addWarning("Step '%s' lists dependency '%s' more than once", step.name, dep)
				continue
			}
			seen[dep] = struct{}{}

			depIdx, present := positions[dep]
			switch {
			case !present:
				result.addError("Step '%s', required by '%s', is not in the pipeline", dep, step.name)
			case dep == step.name:
				result.addWarning("Step '%s' depends on itself", step.name)
			case depIdx > idx:
				result.addError("Step '%s' must run before '%s', which depends on it", dep, step.name)
			}
		}
	}

	return result
}
