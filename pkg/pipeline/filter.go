package pipeline

import (
	"github.com/pkg/errors"
)

// Slice selects a contiguous range of the registered steps. It holds a start
// index and an optional end index with the semantics of JavaScript's
// Array.prototype.slice: negative values count from the end and the end is
// exclusive. An empty Slice selects every step.
type Slice []int

// FilterOptions selects the steps of a run. IncludeSteps and ExcludeSteps are
// mutually exclusive.
type FilterOptions struct {
	Slice        Slice    `mapstructure:"slice" yaml:"slice"`
	IncludeSteps []string `mapstructure:"includeSteps" yaml:"includeSteps"`
	ExcludeSteps []string `mapstructure:"excludeSteps" yaml:"excludeSteps"`
}

// Check reports options that cannot select steps: ErrIncludeAndExclude or
// ErrInvalidSlice.
func (o FilterOptions) Check() error {
	if o.IncludeSteps != nil && o.ExcludeSteps != nil {
		return ErrIncludeAndExclude
	}
	if len(o.Slice) > 2 {
		return errors.Wrapf(ErrInvalidSlice, "got %d indices", len(o.Slice))
	}

	return nil
}

// bounds resolves the slice against a sequence of length n.
func (s Slice) bounds(n int) (int, int) {
	start, end := 0, n
	if len(s) > 0 {
		start = relativeIndex(s[0], n)
	}
	if len(s) > 1 {
		end = relativeIndex(s[1], n)
	}
	if end < start {
		end = start
	}

	return start, end
}

func relativeIndex(idx, n int) int {
	if idx < 0 {
		idx += n
		if idx < 0 {
			return 0
		}
		return idx
	}
	if idx > n {
		return n
	}

	return idx
}

// FilterSteps returns the steps selected by opts, in their original order.
// Steps excluded by default are dropped unless named in IncludeSteps.
func FilterSteps(all []*Step, opts FilterOptions) ([]*Step, error) {
	err := opts.Check()
	if err != nil {
		return nil, err
	}

	start, end := opts.Slice.bounds(len(all))
	sliced := all[start:end]

	included := nameSet(opts.IncludeSteps)
	excluded := nameSet(opts.ExcludeSteps)

	filtered := make([]*Step, 0, len(sliced))
	for _, step := range sliced {
		_, isIncluded := included[step.name]
		switch {
		case opts.ExcludeSteps != nil:
			if _, isExcluded := excluded[step.name]; isExcluded {
				continue
			}
		case opts.IncludeSteps != nil:
			if !isIncluded {
				continue
			}
		}

		if step.excludeByDefault && !isIncluded {
			continue
		}
		filtered = append(filtered, step)
	}

	return filtered, nil
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	return set
}
