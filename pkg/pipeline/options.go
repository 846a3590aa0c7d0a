package pipeline

import (
	"log/slog"

	"github.com/askiada/go-stepline/pkg/pipeline/model"
)

type Option func(p *Pipeline)

// WithInitialContext seeds the context. It is merged over an empty context.
func WithInitialContext(c Context) Option {
	return func(p *Pipeline) {
		p.initial = c
	}
}

// WithLog replaces the default in-memory log.
func WithLog(log Log) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithLogger sets the diagnostics logger. Verbose runs also echo the run log to it.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithFeatures attaches features such as measures and drawers.
func WithFeatures(features ...model.PipelineOption) Option {
	return func(p *Pipeline) {
		p.features = append(p.features, features...)
	}
}

// RunOptions configures a single run.
type RunOptions struct {
	FilterOptions `mapstructure:",squash" yaml:",inline"`
	// Verbose echoes every log entry of the run to the diagnostics logger.
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}
