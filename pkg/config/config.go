// Package config loads the settings of a pipeline run from a YAML file and
// STEPLINE_* environment variables.
package config

import (
	"context"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-stepline/pkg/logbook"
	"github.com/askiada/go-stepline/pkg/pipeline"
)

// Config configures the run log and the step selection of a run.
type Config struct {
	Log LogConfig `mapstructure:"log" yaml:"log"`
	Run RunConfig `mapstructure:"run" yaml:"run"`
}

// LogConfig says where the run log is persisted. An empty Bucket keeps the
// log in memory only.
type LogConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Key    string `mapstructure:"key" yaml:"key"`
	Level  string `mapstructure:"level" yaml:"level"`
}

type RunConfig struct {
	Slice        []int    `mapstructure:"slice" yaml:"slice"`
	IncludeSteps []string `mapstructure:"includeSteps" yaml:"includeSteps"`
	ExcludeSteps []string `mapstructure:"excludeSteps" yaml:"excludeSteps"`
	Verbose      bool     `mapstructure:"verbose" yaml:"verbose"`
}

const (
	DefaultLogKey   = "pipeline.log"
	defaultLogLevel = "info"

	EnvLogBucket    = "STEPLINE_LOG_BUCKET"
	EnvLogKey       = "STEPLINE_LOG_KEY"
	EnvLogLevel     = "STEPLINE_LOG_LEVEL"
	EnvVerbose      = "STEPLINE_VERBOSE"
	EnvSlice        = "STEPLINE_SLICE"
	EnvIncludeSteps = "STEPLINE_INCLUDE_STEPS"
	EnvExcludeSteps = "STEPLINE_EXCLUDE_STEPS"
)

var ErrLogLevelInvalid = errors.New("log.level must be one of debug, info, warn, error")

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{
			Key:   DefaultLogKey,
			Level: defaultLogLevel,
		},
	}
}

// Load reads the YAML file at path, applies the environment on top of it
// and validates the result. An empty path only reads the environment.
func Load(path string) (Config, error) {
	raw := map[string]any{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to read config file %s", path)
		}
		err = yaml.Unmarshal(data, &raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "unable to parse config file %s", path)
		}
	}

	return FromMap(raw, os.LookupEnv)
}

// LoadFromEnv builds the configuration from the environment alone.
func LoadFromEnv() (Config, error) {
	return FromMap(map[string]any{}, os.LookupEnv)
}

// FromMap decodes raw, overlaid with the variables returned by lookup.
func FromMap(raw map[string]any, lookup func(string) (string, bool)) (Config, error) {
	applyEnv(raw, lookup)

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimmedStringToSliceHook(","),
		),
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to create config decoder")
	}

	err = decoder.Decode(raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv overrides raw with the variables that are set to a non-empty value.
func applyEnv(raw map[string]any, lookup func(string) (string, bool)) {
	set := func(section, key, env string) {
		value, ok := lookup(env)
		if !ok || value == "" {
			return
		}
		sub, _ := raw[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			raw[section] = sub
		}
		sub[key] = value
	}

	set("log", "bucket", EnvLogBucket)
	set("log", "key", EnvLogKey)
	set("log", "level", EnvLogLevel)
	set("run", "verbose", EnvVerbose)
	set("run", "slice", EnvSlice)
	set("run", "includeSteps", EnvIncludeSteps)
	set("run", "excludeSteps", EnvExcludeSteps)
}

// trimmedStringToSliceHook splits comma separated strings and trims every
// element, so "1, -1" decodes into []int{1, -1}.
func trimmedStringToSliceHook(sep string) mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Slice {
			return data, nil
		}

		text := strings.TrimSpace(data.(string))
		if text == "" {
			return []string{}, nil
		}

		parts := strings.Split(text, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		return parts, nil
	}
}

// Validate rejects combinations a run would refuse.
func (c Config) Validate() error {
	err := c.RunOptions().FilterOptions.Check()
	if err != nil {
		return errors.Wrap(err, "run")
	}
	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		return errors.Wrapf(ErrLogLevelInvalid, "got %q", c.Log.Level)
	}

	return nil
}

// RunOptions converts the run section into pipeline run options.
func (c Config) RunOptions() pipeline.RunOptions {
	return pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{
			Slice:        pipeline.Slice(c.Run.Slice),
			IncludeSteps: c.Run.IncludeSteps,
			ExcludeSteps: c.Run.ExcludeSteps,
		},
		Verbose: c.Run.Verbose,
	}
}

// OpenLogbook creates the run log described by the log section.
func (c Config) OpenLogbook(ctx context.Context) (*logbook.Logbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to open logbook")
	}

	if c.Log.Bucket == "" {
		return logbook.New(), nil
	}

	key := c.Log.Key
	if key == "" {
		key = DefaultLogKey
	}

	return logbook.New(logbook.WithDestination(c.Log.Bucket, key)), nil
}
