package pipeline_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	"github.com/askiada/go-stepline/pkg/logbook"
	"github.com/askiada/go-stepline/pkg/pipeline"
	"github.com/askiada/go-stepline/pkg/pipeline/drawer"
	"github.com/askiada/go-stepline/pkg/pipeline/measure"
)

// countingLog wraps a Logbook and counts flushes.
type countingLog struct {
	*logbook.Logbook

	mu      sync.Mutex
	flushes int
}

func newCountingLog() *countingLog {
	return &countingLog{Logbook: logbook.New()}
}

func (c *countingLog) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()

	return c.Logbook.Flush(ctx)
}

func (c *countingLog) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushes
}

func returning(fragment pipeline.Context) pipeline.Handler {
	return func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
		return fragment, nil
	}
}

func TestRunThreadsContext(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(pipeline.WithInitialContext(pipeline.Context{"input": 2}))
	require.NoError(t, err)

	pipe.
		MustAddStep(pipeline.StepParams{
			Name: "double",
			Handle: func(_ context.Context, c pipeline.Context, _ pipeline.Handles) (pipeline.Context, error) {
				return pipeline.Context{"doubled": c["input"].(int) * 2, "trace": []string{"double"}}, nil
			},
			Inputs: map[string]pipeline.InputOptions{"input": {Required: true}},
		}).
		MustAddStep(pipeline.StepParams{
			Name:      "square",
			DependsOn: []string{"double"},
			Handle: func(_ context.Context, c pipeline.Context, _ pipeline.Handles) (pipeline.Context, error) {
				value := c["doubled"].(int)
				return pipeline.Context{"squared": value * value, "trace": []string{"square"}}, nil
			},
			Inputs: map[string]pipeline.InputOptions{"doubled": {Required: true}},
		}).
		MustAddStep(pipeline.StepParams{Name: "nothing", Handle: noop})

	got, err := pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	expected := pipeline.Context{
		"input":   2,
		"doubled": 4,
		"squared": 16,
		"trace":   []string{"double", "square"},
	}
	assert.Equal(t, expected, got)
	assert.Equal(t, expected, pipe.Context())
	assert.Equal(t, pipeline.StateCompleted, pipe.State())
}

func TestRunHandlerCannotMutateContext(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(pipeline.WithInitialContext(pipeline.Context{"nested": map[string]any{"a": 1}}))
	require.NoError(t, err)

	pipe.MustAddStep(pipeline.StepParams{
		Name: "mutate",
		Handle: func(_ context.Context, c pipeline.Context, _ pipeline.Handles) (pipeline.Context, error) {
			c["nested"].(map[string]any)["a"] = 100
			c["extra"] = true
			return nil, nil
		},
	})

	got, err := pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Context{"nested": map[string]any{"a": 1}}, got)
}

func TestRunPartialProgressOnFailure(t *testing.T) {
	t.Parallel()

	log := newCountingLog()
	pipe, err := pipeline.New(pipeline.WithLog(log))
	require.NoError(t, err)

	errBoom := errors.New("boom")
	pipe.
		MustAddStep(pipeline.StepParams{Name: "A", Handle: returning(pipeline.Context{"a": map[string]any{"done": true}})}).
		MustAddStep(pipeline.StepParams{
			Name: "B",
			Handle: func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
				return nil, errBoom
			},
		}).
		MustAddStep(pipeline.StepParams{Name: "C", Handle: returning(pipeline.Context{"c": 1})})

	got, err := pipe.Run(context.Background(), pipeline.RunOptions{})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, errBoom, err)

	assert.Equal(t, pipeline.Context{"a": map[string]any{"done": true}}, pipe.Context())
	assert.Equal(t, 1, log.Flushes())
	assert.Equal(t, pipeline.StateFailed, pipe.State())

	text := log.Format()
	assert.Contains(t, text, "Started step 'A'")
	assert.Contains(t, text, "Started step 'B'")
	assert.NotContains(t, text, "Started step 'C'")
	assert.Contains(t, text, `"message": "boom"`)
	assert.Contains(t, text, `"step": "B"`)
	assert.NotContains(t, text, "Pipeline completed")
}

func TestRunFlushesFailureToBucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	pipe, err := pipeline.New(pipeline.WithLog(logbook.New(logbook.WithBucket(bucket, "runs/failed.log"))))
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{
		Name: "explode",
		Handle: func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
			return nil, errors.New("exploded")
		},
	})

	_, err = pipe.Run(ctx, pipeline.RunOptions{})
	require.Error(t, err)

	data, err := bucket.ReadAll(ctx, "runs/failed.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "exploded")
	assert.Contains(t, string(data), "Log written")
}

func TestRunStopSignal(t *testing.T) {
	t.Parallel()

	log := newCountingLog()
	pipe, err := pipeline.New(pipeline.WithLog(log))
	require.NoError(t, err)

	calledC := false
	pipe.
		MustAddStep(pipeline.StepParams{Name: "A", Handle: returning(pipeline.Context{"a": 1})}).
		MustAddStep(pipeline.StepParams{
			Name: "B",
			Handle: func(_ context.Context, _ pipeline.Context, h pipeline.Handles) (pipeline.Context, error) {
				h.Pipeline.Signal(pipeline.StopPipeline)
				return pipeline.Context{"b": 2}, nil
			},
		}).
		MustAddStep(pipeline.StepParams{
			Name: "C",
			Handle: func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
				calledC = true
				return pipeline.Context{"c": 3}, nil
			},
		})

	got, err := pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, pipeline.Context{"a": 1, "b": 2}, got)
	assert.False(t, calledC)
	assert.Equal(t, 1, log.Flushes())
	assert.Contains(t, log.Format(), "Pipeline stopped by step 'B'")
	assert.Equal(t, pipeline.StateCompleted, pipe.State())
}

func TestRunDependencyOrder(t *testing.T) {
	t.Parallel()

	called := false
	handler := func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
		called = true
		return nil, nil
	}

	pipe, err := pipeline.New()
	require.NoError(t, err)
	pipe.
		MustAddStep(pipeline.StepParams{Name: "report", DependsOn: []string{"collect"}, Handle: handler}).
		MustAddStep(pipeline.StepParams{Name: "collect", Handle: handler})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{})
	require.Error(t, err)
	assert.False(t, called)

	var depErr *pipeline.DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Len(t, depErr.Problems, 1)
	assert.Contains(t, depErr.Problems[0], "collect")
	assert.Contains(t, depErr.Problems[0], "report")
	assert.Equal(t, pipeline.StateFailed, pipe.State())
}

func TestRunMissingDependencyUnderFilter(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New()
	require.NoError(t, err)
	pipe.
		MustAddStep(pipeline.StepParams{Name: "collect", Handle: noop}).
		MustAddStep(pipeline.StepParams{Name: "report", DependsOn: []string{"collect"}, Handle: noop})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{ExcludeSteps: []string{"collect"}},
	})

	var depErr *pipeline.DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []string{"Step 'collect', required by 'report', is not in the pipeline"}, depErr.Problems)
}

func TestRunValidationError(t *testing.T) {
	t.Parallel()

	log := newCountingLog()
	pipe, err := pipeline.New(pipeline.WithLog(log), pipeline.WithInitialContext(pipeline.Context{"branch": map[string]any{}}))
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{
		Name:   "leafs",
		Handle: noop,
		Inputs: map[string]pipeline.InputOptions{
			"branch.leaf1": {Required: true},
			"branch.leaf2": {Required: true},
		},
	})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{})

	var validationErr *pipeline.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Len(t, validationErr.Messages, 2)
	assert.Equal(t, 1, log.Flushes())
	assert.Contains(t, log.Format(), "Missing required context path 'branch.leaf1'")
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pipe.
		MustAddStep(pipeline.StepParams{
			Name: "first",
			Handle: func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
				cancel()
				return pipeline.Context{"first": true}, nil
			},
		}).
		MustAddStep(pipeline.StepParams{Name: "second", Handle: returning(pipeline.Context{"second": true})})

	_, err = pipe.Run(ctx, pipeline.RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pipeline.Context{"first": true}, pipe.Context())
}

func TestRunFilterOptions(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New()
	require.NoError(t, err)
	pipe.
		MustAddStep(pipeline.StepParams{Name: "s0", Handle: returning(pipeline.Context{"ran": []string{"s0"}})}).
		MustAddStep(pipeline.StepParams{Name: "s1", Handle: returning(pipeline.Context{"ran": []string{"s1"}})}).
		MustAddStep(pipeline.StepParams{Name: "s2", Handle: returning(pipeline.Context{"ran": []string{"s2"}}), ExcludeByDefault: true})

	got, err := pipe.Run(context.Background(), pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{Slice: pipeline.Slice{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, got["ran"])

	got, err = pipe.Run(context.Background(), pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{IncludeSteps: []string{"s2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got["ran"])
}

func TestRunIncludeAndExclude(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New()
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{Name: "s0", Handle: noop})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{IncludeSteps: []string{"s0"}, ExcludeSteps: []string{"s1"}},
	})

	assert.ErrorIs(t, err, pipeline.ErrIncludeAndExclude)
	assert.Equal(t, pipeline.StateFailed, pipe.State())
}

func TestRunInvalidSlice(t *testing.T) {
	t.Parallel()

	ran := false
	pipe, err := pipeline.New()
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{Name: "s0", Handle: func(context.Context, pipeline.Context, pipeline.Handles) (pipeline.Context, error) {
		ran = true
		return nil, nil
	}})

	out, err := pipe.Run(context.Background(), pipeline.RunOptions{
		FilterOptions: pipeline.FilterOptions{Slice: pipeline.Slice{0, 1, 2}},
	})
	assert.ErrorIs(t, err, pipeline.ErrInvalidSlice)
	assert.Nil(t, out)
	assert.False(t, ran)
}

func TestRunVerbose(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	pipe, err := pipeline.New(pipeline.WithLogger(logger))
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{
		Name: "chatty",
		Handle: func(_ context.Context, _ pipeline.Context, h pipeline.Handles) (pipeline.Context, error) {
			h.Log.Append("hello from the handler")
			return nil, nil
		},
	})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{Verbose: true})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Started step 'chatty'")
	assert.Contains(t, out, "hello from the handler")

	buf.Reset()
	_, err = pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestRunHandlesCarryRunID(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New()
	require.NoError(t, err)

	runIDs := []string{}
	pipe.MustAddStep(pipeline.StepParams{
		Name: "id",
		Handle: func(_ context.Context, _ pipeline.Context, h pipeline.Handles) (pipeline.Context, error) {
			runIDs = append(runIDs, h.RunID)
			return nil, nil
		},
	})

	for i := 0; i < 2; i++ {
		_, err = pipe.Run(context.Background(), pipeline.RunOptions{})
		require.NoError(t, err)
	}

	require.Len(t, runIDs, 2)
	assert.NotEmpty(t, runIDs[0])
	assert.NotEqual(t, runIDs[0], runIDs[1])
	assert.Contains(t, pipe.Log().(*logbook.Logbook).Format(), "Pipeline run "+runIDs[1])
}

func TestRunWithMeasureAndDrawer(t *testing.T) {
	t.Parallel()

	msr := measure.NewDefaultMeasure()
	reg := prometheus.NewRegistry()
	prom, err := measure.NewPrometheus(reg, "test")
	require.NoError(t, err)

	dotFile := filepath.Join(t.TempDir(), "pipeline.dot")
	pipe, err := pipeline.New(pipeline.WithFeatures(
		measure.PipelineMeasure(msr),
		prom,
		drawer.PipelineDrawer(drawer.NewDOTDrawer(dotFile), msr),
	))
	require.NoError(t, err)

	pipe.
		MustAddStep(pipeline.StepParams{Name: "extract", Handle: returning(pipeline.Context{"rows": 1})}).
		MustAddStep(pipeline.StepParams{Name: "load", DependsOn: []string{"extract"}, Handle: noop})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), msr.GetMetric("extract").Runs())
	assert.Equal(t, int64(1), msr.GetMetric("load").Runs())
	count, err := testutil.GatherAndCount(reg, "test_step_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	count, err = testutil.GatherAndCount(reg, "test_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.FileExists(t, dotFile)
}

func TestRunDrawerWithSelfDependency(t *testing.T) {
	t.Parallel()

	msr := measure.NewDefaultMeasure()
	dotFile := filepath.Join(t.TempDir(), "pipeline.dot")
	pipe, err := pipeline.New(pipeline.WithFeatures(
		measure.PipelineMeasure(msr),
		drawer.PipelineDrawer(drawer.NewDOTDrawer(dotFile), msr),
	))
	require.NoError(t, err)

	pipe.
		MustAddStep(pipeline.StepParams{Name: "a", DependsOn: []string{"a"}, Handle: noop}).
		MustAddStep(pipeline.StepParams{Name: "b", DependsOn: []string{"a"}, Handle: noop})

	_, err = pipe.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCompleted, pipe.State())

	data, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a" -> "b"`)
	assert.NotContains(t, string(data), `"a" -> "a"`)
}

type failingFinish struct {
	recordingFeature
}

func (*failingFinish) Finish() error { return assert.AnError }

func TestRunFinishError(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(pipeline.WithFeatures(&failingFinish{}))
	require.NoError(t, err)
	pipe.MustAddStep(pipeline.StepParams{Name: "a", Handle: returning(pipeline.Context{"done": true})})

	out, err := pipe.Run(context.Background(), pipeline.RunOptions{})
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, out)
	assert.Equal(t, pipeline.StateFailed, pipe.State())
	assert.Equal(t, pipeline.Context{"done": true}, pipe.Context())
}
