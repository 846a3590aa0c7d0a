package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-stepline/pkg/logbook"
)

// Run validates and executes the steps selected by opts, one at a time, and
// returns the final context.
//
// A failing step stops the run: the failure is written to the log, the log is
// flushed, and the error is returned unchanged. Everything merged by earlier
// steps stays available through Context. A step raising StopPipeline ends the
// run successfully once its own output is merged. A pipeline option failing
// to finish turns a successful run into a failed one.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (out Context, err error) {
	runID := uuid.NewString()
	log := p.runLog(opts.Verbose)

	defer func() {
		finishErr := p.finishFeatures()
		if finishErr == nil {
			return
		}
		if err == nil {
			p.setState(StateFailed)
			out, err = nil, finishErr
			return
		}
		p.logger.Error("unable to finish pipeline options after failed run", "run_id", runID, "error", finishErr)
	}()

	p.setState(StateValidating)
	p.writeHeader(log, runID, opts)

	steps, err := p.FilterSteps(opts.FilterOptions)
	if err != nil {
		return nil, p.fail(ctx, log, "", err)
	}

	result := p.Validate(opts.FilterOptions)
	if !result.OK() {
		log.Append(result, logbook.WithPrefix("Validation"))
		return nil, p.fail(ctx, log, "", &DependencyError{Problems: result.Errors})
	}
	if len(result.Warnings) > 0 {
		log.Append(result.Warnings, logbook.WithPrefix("Warnings"))
	}

	p.setState(StateRunning)
	handles := Handles{Log: log, Pipeline: p, RunID: runID}

	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, p.fail(ctx, log, step.name, ctxErr)
		}

		err := p.runStep(ctx, log, step, handles)
		if err != nil {
			return nil, p.fail(ctx, log, step.name, err)
		}

		if p.Stopped() {
			log.Append(fmt.Sprintf("Pipeline stopped by step '%s'", step.name), logbook.PrependTimestamp())
			break
		}
	}

	log.Append("Pipeline completed", logbook.PrependTimestamp(), logbook.SectionBreakBefore())

	err = log.Flush(context.WithoutCancel(ctx))
	if err != nil {
		p.setState(StateFailed)
		return nil, errors.Wrap(err, "unable to flush the run log")
	}

	p.setState(StateCompleted)

	return p.Context(), nil
}

func (p *Pipeline) runStep(ctx context.Context, log Log, step *Step, handles Handles) error {
	log.Append(fmt.Sprintf("Started step '%s'", step.name), logbook.PrependTimestamp(), logbook.SectionBreakBefore())

	info := step.info(p.indexOf(step.name))
	for _, feature := range p.features {
		err := feature.BeforeStep(info)
		if err != nil {
			return errors.Wrap(err, "unable to run before step function")
		}
	}

	start := time.Now()
	_, stepErr := step.Run(ctx, p.Context(), handles)
	elapsed := time.Since(start)

	for _, feature := range p.features {
		err := feature.AfterStep(info, elapsed, stepErr)
		if err != nil && stepErr == nil {
			return errors.Wrap(err, "unable to run after step function")
		}
	}

	return stepErr
}

// fail records err in the log and flushes it before handing err back.
func (p *Pipeline) fail(ctx context.Context, log Log, stepName string, err error) error {
	p.setState(StateFailed)

	log.Append(describeError(stepName, err), logbook.WithPrefix("Error"), logbook.SectionBreakBefore())

	flushErr := log.Flush(context.WithoutCancel(ctx))
	if flushErr != nil {
		p.logger.Error("unable to flush the run log", "destination", log.Destination(), "error", flushErr)
	}

	return err
}

func (p *Pipeline) writeHeader(log Log, runID string, opts RunOptions) {
	all := p.Steps()
	active, _ := FilterSteps(all, opts.FilterOptions)

	activeNames := stepNames(active)
	isActive := make(map[string]struct{}, len(activeNames))
	for _, name := range activeNames {
		isActive[name] = struct{}{}
	}

	inactive := []string{}
	for _, step := range all {
		if _, ok := isActive[step.name]; !ok {
			inactive = append(inactive, step.name)
		}
	}

	log.Append("Pipeline run "+runID, logbook.PrependTimestamp(), logbook.SectionBreakBefore())
	log.Append(map[string]any{
		"stepsDefined":  stepNames(all),
		"stepsActive":   activeNames,
		"stepsInactive": inactive,
		"options":       opts,
	}, logbook.WithPrefix("Run"), logbook.SectionBreakAfter())
}

func (p *Pipeline) indexOf(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.names[name]
}

func (p *Pipeline) finishFeatures() error {
	var grp errgroup.Group
	for _, feature := range p.features {
		grp.Go(feature.Finish)
	}

	err := grp.Wait()
	if err != nil {
		return errors.Wrap(err, "unable to finish pipeline option")
	}

	return nil
}

func (p *Pipeline) runLog(verbose bool) Log {
	if !verbose {
		return p.log
	}

	return &verboseLog{Log: p.log, logger: p.logger}
}

// verboseLog echoes every entry to the diagnostics logger.
type verboseLog struct {
	Log
	logger *slog.Logger
}

func (v *verboseLog) Append(entry any, opts ...logbook.AppendOption) {
	v.Log.Append(entry, opts...)

	if text, ok := entry.(string); ok {
		v.logger.Info(text)
		return
	}
	v.logger.Info("pipeline log entry", "entry", entry)
}

func stepNames(steps []*Step) []string {
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.name)
	}

	return names
}

func describeError(stepName string, err error) map[string]any {
	desc := map[string]any{
		"name":    fmt.Sprintf("%T", errors.Cause(err)),
		"message": err.Error(),
	}
	if stepName != "" {
		desc["step"] = stepName
	}

	var tracer interface{ StackTrace() errors.StackTrace }
	if errors.As(err, &tracer) {
		desc["stack"] = fmt.Sprintf("%+v", tracer.StackTrace())
	}

	var withData interface{ Data() any }
	if errors.As(err, &withData) {
		desc["data"] = withData.Data()
	}

	return desc
}
