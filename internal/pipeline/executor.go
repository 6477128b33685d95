package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"

	"image-pipeline/internal/metrics"
	"image-pipeline/internal/operations"
	"image-pipeline/internal/params"
)

// ErrEmptyInput is returned when Run is given an empty raster
var ErrEmptyInput = errors.New("input image is empty")

// Resolver looks up the live instance for an operation identifier
type Resolver interface {
	Resolve(id string) (*operations.Instance, error)
}

type Options struct {
	// StrictParams rejects out of range or unknown-option values instead of
	// passing them to the operation.
	StrictParams bool
	// Quality attaches PSNR, SSIM and MSE between each step's input and output.
	Quality bool

	Recorder Recorder
	Logger   logrus.FieldLogger
	Tracer   trace.Tracer
}

type Executor struct {
	resolver  Resolver
	opts      Options
	logger    logrus.FieldLogger
	tracer    trace.Tracer
	evaluator *metrics.Evaluator
}

func New(resolver Resolver, opts Options) *Executor {
	e := &Executor{
		resolver: resolver,
		opts:     opts,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("image-pipeline/internal/pipeline")
	}
	if opts.Quality {
		e.evaluator = metrics.NewEvaluator()
	}
	return e
}

// Run applies steps to a copy of src in order. Unknown identifiers are
// skipped. The first processing failure aborts the run, releases every
// intermediate raster and returns a *operations.ProcessingError. Snapshot
// positions are zero-based step indices; a snapshot is kept only for
// requested positions whose step succeeded.
func (e *Executor) Run(ctx context.Context, src gocv.Mat, steps []Step, snapshots []int) (*Result, error) {
	if src.Empty() {
		return nil, ErrEmptyInput
	}

	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("steps", len(steps)),
	))
	defer span.End()

	logger := e.logger.WithField("run_id", runID)
	logger.WithField("steps", len(steps)).Debug("Starting pipeline")

	wanted := make(map[int]bool, len(snapshots))
	for _, pos := range snapshots {
		wanted[pos] = true
	}

	run := Run{ID: runID, StartedAt: time.Now()}
	result := &Result{
		RunID:     runID,
		Snapshots: make(map[string]gocv.Mat),
	}
	current := src.Clone()

	for pos, step := range steps {
		run.Steps = append(run.Steps, step.ID)
		report := StepReport{Position: pos, ID: step.ID, State: StatePending}
		stepLogger := logger.WithFields(logrus.Fields{"position": pos, "operation": step.ID})

		report.State = StateResolving
		inst, err := e.resolver.Resolve(step.ID)
		if err != nil {
			if errors.Is(err, operations.ErrUnknownOperation) {
				stepLogger.Warn("Skipping unknown operation")
				report.State = StateSkipped
				result.Steps = append(result.Steps, report)
				result.Skipped = append(result.Skipped, SkippedStep{Position: pos, ID: step.ID, Reason: err.Error()})
				run.Skipped = append(run.Skipped, step.ID)
				metrics.StepsTotal.WithLabelValues(step.ID, string(StateSkipped)).Inc()
				continue
			}
			return e.fail(ctx, span, &run, result, current, operations.NewProcessingError(step.ID, pos, err))
		}

		output, elapsed, err := e.execute(ctx, inst, pos, step, current, &report)
		if err != nil {
			stepLogger.WithError(err).Error("Step failed")
			report.State = StateFailed
			result.Steps = append(result.Steps, report)
			metrics.StepsTotal.WithLabelValues(step.ID, string(StateFailed)).Inc()
			return e.fail(ctx, span, &run, result, current, err)
		}

		if e.evaluator != nil {
			report.Quality = e.evaluator.EvaluateStep(current, output)
		}

		current.Close()
		current = output
		result.Elapsed += elapsed
		report.State = StateSucceeded
		report.Elapsed = elapsed
		result.Steps = append(result.Steps, report)

		metrics.StepsTotal.WithLabelValues(step.ID, string(StateSucceeded)).Inc()
		metrics.StepDuration.WithLabelValues(step.ID).Observe(elapsed.Seconds())
		stepLogger.WithField("elapsed", elapsed).Debug("Step completed")

		if wanted[pos] {
			result.Snapshots[strconv.Itoa(pos)] = current.Clone()
		}
	}

	result.Image = current
	run.Elapsed = result.Elapsed

	metrics.PipelineRunsTotal.WithLabelValues("success").Inc()
	metrics.PipelineDuration.Observe(result.Elapsed.Seconds())
	span.SetAttributes(
		attribute.Int64("elapsed_ms", result.ElapsedMS()),
		attribute.Int("skipped", len(result.Skipped)),
	)
	logger.WithFields(logrus.Fields{
		"elapsed_ms": result.ElapsedMS(),
		"skipped":    len(result.Skipped),
		"snapshots":  len(result.Snapshots),
	}).Info("Pipeline completed")

	e.record(ctx, logger, run)
	return result, nil
}

// execute configures and runs one step while holding the instance lock.
// Only the processing call itself is timed.
func (e *Executor) execute(ctx context.Context, inst *operations.Instance, pos int, step Step, input gocv.Mat, report *StepReport) (gocv.Mat, time.Duration, error) {
	_, span := e.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.Int("position", pos),
		attribute.String("operation", step.ID),
	))
	defer span.End()

	var (
		output  gocv.Mat
		elapsed time.Duration
	)
	err := inst.Do(func(values params.Values) error {
		report.State = StateConfiguring
		if e.opts.StrictParams {
			if err := params.Validate(inst.Kind().Schema, step.Params); err != nil {
				return fmt.Errorf("invalid parameters: %w", err)
			}
		}
		params.Merge(values, step.Params)

		report.State = StateRunning
		start := time.Now()
		out, err := process(inst.Transform(), input, values)
		elapsed = time.Since(start)
		if err != nil {
			out.Close()
			return err
		}
		if out.Empty() {
			out.Close()
			return errors.New("operation produced an empty image")
		}
		output = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gocv.Mat{}, 0, operations.NewProcessingError(step.ID, pos, err)
	}
	return output, elapsed, nil
}

// process converts a panic inside a transform into an error
func process(transform operations.Transform, input gocv.Mat, values params.Values) (out gocv.Mat, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = gocv.NewMat()
			err = fmt.Errorf("panic during processing: %v", r)
		}
	}()
	return transform.Process(input, values)
}

func (e *Executor) fail(ctx context.Context, span trace.Span, run *Run, result *Result, current gocv.Mat, err error) (*Result, error) {
	current.Close()
	for key, snapshot := range result.Snapshots {
		snapshot.Close()
		delete(result.Snapshots, key)
	}

	var pe *operations.ProcessingError
	if errors.As(err, &pe) {
		run.FailedOp = pe.Op
		run.FailedPosition = pe.Position
	}
	run.Err = err
	run.Elapsed = result.Elapsed

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.PipelineRunsTotal.WithLabelValues("failure").Inc()

	logger := e.logger.WithField("run_id", run.ID)
	logger.WithError(err).Error("Pipeline aborted")
	e.record(ctx, logger, *run)
	return nil, err
}

func (e *Executor) record(ctx context.Context, logger logrus.FieldLogger, run Run) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.RecordRun(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run history")
	}
}
