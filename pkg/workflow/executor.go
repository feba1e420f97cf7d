package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/expression"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandlerSource resolves the handler for a step type.
type HandlerSource interface {
	Handler(stepType models.StepType) (protocol.StepHandler, error)
}

// OutcomeKind classifies what happened to a step.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeSuspended OutcomeKind = "suspended"
	// OutcomeSkipped means the step's When predicate was false.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeDiscarded means the instance turned terminal while the handler
	// ran; the result was thrown away.
	OutcomeDiscarded OutcomeKind = "discarded"
)

// Outcome is the result of executing one step attempt.
type Outcome struct {
	Kind       OutcomeKind
	Execution  *models.StepExecution
	Output     map[string]any
	Next       string
	Suspension *models.Suspension
	Spawned    []string
	Err        error
	// Retryable is set on failures that may be attempted again.
	Retryable bool
}

// Executor runs a single step attempt through its registered handler and
// records it as a StepExecution.
type Executor struct {
	handlers   HandlerSource
	executions persistence.StepExecutionRepository
	instances  persistence.InstanceRepository
	publisher  eventbus.EventPublisher
	metrics    metrics.Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
	now        Clock
}

func NewExecutor(store persistence.Persistence, handlers HandlerSource, opts Options) *Executor {
	opts = opts.withDefaults()

	return &Executor{
		handlers:   handlers,
		executions: store.StepExecutionRepository(),
		instances:  store.InstanceRepository(),
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("module", "step_executor"),
		now:        opts.Clock,
	}
}

// Execute runs attempt number attempt of step for inst. Step failures are
// reported in the Outcome; the returned error is reserved for storage
// failures, including persistence.ErrActiveExecutionExists when another
// attempt of the step is still open.
func (e *Executor) Execute(ctx context.Context, inst *models.ProcessInstance, step models.Step, attempt int) (Outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.InstanceIDKey, inst.ID),
		attribute.String(otelhelper.ProcessIDKey, inst.ProcessID),
		attribute.String(otelhelper.CompanyIDKey, inst.CompanyID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	logger := e.logger.With(
		"instance_id", inst.ID,
		"process_id", inst.ProcessID,
		"step_id", step.ID,
		"step_type", step.Type,
		"attempt", attempt,
	)

	execution := &models.StepExecution{
		ID:         uuid.Must(uuid.NewV7()).String(),
		InstanceID: inst.ID,
		StepID:     step.ID,
		StepType:   step.Type,
		Attempt:    attempt,
		Status:     models.StepExecutionRunning,
		InputData:  copyMap(inst.ContextData),
		StartedAt:  e.now(),
		CompanyID:  inst.CompanyID,
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	req := protocol.StepRequest{
		Instance:  inst,
		Step:      step,
		Execution: execution,
		Logger:    logger.With("execution_id", execution.ID),
		Now:       execution.StartedAt,
	}

	if step.When != "" {
		run, err := expression.EvalBool(step.When, req.Data())
		if err != nil {
			return e.failBeforeStart(ctx, span, execution, fmt.Errorf("failed to evaluate when: %w", err))
		}

		if !run {
			logger.DebugContext(ctx, "Step predicate is false, skipping")

			return e.skip(ctx, execution)
		}
	}

	handler, err := e.handlers.Handler(step.Type)
	if err != nil {
		return e.failBeforeStart(ctx, span, execution, err)
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		return Outcome{}, fmt.Errorf("failed to record step execution: %w", err)
	}

	started := time.Now()
	result, handlerErr := e.invoke(ctx, handler, req)
	elapsed := time.Since(started).Seconds()

	current, err := e.instances.ByID(ctx, inst.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to reload instance: %w", err)
	}

	if current.Status.IsTerminal() {
		logger.InfoContext(ctx, "Instance turned terminal while step ran, discarding result", "status", current.Status)

		if err := e.finalize(ctx, execution, models.StepExecutionSkipped, nil, map[string]any{"reason": "instance " + string(current.Status)}); err != nil {
			return Outcome{}, err
		}

		return Outcome{
			Kind:       OutcomeDiscarded,
			Execution:  execution,
			Suspension: result.Suspend,
			Spawned:    result.Spawned,
		}, nil
	}

	if handlerErr != nil {
		otelhelper.SetError(span, handlerErr)
		e.metrics.ObserveStep(string(step.Type), string(models.StepExecutionFailed), elapsed)

		retryable := !protocol.IsPermanent(handlerErr) && attempt < step.MaxAttempts()
		logger.WarnContext(ctx, "Step failed", "error", handlerErr, "retryable", retryable)

		data := errorData(handlerErr, map[string]any{
			"attempt":   attempt,
			"permanent": protocol.IsPermanent(handlerErr),
		})
		if err := e.finalize(ctx, execution, models.StepExecutionFailed, nil, data); err != nil {
			return Outcome{}, err
		}

		return Outcome{Kind: OutcomeFailed, Execution: execution, Err: handlerErr, Retryable: retryable}, nil
	}

	if result.Suspend != nil {
		suspension := *result.Suspend
		suspension.StepID = step.ID
		suspension.ExecutionID = execution.ID

		execution.OutputData = result.Output
		if err := e.executions.Update(ctx, execution, models.StepExecutionRunning); err != nil {
			return Outcome{}, fmt.Errorf("failed to record suspended execution: %w", err)
		}

		e.metrics.ObserveStep(string(step.Type), "suspended", elapsed)
		logger.InfoContext(ctx, "Step suspended", "kind", suspension.Kind)

		return Outcome{
			Kind:       OutcomeSuspended,
			Execution:  execution,
			Output:     result.Output,
			Suspension: &suspension,
			Spawned:    result.Spawned,
		}, nil
	}

	if err := e.finalize(ctx, execution, models.StepExecutionCompleted, result.Output, nil); err != nil {
		return Outcome{}, err
	}

	e.metrics.ObserveStep(string(step.Type), string(models.StepExecutionCompleted), elapsed)
	logger.DebugContext(ctx, "Step completed", "next", result.Next)

	return Outcome{
		Kind:      OutcomeCompleted,
		Execution: execution,
		Output:    result.Output,
		Next:      result.Next,
		Spawned:   result.Spawned,
	}, nil
}

// invoke calls the handler, turning a panic into a permanent failure.
func (e *Executor) invoke(ctx context.Context, handler protocol.StepHandler, req protocol.StepRequest) (result protocol.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = protocol.Permanent(fmt.Errorf("step handler panicked: %v", r))
		}
	}()

	return handler.Execute(ctx, req)
}

// failBeforeStart records a failed execution for a step that could not be
// started at all. Such failures are never retried.
func (e *Executor) failBeforeStart(ctx context.Context, span trace.Span, execution *models.StepExecution, cause error) (Outcome, error) {
	otelhelper.SetError(span, cause)

	execution.Status = models.StepExecutionFailed
	execution.ErrorData = errorData(cause, map[string]any{"attempt": execution.Attempt, "permanent": true})
	completed := execution.StartedAt
	execution.CompletedAt = &completed

	if err := e.executions.Create(ctx, execution); err != nil {
		return Outcome{}, fmt.Errorf("failed to record step execution: %w", err)
	}

	e.publishStep(ctx, execution)

	return Outcome{Kind: OutcomeFailed, Execution: execution, Err: protocol.Permanent(cause)}, nil
}

func (e *Executor) skip(ctx context.Context, execution *models.StepExecution) (Outcome, error) {
	execution.Status = models.StepExecutionSkipped
	completed := execution.StartedAt
	execution.CompletedAt = &completed

	if err := e.executions.Create(ctx, execution); err != nil {
		return Outcome{}, fmt.Errorf("failed to record skipped step: %w", err)
	}

	e.publishStep(ctx, execution)

	return Outcome{Kind: OutcomeSkipped, Execution: execution}, nil
}

// Finalize closes a suspended execution that is still running.
func (e *Executor) Finalize(ctx context.Context, executionID string, status models.StepExecutionStatus, output, errData map[string]any) (*models.StepExecution, error) {
	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step execution: %w", err)
	}

	if execution.Status.IsTerminal() {
		return execution, nil
	}

	if output == nil {
		output = execution.OutputData
	}

	if err := e.finalize(ctx, execution, status, output, errData); err != nil {
		if errors.Is(err, persistence.ErrStaleState) {
			return execution, nil
		}

		return nil, err
	}

	return execution, nil
}

func (e *Executor) finalize(ctx context.Context, execution *models.StepExecution, status models.StepExecutionStatus, output, errData map[string]any) error {
	execution.Finish(status, output, errData, e.now())

	if err := e.executions.Update(ctx, execution, models.StepExecutionRunning); err != nil {
		return fmt.Errorf("failed to finalize step execution: %w", err)
	}

	e.publishStep(ctx, execution)

	return nil
}

func (e *Executor) publishStep(ctx context.Context, execution *models.StepExecution) {
	var eventType events.EventType

	switch execution.Status {
	case models.StepExecutionCompleted:
		eventType = events.StepCompletedEvent
	case models.StepExecutionFailed:
		eventType = events.StepFailedEvent
	case models.StepExecutionSkipped:
		eventType = events.StepSkippedEvent
	default:
		return
	}

	event := events.StepEvent{
		BaseEvent:   events.NewBase(uuid.NewString(), eventType, execution.CompanyID, e.now()),
		InstanceID:  execution.InstanceID,
		ExecutionID: execution.ID,
		StepID:      execution.StepID,
		StepType:    execution.StepType,
		Attempt:     execution.Attempt,
		Status:      execution.Status,
		Error:       execution.ErrorData,
	}

	if err := e.publisher.Publish(ctx, execution.InstanceID, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish step event", "execution_id", execution.ID, "error", err)
	}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
