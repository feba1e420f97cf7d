package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/workflow"
)

// Starter creates process instances.
type Starter interface {
	Start(ctx context.Context, req workflow.StartRequest) (*models.ProcessInstance, error)
}

// Evaluator fires triggers: it evaluates a candidate and, on a match, asks the
// instance manager to start the trigger's process.
type Evaluator struct {
	triggers  persistence.TriggerRepository
	processes persistence.ProcessRepository
	starter   Starter
	logger    *slog.Logger
}

func NewEvaluator(store persistence.Persistence, starter Starter, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		triggers:  store.TriggerRepository(),
		processes: store.ProcessRepository(),
		starter:   starter,
		logger:    logger.With("module", "trigger_evaluator"),
	}
}

// Fire evaluates t against c and starts an instance on a match. It returns
// nil, nil when the trigger does not match.
func (e *Evaluator) Fire(ctx context.Context, t *models.Trigger, c Candidate) (*models.ProcessInstance, error) {
	req, err := Evaluate(t, c)
	if err != nil || req == nil {
		return nil, err
	}

	process, err := e.processes.ByID(ctx, req.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("failed to load process definition: %w", err)
	}

	if req.CompanyID != "" && process.CompanyID != req.CompanyID {
		return nil, fmt.Errorf("%w: %s", persistence.ErrProcessNotFound, req.ProcessID)
	}

	inst, err := e.starter.Start(ctx, workflow.StartRequest{
		Definition: process,
		TriggerID:  req.TriggerID,
		Context:    req.Context,
		Actor:      req.Actor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start process %s: %w", req.ProcessID, err)
	}

	e.logger.InfoContext(ctx, "Trigger fired", "trigger_id", req.TriggerID, "trigger_type", t.Type, "process_id", req.ProcessID, "instance_id", inst.ID)

	return inst, nil
}

// DeliverEvent fans an external event out to every active event trigger of
// its company. A failing trigger is logged and never stops the others; the
// returned error covers only the trigger lookup.
func (e *Evaluator) DeliverEvent(ctx context.Context, event models.ExternalEvent) ([]*models.ProcessInstance, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	return e.deliver(ctx, event.CompanyID, models.TriggerTypeEvent, Candidate{Event: &event})
}

// DeliverDataChange fans a data change out to every active data_change
// trigger of its company.
func (e *Evaluator) DeliverDataChange(ctx context.Context, change models.DataChange) ([]*models.ProcessInstance, error) {
	return e.deliver(ctx, change.CompanyID, models.TriggerTypeDataChange, Candidate{Change: &change})
}

func (e *Evaluator) deliver(ctx context.Context, companyID string, triggerType models.TriggerType, c Candidate) ([]*models.ProcessInstance, error) {
	triggers, err := e.triggers.Active(ctx, companyID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s triggers: %w", triggerType, err)
	}

	var started []*models.ProcessInstance

	for _, t := range triggers {
		inst, err := e.Fire(ctx, t, c)
		if err != nil {
			if errors.Is(err, workflow.ErrProcessNotActive) {
				e.logger.DebugContext(ctx, "Skipping trigger of inactive process", "trigger_id", t.ID, "process_id", t.ProcessID)

				continue
			}

			e.logger.ErrorContext(ctx, "failed to fire trigger", "trigger_id", t.ID, "error", err)

			continue
		}

		if inst != nil {
			started = append(started, inst)
		}
	}

	return started, nil
}

// FireScheduled starts the process of a scheduled job for the boundary at.
// Jobs created without a trigger start their process directly.
func (e *Evaluator) FireScheduled(ctx context.Context, job *models.ScheduledJob, at time.Time) (*models.ProcessInstance, error) {
	t := &models.Trigger{
		ProcessID: job.ProcessID,
		Type:      models.TriggerTypeScheduled,
		Condition: &models.ScheduledCondition{Cron: job.Cron, Timezone: job.Timezone},
		IsActive:  job.IsActive,
		Audit:     models.Audit{CompanyID: job.CompanyID},
	}

	if job.TriggerID != "" {
		var err error

		t, err = e.triggers.ByID(ctx, job.TriggerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trigger: %w", err)
		}
	}

	return e.Fire(ctx, t, Candidate{At: at, Payload: job.Payload, Actor: "scheduler"})
}

// StartManual starts processID on an explicit request. The first active
// manual trigger of the process, if any, checks the payload's required
// fields. Definitions of another company are reported as not found.
func (e *Evaluator) StartManual(ctx context.Context, companyID, processID string, payload map[string]any, actor string) (*models.ProcessInstance, error) {
	process, err := e.processes.ByID(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to load process definition: %w", err)
	}

	if process.CompanyID != companyID {
		return nil, fmt.Errorf("%w: %s", persistence.ErrProcessNotFound, processID)
	}

	triggers, err := e.triggers.ByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	t := &models.Trigger{
		ProcessID: processID,
		Type:      models.TriggerTypeManual,
		IsActive:  true,
		Audit:     models.Audit{CompanyID: companyID},
	}

	for _, candidate := range triggers {
		if candidate.Type == models.TriggerTypeManual && candidate.IsActive {
			t = candidate

			break
		}
	}

	return e.Fire(ctx, t, Candidate{Payload: payload, Actor: actor})
}

// AcceptWebhook evaluates an inbound webhook call for triggerID. An inactive
// trigger accepts the call and starts nothing.
func (e *Evaluator) AcceptWebhook(ctx context.Context, triggerID string, body []byte, signature string) (*models.ProcessInstance, error) {
	t, err := e.triggers.ByID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}

	if t.Type != models.TriggerTypeWebhook {
		return nil, fmt.Errorf("%w: trigger %s is %s", ErrWrongTriggerType, triggerID, t.Type)
	}

	return e.Fire(ctx, t, Candidate{Body: body, Signature: signature, Actor: "webhook"})
}
