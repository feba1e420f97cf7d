package workflow

import (
	"context"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

// publish emits an instance lifecycle event keyed by instance id. Publishing
// failures are logged: the stored state is the source of truth.
func (m *Manager) publish(ctx context.Context, inst *models.ProcessInstance, eventType events.EventType, reason string) {
	if eventType == "" {
		return
	}

	event := events.InstanceEvent{
		BaseEvent:  events.NewBase(uuid.NewString(), eventType, inst.CompanyID, m.now()),
		InstanceID: inst.ID,
		ProcessID:  inst.ProcessID,
		Status:     inst.Status,
		StepID:     inst.CurrentStep,
		Error:      inst.Error,
		Reason:     reason,
	}

	if err := m.publisher.Publish(ctx, inst.ID, event); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish instance event",
			"instance_id", inst.ID,
			"event_type", eventType,
			"error", err)
	}
}
