// Package events defines the lifecycle events the engine publishes and the
// inbound notifications it consumes.
package events

import (
	"time"

	"github.com/dukex/procflow/pkg/models"
)

type EventType string

// Topics.
const (
	Topic        = "procflow.events"
	InboundTopic = "procflow.inbound"
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	InstanceStartedEvent   EventType = "instance.started"
	InstanceWaitingEvent   EventType = "instance.waiting_approval"
	InstanceResumedEvent   EventType = "instance.resumed"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"

	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalReminderEvent  EventType = "approval.reminder"
	ApprovalResolvedEvent  EventType = "approval.resolved"

	ScheduledJobFiredEvent EventType = "scheduled_job.fired"

	// Inbound.
	ExternalEventReceivedEvent EventType = "inbound.event"
	DataChangeReceivedEvent    EventType = "inbound.data_change"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	CompanyID string         `json:"company_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func NewBase(id string, eventType EventType, companyID string, at time.Time) BaseEvent {
	return BaseEvent{ID: id, Type: eventType, Timestamp: at.UTC(), CompanyID: companyID}
}

// InstanceEvent reports an instance status change.
type InstanceEvent struct {
	BaseEvent

	InstanceID string                `json:"instance_id"`
	ProcessID  string                `json:"process_id"`
	Status     models.InstanceStatus `json:"status"`
	StepID     string                `json:"step_id,omitempty"`
	Error      map[string]any        `json:"error,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// StepEvent reports a finalized step execution.
type StepEvent struct {
	BaseEvent

	InstanceID  string                     `json:"instance_id"`
	ExecutionID string                     `json:"execution_id"`
	StepID      string                     `json:"step_id"`
	StepType    models.StepType            `json:"step_type"`
	Attempt     int                        `json:"attempt"`
	Status      models.StepExecutionStatus `json:"status"`
	Error       map[string]any             `json:"error,omitempty"`
}

type ApprovalEvent struct {
	BaseEvent

	ApprovalID     string                `json:"approval_id"`
	InstanceID     string                `json:"instance_id"`
	ApproverUserID string                `json:"approver_user_id"`
	Status         models.ApprovalStatus `json:"status"`
}

type ScheduledJobFired struct {
	BaseEvent

	JobID        string    `json:"job_id"`
	ProcessID    string    `json:"process_id"`
	TriggerID    string    `json:"trigger_id,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
	InstanceID   string    `json:"instance_id,omitempty"`
}

// ExternalEventReceived carries an external event to the trigger evaluator.
type ExternalEventReceived struct {
	BaseEvent

	Event models.ExternalEvent `json:"event"`
}

// DataChangeReceived carries a data-change notification to the trigger evaluator.
type DataChangeReceived struct {
	BaseEvent

	Change models.DataChange `json:"change"`
}

// New returns an empty value of the concrete type behind eventType, ready to
// be unmarshalled into, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case InstanceStartedEvent, InstanceWaitingEvent, InstanceResumedEvent,
		InstanceCompletedEvent, InstanceFailedEvent, InstanceCancelledEvent:
		return &InstanceEvent{}
	case StepCompletedEvent, StepFailedEvent, StepSkippedEvent:
		return &StepEvent{}
	case ApprovalRequestedEvent, ApprovalReminderEvent, ApprovalResolvedEvent:
		return &ApprovalEvent{}
	case ScheduledJobFiredEvent:
		return &ScheduledJobFired{}
	case ExternalEventReceivedEvent:
		return &ExternalEventReceived{}
	case DataChangeReceivedEvent:
		return &DataChangeReceived{}
	default:
		return nil
	}
}
