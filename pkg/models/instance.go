package models

import (
	"fmt"
	"time"
)

// InstanceStatus is the state of a process instance.
type InstanceStatus string

const (
	InstanceStatusRunning         InstanceStatus = "running"
	InstanceStatusWaitingApproval InstanceStatus = "waiting_approval"
	InstanceStatusCompleted       InstanceStatus = "completed"
	InstanceStatusFailed          InstanceStatus = "failed"
	InstanceStatusCancelled       InstanceStatus = "cancelled"
)

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusRunning: {
		InstanceStatusWaitingApproval,
		InstanceStatusCompleted,
		InstanceStatusFailed,
		InstanceStatusCancelled,
	},
	InstanceStatusWaitingApproval: {
		InstanceStatusRunning,
		InstanceStatusCancelled,
	},
}

// CanTransition reports whether an instance may move from one status to another.
// Terminal statuses admit no transition.
func CanTransition(from, to InstanceStatus) bool {
	for _, allowed := range instanceTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	}

	return false
}

// SuspensionKind says what a parked instance is waiting for.
type SuspensionKind string

const (
	SuspensionDelay      SuspensionKind = "delay"
	SuspensionRetry      SuspensionKind = "retry"
	SuspensionApproval   SuspensionKind = "approval"
	SuspensionSubprocess SuspensionKind = "subprocess"
)

// Suspension is the durable resume marker of a parked instance.
type Suspension struct {
	Kind            SuspensionKind `json:"kind"`
	StepID          string         `json:"step_id"`
	ExecutionID     string         `json:"execution_id,omitempty"`
	ResumeAt        *time.Time     `json:"resume_at,omitempty"`
	ApprovalID      string         `json:"approval_id,omitempty"`
	ChildInstanceID string         `json:"child_instance_id,omitempty"`
	Attempt         int            `json:"attempt,omitempty"`
}

// ProcessInstance is one execution of a process definition snapshot.
type ProcessInstance struct {
	ID                string         `json:"id"`
	ProcessID         string         `json:"process_id"`
	Snapshot          Snapshot       `json:"snapshot"`
	TriggerID         string         `json:"trigger_id,omitempty"`
	ParentInstanceID  string         `json:"parent_instance_id,omitempty"`
	ParentExecutionID string         `json:"parent_execution_id,omitempty"`
	ContextData       map[string]any `json:"context_data"`
	CurrentStep       string         `json:"current_step"`
	Status            InstanceStatus `json:"status"`
	Suspension        *Suspension    `json:"suspension,omitempty"`
	Error             map[string]any `json:"error,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
	Revision          int64          `json:"revision"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Audit
}

// Transition moves the instance to status to, keeping CompletedAt in step
// with terminal statuses. Rejected edges leave the instance untouched.
func (i *ProcessInstance) Transition(to InstanceStatus, now time.Time) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, to)
	}

	i.Status = to
	i.UpdatedAt = now

	if to.IsTerminal() {
		completed := now
		i.CompletedAt = &completed
		i.Suspension = nil
	}

	return nil
}

// MergeOutput merges a step's output into the context: each key at the top
// level, and the whole map under steps.<stepID>.
func (i *ProcessInstance) MergeOutput(stepID string, output map[string]any) {
	if i.ContextData == nil {
		i.ContextData = map[string]any{}
	}

	if len(output) == 0 {
		return
	}

	for k, v := range output {
		if k == "steps" {
			continue
		}

		i.ContextData[k] = v
	}

	steps, _ := i.ContextData["steps"].(map[string]any)
	if steps == nil {
		steps = map[string]any{}
	}

	steps[stepID] = output
	i.ContextData["steps"] = steps
}

// IsSuspended reports whether the instance is parked on a marker.
func (i *ProcessInstance) IsSuspended() bool {
	return i.Suspension != nil
}
