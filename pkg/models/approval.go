package models

import "time"

// ApprovalStatus is the state of a human decision; Approved and Rejected are
// also the two valid decisions.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsDecision reports whether s is a valid response to an approval.
func (s ApprovalStatus) IsDecision() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Approval is a pending or resolved human decision gating one step execution.
type Approval struct {
	ID               string         `json:"id"`
	InstanceID       string         `json:"instance_id"`
	ExecutionID      string         `json:"execution_id"`
	StepID           string         `json:"step_id"`
	ApproverUserID   string         `json:"approver_user_id"`
	Status           ApprovalStatus `json:"status"`
	Comments         string         `json:"comments,omitempty"`
	RespondedBy      string         `json:"responded_by,omitempty"`
	RequestedAt      time.Time      `json:"requested_at"`
	RespondedAt      *time.Time     `json:"responded_at,omitempty"`
	RemindersSent    []time.Time    `json:"reminders_sent"`
	ReminderInterval Duration       `json:"reminder_interval,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	CompanyID        string         `json:"company_id"`
}

// ReminderDue reports whether a reminder should go out at now: the request
// is older than interval and so is the latest reminder.
func (a *Approval) ReminderDue(now time.Time, interval time.Duration) bool {
	if a.Status != ApprovalPending || interval <= 0 {
		return false
	}

	last := a.RequestedAt
	if n := len(a.RemindersSent); n > 0 {
		last = a.RemindersSent[n-1]
	}

	return !now.Before(last.Add(interval))
}

// Expired reports whether the approval has an expiry at or before now.
func (a *Approval) Expired(now time.Time) bool {
	return a.Status == ApprovalPending && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
