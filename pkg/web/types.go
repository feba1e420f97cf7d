// Package web provides the HTTP API of the process engine.
package web

import (
	"github.com/dukex/procflow/pkg/models"
)

// Tenant and actor headers. Authentication happens in front of the API.
const (
	CompanyHeader = "X-Company-ID"
	UserHeader    = "X-User-ID"

	defaultActor = "api"
)

// CreateProcessRequest is the body of POST /processes.
type CreateProcessRequest struct {
	Name        string        `json:"name"                  validate:"required,min=3"`
	Description string        `json:"description,omitempty"`
	Steps       []models.Step `json:"steps"                 validate:"required,min=1"`
	IsTemplate  bool          `json:"is_template"`
	Version     string        `json:"version,omitempty"     validate:"omitempty,semver"`
}

// UpdateProcessRequest is the body of PATCH /processes/:id. All fields are
// optional.
type UpdateProcessRequest struct {
	Name        *string       `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string       `json:"description,omitempty"`
	Steps       []models.Step `json:"steps,omitempty"       validate:"omitempty,min=1"`
	IsTemplate  *bool         `json:"is_template,omitempty"`
	Version     *string       `json:"version,omitempty"     validate:"omitempty,semver"`
}

type DuplicateProcessRequest struct {
	Name       string `json:"name,omitempty"`
	AsTemplate bool   `json:"as_template"`
}

type InstantiateTemplateRequest struct {
	Name string `json:"name,omitempty"`
}

// StartProcessRequest is the body of a manual start.
type StartProcessRequest struct {
	Payload map[string]any `json:"payload"`
}

type CancelInstanceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type RespondApprovalRequest struct {
	Decision models.ApprovalStatus `json:"decision" validate:"required,oneof=approved rejected"`
	Comments string                `json:"comments,omitempty"`
}

// CreateScheduledJobRequest is the body of POST /scheduled-jobs.
type CreateScheduledJobRequest struct {
	Name      string         `json:"name"               validate:"required"`
	ProcessID string         `json:"process_id"         validate:"required"`
	Cron      string         `json:"cron"               validate:"required"`
	Timezone  string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Payload   map[string]any `json:"payload,omitempty"`
	IsActive  bool           `json:"is_active"`
}

type UpdateScheduledJobRequest struct {
	Name     *string        `json:"name,omitempty"`
	Cron     *string        `json:"cron,omitempty"`
	Timezone *string        `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Payload  map[string]any `json:"payload,omitempty"`
	IsActive *bool          `json:"is_active,omitempty"`
}

// DeliveryResponse lists the instances a delivered notification started.
type DeliveryResponse struct {
	InstanceIDs []string `json:"instance_ids"`
}

// WebhookResponse acknowledges a webhook call. InstanceID is empty when the
// trigger was inactive or did not match.
type WebhookResponse struct {
	Accepted   bool   `json:"accepted"`
	InstanceID string `json:"instance_id,omitempty"`
}

func instanceIDs(instances []*models.ProcessInstance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}

	return ids
}
