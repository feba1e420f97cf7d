package protocol

import (
	"context"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// DataStore is the host application's record store used by action steps.
type DataStore interface {
	Get(ctx context.Context, companyID, entity, id string) (map[string]any, error)
	Create(ctx context.Context, companyID, entity string, record map[string]any) (map[string]any, error)
	Update(ctx context.Context, companyID, entity, id string, fields map[string]any) (map[string]any, error)
	Delete(ctx context.Context, companyID, entity, id string) error
}

// Notification is one outbound message.
type Notification struct {
	CompanyID  string `json:"company_id"`
	InstanceID string `json:"instance_id,omitempty"`
	Channel    string `json:"channel"`
	To         string `json:"to"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
}

// Notifier delivers notifications. Success means the send was accepted.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// APIRequest is one call through an API connection.
type APIRequest struct {
	Connection *models.APIConnection
	Method     string
	Path       string
	Headers    map[string]string
	Body       any
	Timeout    time.Duration
}

// APIResponse is the decoded reply of an API call.
type APIResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body"`
}

// APICaller performs outbound HTTP calls for api_call steps.
type APICaller interface {
	Call(ctx context.Context, req APIRequest) (*APIResponse, error)
}

// DocumentRequest asks for a template to be rendered into an artifact.
type DocumentRequest struct {
	CompanyID  string
	InstanceID string
	Template   string
	Format     string
	Name       string
	Data       map[string]any
}

// Document references a generated artifact.
type Document struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	URI    string `json:"uri"`
	Size   int64  `json:"size"`
}

// DocumentRenderer generates documents for document_generation steps.
type DocumentRenderer interface {
	Render(ctx context.Context, req DocumentRequest) (*Document, error)
}

// ApprovalRequester opens approvals for approval steps.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, execution *models.StepExecution, approverUserID string, cfg *models.ApprovalConfig) (*models.Approval, error)
}

// ChildStarter creates child instances for subprocess steps. The child is
// persisted but not run; the engine runs it after the parent is stored.
type ChildStarter interface {
	StartChild(ctx context.Context, parent *models.ProcessInstance, execution *models.StepExecution, cfg *models.SubprocessConfig, input map[string]any) (*models.ProcessInstance, error)
}
