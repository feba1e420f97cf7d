package services

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Canceller cancels process instances.
type Canceller interface {
	Cancel(ctx context.Context, instanceID, reason, actor string) (*models.ProcessInstance, error)
}

// Responder records approval responses.
type Responder interface {
	RecordResponse(ctx context.Context, approvalID string, decision models.ApprovalStatus, comments, actor string) (*models.Approval, error)
}

// Instance answers instance and approval queries and routes the few
// instance commands the API exposes.
type Instance struct {
	persistence persistence.Persistence
	canceller   Canceller
	responder   Responder
}

func NewInstance(persistence persistence.Persistence, canceller Canceller, responder Responder) *Instance {
	return &Instance{
		persistence: persistence,
		canceller:   canceller,
		responder:   responder,
	}
}

func (s *Instance) FetchByID(ctx context.Context, companyID, id string) (*models.ProcessInstance, error) {
	inst, err := s.persistence.InstanceRepository().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !owned(companyID, inst.Audit) {
		return nil, notFound(persistence.ErrInstanceNotFound, id)
	}

	return inst, nil
}

func (s *Instance) List(ctx context.Context, companyID, processID string, status *models.InstanceStatus) ([]*models.ProcessInstance, error) {
	return s.persistence.InstanceRepository().List(ctx, persistence.ListInstancesOptions{
		CompanyID: companyID,
		ProcessID: processID,
		Status:    status,
	})
}

// Executions returns the instance's step history in execution order.
func (s *Instance) Executions(ctx context.Context, companyID, id string) ([]*models.StepExecution, error) {
	if _, err := s.FetchByID(ctx, companyID, id); err != nil {
		return nil, err
	}

	return s.persistence.StepExecutionRepository().ByInstance(ctx, id)
}

func (s *Instance) Approvals(ctx context.Context, companyID, id string) ([]*models.Approval, error) {
	if _, err := s.FetchByID(ctx, companyID, id); err != nil {
		return nil, err
	}

	return s.persistence.ApprovalRepository().ByInstance(ctx, id)
}

func (s *Instance) Cancel(ctx context.Context, companyID, id, reason, actor string) (*models.ProcessInstance, error) {
	if _, err := s.FetchByID(ctx, companyID, id); err != nil {
		return nil, err
	}

	return s.canceller.Cancel(ctx, id, reason, actor)
}

func (s *Instance) PendingApprovals(ctx context.Context, companyID string) ([]*models.Approval, error) {
	return s.persistence.ApprovalRepository().Pending(ctx, companyID)
}

// Respond records a decision on an approval of companyID.
func (s *Instance) Respond(ctx context.Context, companyID, approvalID string, decision models.ApprovalStatus, comments, actor string) (*models.Approval, error) {
	pending, err := s.persistence.ApprovalRepository().ByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if pending.CompanyID != companyID {
		return nil, notFound(persistence.ErrApprovalNotFound, approvalID)
	}

	resolved, err := s.responder.RecordResponse(ctx, approvalID, decision, comments, actor)
	if err != nil {
		return resolved, fmt.Errorf("failed to record approval response: %w", err)
	}

	return resolved, nil
}
