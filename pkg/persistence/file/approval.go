package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// ApprovalRepository handles approval file operations.
type ApprovalRepository struct {
	mu        *sync.RWMutex
	approvals collection[models.Approval]
}

func (r *ApprovalRepository) Create(_ context.Context, approval *models.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.approvals.put(approval.ID, approval)
}

func (r *ApprovalRepository) ByID(_ context.Context, id string) (*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID(id)
}

func (r *ApprovalRepository) byID(id string) (*models.Approval, error) {
	approval, err := r.approvals.get(id)
	if err != nil {
		return nil, err
	}

	if approval == nil {
		return nil, persistence.NewEntityError("ByID", "approval", id, persistence.ErrApprovalNotFound)
	}

	return approval, nil
}

func (r *ApprovalRepository) ByExecution(_ context.Context, executionID string) (*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	approvals, err := r.approvals.list(func(a *models.Approval) bool { return a.ExecutionID == executionID })
	if err != nil {
		return nil, err
	}

	if len(approvals) == 0 {
		return nil, persistence.NewEntityError("ByExecution", "approval", executionID, persistence.ErrApprovalNotFound)
	}

	return approvals[0], nil
}

func (r *ApprovalRepository) ByInstance(_ context.Context, instanceID string) ([]*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(a *models.Approval) bool { return a.InstanceID == instanceID })
}

func (r *ApprovalRepository) Pending(_ context.Context, companyID string) ([]*models.Approval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(a *models.Approval) bool {
		return a.Status == models.ApprovalPending && (companyID == "" || a.CompanyID == companyID)
	})
}

func (r *ApprovalRepository) sorted(keep func(*models.Approval) bool) ([]*models.Approval, error) {
	approvals, err := r.approvals.list(keep)
	if err != nil {
		return nil, err
	}

	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].RequestedAt.Before(approvals[j].RequestedAt)
	})

	return approvals, nil
}

func (r *ApprovalRepository) Resolve(_ context.Context, id string, status models.ApprovalStatus, comments, respondedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	approval, err := r.byID(id)
	if err != nil {
		return err
	}

	if approval.Status != models.ApprovalPending {
		return persistence.NewEntityError("Resolve", "approval", id, persistence.ErrStaleState)
	}

	approval.Status = status
	approval.Comments = comments
	approval.RespondedBy = respondedBy
	approval.RespondedAt = &at

	return r.approvals.put(id, approval)
}

func (r *ApprovalRepository) AppendReminder(_ context.Context, id string, sentCount int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	approval, err := r.byID(id)
	if err != nil {
		return err
	}

	if approval.Status != models.ApprovalPending || len(approval.RemindersSent) != sentCount {
		return persistence.NewEntityError("AppendReminder", "approval", id, persistence.ErrStaleState)
	}

	approval.RemindersSent = append(approval.RemindersSent, at)

	return r.approvals.put(id, approval)
}
