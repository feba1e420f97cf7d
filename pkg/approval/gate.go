// Package approval implements the approval gate: it opens approvals for
// approval steps, records human responses, sends reminders and expires
// approvals that carry a deadline.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
	ErrAlreadyResolved = errors.New("approval is already resolved")
)

// Resumer continues the instance an approval belongs to.
type Resumer interface {
	ResumeFromApproval(ctx context.Context, executionID string, decision models.ApprovalStatus, comments, actor string) (*models.ProcessInstance, error)
	ExpireApproval(ctx context.Context, executionID string) (*models.ProcessInstance, error)
}

// Config holds gate-wide defaults. A step's own reminder interval wins over
// ReminderInterval.
type Config struct {
	ReminderInterval time.Duration
	Channel          string
}

type Gate struct {
	approvals persistence.ApprovalRepository
	instances persistence.InstanceRepository
	resumer   Resumer
	notifier  protocol.Notifier
	publisher eventbus.EventPublisher
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
	config    Config
}

// Option customizes a Gate.
type Option func(*Gate)

func WithPublisher(p eventbus.EventPublisher) Option { return func(g *Gate) { g.publisher = p } }

func WithMetrics(r metrics.Recorder) Option { return func(g *Gate) { g.metrics = r } }

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l.With("module", "approval_gate") }
}

func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithInstances lets the gate close approvals whose instance already ended.
func WithInstances(r persistence.InstanceRepository) Option {
	return func(g *Gate) { g.instances = r }
}

func NewGate(approvals persistence.ApprovalRepository, resumer Resumer, notifier protocol.Notifier, config Config, opts ...Option) *Gate {
	if config.Channel == "" {
		config.Channel = "email"
	}

	g := &Gate{
		approvals: approvals,
		resumer:   resumer,
		notifier:  notifier,
		publisher: eventbus.Discard{},
		metrics:   metrics.Noop{},
		logger:    slog.Default().With("module", "approval_gate"),
		now:       func() time.Time { return time.Now().UTC() },
		config:    config,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// RequestApproval opens a pending approval for execution and notifies the approver.
func (g *Gate) RequestApproval(ctx context.Context, execution *models.StepExecution, approverUserID string, cfg *models.ApprovalConfig) (*models.Approval, error) {
	now := g.now()
	approval := &models.Approval{
		ID:             uuid.Must(uuid.NewV7()).String(),
		InstanceID:     execution.InstanceID,
		ExecutionID:    execution.ID,
		StepID:         execution.StepID,
		ApproverUserID: approverUserID,
		Status:         models.ApprovalPending,
		RequestedAt:    now,
		RemindersSent:  []time.Time{},
		CompanyID:      execution.CompanyID,
	}

	if cfg != nil {
		approval.ReminderInterval = cfg.ReminderInterval
		if cfg.Expiry > 0 {
			expires := now.Add(cfg.Expiry.Std())
			approval.ExpiresAt = &expires
		}
	}

	if err := g.approvals.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	g.notify(ctx, approval, "Approval requested", fmt.Sprintf("Your approval is requested for step %s (approval %s).", approval.StepID, approval.ID))
	g.publish(ctx, approval, events.ApprovalRequestedEvent)

	return approval, nil
}

// RecordResponse applies decision to a pending approval. It is the only way
// a human response reaches the instance.
func (g *Gate) RecordResponse(ctx context.Context, approvalID string, decision models.ApprovalStatus, comments, actor string) (*models.Approval, error) {
	if !decision.IsDecision() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	approval, err := g.approvals.ByID(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}

	if approval.Status != models.ApprovalPending {
		return approval, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, approval.ID, approval.Status)
	}

	if _, err := g.resumer.ResumeFromApproval(ctx, approval.ExecutionID, decision, comments, actor); err != nil {
		return nil, err
	}

	resolved, err := g.approvals.ByID(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload approval: %w", err)
	}

	g.publish(ctx, resolved, events.ApprovalResolvedEvent)
	g.logger.InfoContext(ctx, "Approval response recorded", "approval_id", approvalID, "decision", decision, "actor", actor)

	return resolved, nil
}

// SendReminders reminds approvers of every pending approval whose reminder
// interval has elapsed since the request or the last reminder. Each reminder
// is claimed with a conditional append before it is sent, so concurrent
// callers never send twice for the same window. It returns the number sent.
func (g *Gate) SendReminders(ctx context.Context, now time.Time) (int, error) {
	pending, err := g.approvals.Pending(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	sent := 0

	for _, approval := range pending {
		if g.closeIfOrphaned(ctx, approval) {
			continue
		}

		interval := approval.ReminderInterval.Std()
		if interval <= 0 {
			interval = g.config.ReminderInterval
		}

		if !approval.ReminderDue(now, interval) {
			continue
		}

		if err := g.approvals.AppendReminder(ctx, approval.ID, len(approval.RemindersSent), now); err != nil {
			if !errors.Is(err, persistence.ErrStaleState) {
				g.logger.ErrorContext(ctx, "failed to record reminder", "approval_id", approval.ID, "error", err)
			}

			continue
		}

		g.notify(ctx, approval, "Approval reminder",
			fmt.Sprintf("Reminder %d: approval %s for step %s is still waiting for you.", len(approval.RemindersSent)+1, approval.ID, approval.StepID))
		g.publish(ctx, approval, events.ApprovalReminderEvent)
		g.metrics.IncApprovalReminder()

		sent++
	}

	return sent, nil
}

// ExpireDue rejects every pending approval whose expiry has passed and fails
// its instance. It returns the number expired.
func (g *Gate) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	pending, err := g.approvals.Pending(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	expired := 0

	for _, approval := range pending {
		if !approval.Expired(now) {
			continue
		}

		if g.closeIfOrphaned(ctx, approval) {
			continue
		}

		if _, err := g.resumer.ExpireApproval(ctx, approval.ExecutionID); err != nil {
			g.logger.WarnContext(ctx, "failed to expire approval", "approval_id", approval.ID, "error", err)

			continue
		}

		approval.Status = models.ApprovalRejected
		g.publish(ctx, approval, events.ApprovalResolvedEvent)

		expired++
	}

	return expired, nil
}

// closeIfOrphaned rejects a pending approval whose instance is terminal and
// reports whether it did.
func (g *Gate) closeIfOrphaned(ctx context.Context, approval *models.Approval) bool {
	if g.instances == nil {
		return false
	}

	inst, err := g.instances.ByID(ctx, approval.InstanceID)
	if err != nil {
		if !errors.Is(err, persistence.ErrInstanceNotFound) {
			g.logger.ErrorContext(ctx, "failed to load approval instance", "approval_id", approval.ID, "error", err)

			return false
		}
	} else if !inst.Status.IsTerminal() {
		return false
	}

	err = g.approvals.Resolve(ctx, approval.ID, models.ApprovalRejected, "instance is no longer active", "system", g.now())
	if err != nil && !errors.Is(err, persistence.ErrStaleState) {
		g.logger.ErrorContext(ctx, "failed to close orphaned approval", "approval_id", approval.ID, "error", err)

		return true
	}

	g.logger.InfoContext(ctx, "Closed approval of an ended instance", "approval_id", approval.ID, "instance_id", approval.InstanceID)

	return true
}

func (g *Gate) notify(ctx context.Context, approval *models.Approval, subject, body string) {
	if g.notifier == nil {
		return
	}

	err := g.notifier.Notify(ctx, protocol.Notification{
		CompanyID:  approval.CompanyID,
		InstanceID: approval.InstanceID,
		Channel:    g.config.Channel,
		To:         approval.ApproverUserID,
		Subject:    subject,
		Body:       body,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to notify approver", "approval_id", approval.ID, "error", err)
	}
}

func (g *Gate) publish(ctx context.Context, approval *models.Approval, eventType events.EventType) {
	event := events.ApprovalEvent{
		BaseEvent:      events.NewBase(uuid.NewString(), eventType, approval.CompanyID, g.now()),
		ApprovalID:     approval.ID,
		InstanceID:     approval.InstanceID,
		ApproverUserID: approval.ApproverUserID,
		Status:         approval.Status,
	}

	if err := g.publisher.Publish(ctx, approval.InstanceID, event); err != nil {
		g.logger.ErrorContext(ctx, "failed to publish approval event", "approval_id", approval.ID, "error", err)
	}
}
