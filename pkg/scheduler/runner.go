// Package scheduler owns the engine's periodic tick: it fires due scheduled
// jobs exactly once per period, resumes parked instances and sweeps pending
// approvals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
)

const DefaultInterval = 30 * time.Second

// JobFirer starts the process bound to a scheduled job.
type JobFirer interface {
	FireScheduled(ctx context.Context, job *models.ScheduledJob, at time.Time) (*models.ProcessInstance, error)
}

// SuspensionResumer continues instances parked on a delay or a retry.
type SuspensionResumer interface {
	ResumeDue(ctx context.Context, now time.Time) (int, error)
}

// ApprovalSweeper sends due reminders and expires overdue approvals.
type ApprovalSweeper interface {
	SendReminders(ctx context.Context, now time.Time) (int, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// Config tunes the runner loop.
type Config struct {
	Interval time.Duration
}

// Runner is the single periodic driver of time-based engine work.
type Runner struct {
	jobs      persistence.ScheduledJobRepository
	firer     JobFirer
	resumer   SuspensionResumer
	approvals ApprovalSweeper
	publisher eventbus.EventPublisher
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	stopped chan struct{}
	started bool
}

// Option customizes a Runner.
type Option func(*Runner)

func WithPublisher(p eventbus.EventPublisher) Option { return func(r *Runner) { r.publisher = p } }

func WithMetrics(m metrics.Recorder) Option { return func(r *Runner) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner creates a runner. resumer and approvals may be nil, in which case
// Tick only fires jobs.
func NewRunner(
	jobs persistence.ScheduledJobRepository,
	firer JobFirer,
	resumer SuspensionResumer,
	approvals ApprovalSweeper,
	logger *slog.Logger,
	config Config,
	opts ...Option,
) *Runner {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	r := &Runner{
		jobs:      jobs,
		firer:     firer,
		resumer:   resumer,
		approvals: approvals,
		publisher: eventbus.Discard{},
		metrics:   metrics.Noop{},
		logger:    logger.With("module", "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
		interval:  config.Interval,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunDueJobs fires every active job whose NextRunAt is at or before now.
// Jobs never scheduled get their first boundary at or after now and fire only
// if now is exactly that boundary. Each firing is preceded by an atomic claim
// that advances NextRunAt past now; a lost claim means another runner fired
// the period, and a failing firing leaves the job advanced. It returns the
// number of periods claimed.
func (r *Runner) RunDueJobs(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	candidates, err := r.jobs.Candidates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due scheduled jobs: %w", err)
	}

	fired := 0

	for _, job := range candidates {
		ok, err := r.runJob(ctx, job, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to run scheduled job", "job_id", job.ID, "error", err)

			continue
		}

		if ok {
			fired++
		}
	}

	return fired, nil
}

func (r *Runner) runJob(ctx context.Context, job *models.ScheduledJob, now time.Time) (bool, error) {
	logger := r.logger.With("job_id", job.ID, "process_id", job.ProcessID)

	scheduledFor := job.NextRunAt

	if scheduledFor == nil {
		boundary, err := job.BoundaryAtOrAfter(now)
		if err != nil {
			return false, err
		}

		if boundary.After(now) {
			won, err := r.jobs.Claim(ctx, job.ID, nil, nil, boundary)
			if err != nil {
				return false, fmt.Errorf("failed to initialize next run: %w", err)
			}

			if won {
				r.metrics.IncJobRun(metrics.JobScheduled)
				logger.InfoContext(ctx, "Scheduled job initialized", "next_run_at", boundary)
			}

			return false, nil
		}

		scheduledFor = &boundary
	}

	if scheduledFor.After(now) {
		return false, nil
	}

	next, err := job.NextAfter(now)
	if err != nil {
		return false, err
	}

	lastRun := now

	won, err := r.jobs.Claim(ctx, job.ID, job.NextRunAt, &lastRun, next)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled job: %w", err)
	}

	if !won {
		r.metrics.IncJobRun(metrics.JobClaimLost)
		logger.DebugContext(ctx, "Scheduled job already claimed")

		return false, nil
	}

	inst, err := r.firer.FireScheduled(ctx, job, *scheduledFor)
	if err != nil {
		r.metrics.IncJobRun(metrics.JobFailed)
		logger.ErrorContext(ctx, "failed to fire scheduled job", "scheduled_for", *scheduledFor, "next_run_at", next, "error", err)

		return true, nil
	}

	r.metrics.IncJobRun(metrics.JobFired)
	r.publishFired(ctx, job, *scheduledFor, inst)
	logger.InfoContext(ctx, "Scheduled job fired", "scheduled_for", *scheduledFor, "next_run_at", next)

	return true, nil
}

func (r *Runner) publishFired(ctx context.Context, job *models.ScheduledJob, scheduledFor time.Time, inst *models.ProcessInstance) {
	event := events.ScheduledJobFired{
		BaseEvent:    events.NewBase(uuid.NewString(), events.ScheduledJobFiredEvent, job.CompanyID, r.now()),
		JobID:        job.ID,
		ProcessID:    job.ProcessID,
		TriggerID:    job.TriggerID,
		ScheduledFor: scheduledFor,
	}

	if inst != nil {
		event.InstanceID = inst.ID
	}

	if err := r.publisher.Publish(ctx, job.ID, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish job fired event", "job_id", job.ID, "error", err)
	}
}

// Tick runs one round of time-based work: due jobs, due delay and retry
// resumptions, approval reminders and approval expiry. A failing stage is
// logged and never stops the others.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	if _, err := r.RunDueJobs(ctx, now); err != nil {
		r.logger.ErrorContext(ctx, "failed to run due jobs", "error", err)
	}

	if r.resumer != nil {
		if _, err := r.resumer.ResumeDue(ctx, now); err != nil {
			r.logger.ErrorContext(ctx, "failed to resume suspended instances", "error", err)
		}
	}

	if r.approvals == nil {
		return
	}

	if _, err := r.approvals.SendReminders(ctx, now); err != nil {
		r.logger.ErrorContext(ctx, "failed to send approval reminders", "error", err)
	}

	if _, err := r.approvals.ExpireDue(ctx, now); err != nil {
		r.logger.ErrorContext(ctx, "failed to expire approvals", "error", err)
	}
}

// Start launches the tick loop. It runs one tick immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.logger.InfoContext(ctx, "Starting scheduler", "interval", r.interval)

	r.ticker = time.NewTicker(r.interval)
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	r.started = true

	go r.loop(ctx, r.ticker, r.done, r.stopped)

	return nil
}

func (r *Runner) loop(ctx context.Context, ticker *time.Ticker, done, stopped chan struct{}) {
	defer close(stopped)

	r.Tick(ctx, r.now())

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx, r.now())
		}
	}
}

// Stop ends the loop and waits for a running tick to finish or ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()

	if !r.started {
		r.mu.Unlock()

		return nil
	}

	r.ticker.Stop()
	close(r.done)
	stopped := r.stopped
	r.started = false
	r.mu.Unlock()

	select {
	case <-stopped:
		r.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
