// Package engine wires the trigger evaluator, instance manager, step
// executor, approval gate and scheduled job runner into one explicit root.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/procflow/pkg/apiclient"
	"github.com/dukex/procflow/pkg/approval"
	"github.com/dukex/procflow/pkg/datastore"
	"github.com/dukex/procflow/pkg/documents"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/inbound"
	"github.com/dukex/procflow/pkg/metrics"
	"github.com/dukex/procflow/pkg/notify"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/scheduler"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/steps/action"
	"github.com/dukex/procflow/pkg/steps/apicall"
	approvalstep "github.com/dukex/procflow/pkg/steps/approval"
	"github.com/dukex/procflow/pkg/steps/decision"
	"github.com/dukex/procflow/pkg/steps/delay"
	"github.com/dukex/procflow/pkg/steps/document"
	"github.com/dukex/procflow/pkg/steps/notification"
	"github.com/dukex/procflow/pkg/steps/subprocess"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/dukex/procflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

var ErrMissingStore = errors.New("engine requires a persistence store")

// Config tunes the engine. Zero values get the component defaults.
type Config struct {
	TickInterval     time.Duration
	ReminderInterval time.Duration
	ReminderChannel  string
	MaxStepsPerRun   int
	DocumentsPath    string
	Breaker          apiclient.Config
}

// Dependencies are the external collaborators. Only Store is required;
// the rest fall back to in-process implementations.
type Dependencies struct {
	Store persistence.Persistence

	// Outbound receives lifecycle events. Inbound carries external events
	// and data changes to the trigger evaluator; the built-in data store
	// publishes its changes there.
	Outbound eventbus.EventPublisher
	Inbound  eventbus.EventBus

	Registry  *registry.Registry
	DataStore protocol.DataStore
	Notifier  protocol.Notifier
	APICaller protocol.APICaller
	Documents protocol.DocumentRenderer

	Metrics metrics.Recorder
	Tracer  trace.Tracer
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Engine holds the wired components.
type Engine struct {
	Store     persistence.Persistence
	Registry  *registry.Registry
	Executor  *workflow.Executor
	Manager   *workflow.Manager
	Gate      *approval.Gate
	Evaluator *trigger.Evaluator
	Runner    *scheduler.Runner
	Inbound   *inbound.Consumer
	DataStore protocol.DataStore

	Processes *services.Process
	Triggers  *services.Trigger
	Jobs      *services.ScheduledJob
	Catalog   *services.Catalog
	Instances *services.Instance

	inboundBus eventbus.EventBus
	logger     *slog.Logger
}

// New builds the engine. Construction order follows the dependencies:
// registry, executor, manager, gate, then the handlers that call back into
// the manager and the gate.
func New(config Config, deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, ErrMissingStore
	}

	deps = deps.withDefaults()
	logger := deps.Logger.With("module", "engine")

	var inboundPublisher eventbus.EventPublisher = eventbus.Discard{}
	if deps.Inbound != nil {
		inboundPublisher = deps.Inbound
	}

	if deps.DataStore == nil {
		deps.DataStore = datastore.NewMemory(inboundPublisher, deps.Logger)
	}

	if deps.APICaller == nil {
		deps.APICaller = apiclient.New(&http.Client{}, config.Breaker, deps.Logger)
	}

	if deps.Documents == nil {
		root := config.DocumentsPath
		if root == "" {
			root = filepath.Join(os.TempDir(), "procflow-documents")
		}

		deps.Documents = documents.NewFileRenderer(root, deps.Logger)
	}

	opts := workflow.Options{
		Logger:         deps.Logger,
		Clock:          deps.Clock,
		Publisher:      deps.Outbound,
		Metrics:        deps.Metrics,
		Tracer:         deps.Tracer,
		MaxStepsPerRun: config.MaxStepsPerRun,
	}

	executor := workflow.NewExecutor(deps.Store, deps.Registry, opts)
	manager := workflow.NewManager(deps.Store, executor, opts)

	gate := approval.NewGate(
		deps.Store.ApprovalRepository(),
		manager,
		deps.Notifier,
		approval.Config{ReminderInterval: config.ReminderInterval, Channel: config.ReminderChannel},
		approval.WithPublisher(deps.Outbound),
		approval.WithMetrics(deps.Metrics),
		approval.WithLogger(deps.Logger),
		approval.WithClock(deps.Clock),
		approval.WithInstances(deps.Store.InstanceRepository()),
	)

	registerBuiltins(deps.Registry, deps, manager, gate)

	evaluator := trigger.NewEvaluator(deps.Store, manager, deps.Logger)

	runner := scheduler.NewRunner(
		deps.Store.ScheduledJobRepository(),
		evaluator,
		manager,
		gate,
		deps.Logger,
		scheduler.Config{Interval: config.TickInterval},
		scheduler.WithPublisher(deps.Outbound),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithClock(deps.Clock),
	)

	logger.Info("Engine wired", "step_types", deps.Registry.Types())

	return &Engine{
		Store:      deps.Store,
		Registry:   deps.Registry,
		Executor:   executor,
		Manager:    manager,
		Gate:       gate,
		Evaluator:  evaluator,
		Runner:     runner,
		Inbound:    inbound.NewConsumer(evaluator, deps.Logger),
		DataStore:  deps.DataStore,
		Processes:  services.NewProcess(deps.Store, deps.Logger),
		Triggers:   services.NewTrigger(deps.Store, deps.Logger),
		Jobs:       services.NewScheduledJob(deps.Store),
		Catalog:    services.NewCatalog(deps.Store),
		Instances:  services.NewInstance(deps.Store, manager, gate),
		inboundBus: deps.Inbound,
		logger:     logger,
	}, nil
}

func registerBuiltins(reg *registry.Registry, deps Dependencies, manager *workflow.Manager, gate *approval.Gate) {
	reg.RegisterDefault(action.New(deps.DataStore))
	reg.RegisterDefault(apicall.New(deps.Store.APIConnectionRepository(), deps.APICaller))
	reg.RegisterDefault(approvalstep.New(gate))
	reg.RegisterDefault(decision.New())
	reg.RegisterDefault(delay.New())
	reg.RegisterDefault(document.New(deps.Documents))
	reg.RegisterDefault(notification.New(deps.Notifier))
	reg.RegisterDefault(subprocess.New(manager))
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}

	if d.Outbound == nil {
		d.Outbound = eventbus.Discard{}
	}

	if d.Metrics == nil {
		d.Metrics = metrics.Noop{}
	}

	if d.Registry == nil {
		d.Registry = registry.NewRegistry(d.Logger)
	}

	if d.Notifier == nil {
		d.Notifier = notify.NewRouter(notify.NewLog(d.Logger))
	}

	return d
}

// Start subscribes the inbound consumer and starts the scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.StartInbound(ctx); err != nil {
		return err
	}

	if err := e.StartScheduler(ctx); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Engine started")

	return nil
}

// StartInbound subscribes the inbound consumer to the inbound bus, if any.
func (e *Engine) StartInbound(ctx context.Context) error {
	if e.inboundBus == nil {
		return nil
	}

	if err := e.Inbound.Register(e.inboundBus); err != nil {
		return err
	}

	if err := e.inboundBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to inbound bus: %w", err)
	}

	return nil
}

// StartScheduler starts only the runner, for a dedicated scheduler process.
func (e *Engine) StartScheduler(ctx context.Context) error {
	if err := e.Runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

// Stop stops the runner and waits for an in-flight tick.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.Runner.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	e.logger.InfoContext(ctx, "Engine stopped")

	return nil
}
