package web

import (
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// AppConfig carries what the router needs besides the handlers.
type AppConfig struct {
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
	// AccessLog enables the request logger middleware.
	AccessLog bool
}

// NewApp builds the fiber application with every API route.
func NewApp(h *APIHandlers, config AppConfig) *fiber.App {
	if config.Metrics == nil {
		config.Metrics = metrics.Noop{}
	}

	app := fiber.New()
	app.Use(cors.New())

	if config.AccessLog {
		app.Use(logger.New(logger.Config{
			DisableColors: true,
		}))
	}

	app.Use(requestMetrics(config.Metrics))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("procflow API")
	})

	app.Get("/health", h.HealthCheck)

	if config.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(config.Gatherer)))
	}

	app.Post("/webhooks/:triggerId", h.ReceiveWebhook)
	app.Post("/events", RequireCompany, h.DeliverEvent)
	app.Post("/data-changes", RequireCompany, h.DeliverDataChange)

	p := app.Group("/processes", RequireCompany)
	p.Post("/from-template/:templateId", h.InstantiateTemplate)
	p.Get("/", h.ListProcesses)
	p.Post("/", h.CreateProcess)
	p.Get("/:id", h.GetProcess)
	p.Patch("/:id", h.UpdateProcess)
	p.Delete("/:id", h.DeleteProcess)
	p.Post("/:id/activate", h.ActivateProcess)
	p.Post("/:id/pause", h.PauseProcess)
	p.Post("/:id/archive", h.ArchiveProcess)
	p.Post("/:id/duplicate", h.DuplicateProcess)
	p.Post("/:id/start", h.StartProcess)
	p.Get("/:id/triggers", h.ListTriggers)
	p.Post("/:id/triggers", h.CreateTrigger)

	t := app.Group("/triggers", RequireCompany)
	t.Post("/:id/activate", h.ActivateTrigger)
	t.Post("/:id/deactivate", h.DeactivateTrigger)

	i := app.Group("/instances", RequireCompany)
	i.Get("/", h.ListInstances)
	i.Get("/:id", h.GetInstance)
	i.Get("/:id/executions", h.GetInstanceExecutions)
	i.Get("/:id/approvals", h.GetInstanceApprovals)
	i.Post("/:id/cancel", h.CancelInstance)

	a := app.Group("/approvals", RequireCompany)
	a.Get("/", h.ListApprovals)
	a.Post("/:id/respond", h.RespondApproval)

	j := app.Group("/scheduled-jobs", RequireCompany)
	j.Get("/", h.ListScheduledJobs)
	j.Post("/", h.CreateScheduledJob)
	j.Get("/:id", h.GetScheduledJob)
	j.Patch("/:id", h.UpdateScheduledJob)

	st := app.Group("/step-templates", RequireCompany)
	st.Get("/", h.ListStepTemplates)
	st.Post("/", h.CreateStepTemplate)
	st.Get("/:id", h.GetStepTemplate)

	ac := app.Group("/api-connections", RequireCompany)
	ac.Get("/", h.ListAPIConnections)
	ac.Post("/", h.CreateAPIConnection)
	ac.Get("/:id", h.GetAPIConnection)

	return app
}

func requestMetrics(recorder metrics.Recorder) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		recorder.ObserveRequest(c.Method(), c.Route().Path, strconv.Itoa(c.Response().StatusCode()), time.Since(start).Seconds())

		return err
	}
}
