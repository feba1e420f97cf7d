package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	processes *services.Process
	triggers  *services.Trigger
	jobs      *services.ScheduledJob
	catalog   *services.Catalog
	instances *services.Instance
	evaluator *trigger.Evaluator
	registry  *registry.Registry
	validator *validator.Validate
}

func NewAPIHandlers(eng *engine.Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		processes: eng.Processes,
		triggers:  eng.Triggers,
		jobs:      eng.Jobs,
		catalog:   eng.Catalog,
		instances: eng.Instances,
		evaluator: eng.Evaluator,
		registry:  eng.Registry,
		validator: validator,
	}
}

func companyID(c fiber.Ctx) string {
	return c.Get(CompanyHeader)
}

func actor(c fiber.Ctx) string {
	if user := c.Get(UserHeader); user != "" {
		return user
	}

	return defaultActor
}

// bind decodes and validates the JSON body into req. An empty body leaves
// req zero. It writes the 400 response itself and reports whether the
// handler may continue.
func (h *APIHandlers) bind(c fiber.Ctx, req any) (bool, error) {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return false, badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return false, badRequest(c, err.Error())
	}

	return true, nil
}

// RequireCompany rejects tenant-scoped requests without a company header.
func RequireCompany(c fiber.Ctx) error {
	if companyID(c) == "" {
		return badRequest(c, CompanyHeader+" header is required")
	}

	return c.Next()
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.processes.HealthCheck(c.Context())
	stepTypes := h.registry.Types()
	regOk := len(stepTypes) > 0

	status := "unhealthy"
	message := "procflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "procflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   fiber.Map{"step_types": stepTypes},
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateProcess(c fiber.Ctx) error {
	var req CreateProcessRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	created, err := h.processes.Create(c.Context(), companyID(c), actor(c), &models.ProcessDefinition{
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		IsTemplate:  req.IsTemplate,
		Version:     req.Version,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ListProcesses(c fiber.Ctx) error {
	var status *models.ProcessStatus

	if s := c.Query("status"); s != "" {
		ps := models.ProcessStatus(s)
		status = &ps
	}

	var isTemplate *bool

	if s := c.Query("is_template"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return badRequest(c, "Invalid is_template: "+err.Error())
		}

		isTemplate = &v
	}

	defs, err := h.processes.List(c.Context(), companyID(c), status, isTemplate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"processes":   defs,
		"total_count": len(defs),
	})
}

func (h *APIHandlers) GetProcess(c fiber.Ctx) error {
	def, err := h.processes.FetchByID(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) UpdateProcess(c fiber.Ctx) error {
	var req UpdateProcessRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	updated, err := h.processes.Update(c.Context(), companyID(c), c.Params("id"), actor(c), services.ProcessPatch{
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		IsTemplate:  req.IsTemplate,
		Version:     req.Version,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateProcess(c fiber.Ctx) error {
	def, err := h.processes.Activate(c.Context(), companyID(c), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) PauseProcess(c fiber.Ctx) error {
	def, err := h.processes.Pause(c.Context(), companyID(c), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) ArchiveProcess(c fiber.Ctx) error {
	def, err := h.processes.Archive(c.Context(), companyID(c), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeleteProcess(c fiber.Ctx) error {
	if err := h.processes.Delete(c.Context(), companyID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DuplicateProcess(c fiber.Ctx) error {
	var req DuplicateProcessRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	copied, err := h.processes.Duplicate(c.Context(), companyID(c), c.Params("id"), actor(c), services.DuplicateRequest{
		Name:       req.Name,
		AsTemplate: req.AsTemplate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(copied)
}

func (h *APIHandlers) InstantiateTemplate(c fiber.Ctx) error {
	var req InstantiateTemplateRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	def, err := h.processes.InstantiateFromTemplate(c.Context(), companyID(c), c.Params("templateId"), actor(c), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(def)
}

func (h *APIHandlers) StartProcess(c fiber.Ctx) error {
	var req StartProcessRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	inst, err := h.evaluator.StartManual(c.Context(), companyID(c), c.Params("id"), req.Payload, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(inst)
}
