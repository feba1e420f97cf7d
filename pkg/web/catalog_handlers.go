package web

import (
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) CreateScheduledJob(c fiber.Ctx) error {
	var req CreateScheduledJobRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	job, err := h.jobs.Create(c.Context(), companyID(c), actor(c), &models.ScheduledJob{
		Name:      req.Name,
		ProcessID: req.ProcessID,
		Cron:      req.Cron,
		Timezone:  req.Timezone,
		Payload:   req.Payload,
		IsActive:  req.IsActive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *APIHandlers) GetScheduledJob(c fiber.Ctx) error {
	job, err := h.jobs.FetchByID(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *APIHandlers) ListScheduledJobs(c fiber.Ctx) error {
	jobs, err := h.jobs.List(c.Context(), companyID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"scheduled_jobs": jobs})
}

func (h *APIHandlers) UpdateScheduledJob(c fiber.Ctx) error {
	var req UpdateScheduledJobRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	job, err := h.jobs.Update(c.Context(), companyID(c), c.Params("id"), actor(c), services.ScheduledJobPatch{
		Name:     req.Name,
		Cron:     req.Cron,
		Timezone: req.Timezone,
		Payload:  req.Payload,
		IsActive: req.IsActive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *APIHandlers) CreateStepTemplate(c fiber.Ctx) error {
	var tmpl models.StepTemplate
	if err := c.Bind().JSON(&tmpl); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	created, err := h.catalog.CreateStepTemplate(c.Context(), companyID(c), actor(c), &tmpl)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetStepTemplate(c fiber.Ctx) error {
	tmpl, err := h.catalog.StepTemplate(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tmpl)
}

func (h *APIHandlers) ListStepTemplates(c fiber.Ctx) error {
	templates, err := h.catalog.StepTemplates(c.Context(), companyID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"step_templates": templates})
}

func (h *APIHandlers) CreateAPIConnection(c fiber.Ctx) error {
	var conn models.APIConnection
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(&conn); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.catalog.CreateAPIConnection(c.Context(), companyID(c), actor(c), &conn)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetAPIConnection(c fiber.Ctx) error {
	conn, err := h.catalog.APIConnection(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conn)
}

func (h *APIHandlers) ListAPIConnections(c fiber.Ctx) error {
	conns, err := h.catalog.APIConnections(c.Context(), companyID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"api_connections": conns})
}
