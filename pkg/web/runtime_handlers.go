package web

import (
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/trigger"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var t models.Trigger
	if err := c.Bind().JSON(&t); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	t.ProcessID = c.Params("id")

	if err := h.validator.Struct(&t); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.triggers.Create(c.Context(), companyID(c), t.ProcessID, actor(c), &t)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ListTriggers(c fiber.Ctx) error {
	triggers, err := h.triggers.ListByProcess(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) ActivateTrigger(c fiber.Ctx) error {
	t, err := h.triggers.Activate(c.Context(), companyID(c), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(t)
}

func (h *APIHandlers) DeactivateTrigger(c fiber.Ctx) error {
	t, err := h.triggers.Deactivate(c.Context(), companyID(c), c.Params("id"), actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(t)
}

// ReceiveWebhook fires a webhook trigger with the raw request body. Calls to
// an inactive trigger are accepted and start nothing.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	inst, err := h.evaluator.AcceptWebhook(c.Context(), c.Params("triggerId"), c.Body(), c.Get(trigger.SignatureHeader))
	if err != nil {
		return handleServiceError(c, err)
	}

	resp := WebhookResponse{Accepted: true}
	if inst != nil {
		resp.InstanceID = inst.ID
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *APIHandlers) DeliverEvent(c fiber.Ctx) error {
	var event models.ExternalEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	event.CompanyID = companyID(c)

	if err := h.validator.Struct(&event); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.evaluator.DeliverEvent(c.Context(), event)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DeliveryResponse{InstanceIDs: instanceIDs(started)})
}

func (h *APIHandlers) DeliverDataChange(c fiber.Ctx) error {
	var change models.DataChange
	if err := c.Bind().JSON(&change); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	change.CompanyID = companyID(c)

	if err := h.validator.Struct(&change); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.evaluator.DeliverDataChange(c.Context(), change)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DeliveryResponse{InstanceIDs: instanceIDs(started)})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	inst, err := h.instances.FetchByID(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(inst)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	var status *models.InstanceStatus

	if s := c.Query("status"); s != "" {
		is := models.InstanceStatus(s)
		status = &is
	}

	list, err := h.instances.List(c.Context(), companyID(c), c.Query("process_id"), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"instances": list, "total_count": len(list)})
}

func (h *APIHandlers) GetInstanceExecutions(c fiber.Ctx) error {
	executions, err := h.instances.Executions(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetInstanceApprovals(c fiber.Ctx) error {
	approvals, err := h.instances.Approvals(c.Context(), companyID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelInstanceRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	inst, err := h.instances.Cancel(c.Context(), companyID(c), c.Params("id"), req.Reason, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(inst)
}

// ListApprovals lists the company's approvals. Only status=pending is served.
func (h *APIHandlers) ListApprovals(c fiber.Ctx) error {
	if s := c.Query("status", string(models.ApprovalPending)); s != string(models.ApprovalPending) {
		return badRequest(c, "only status=pending is supported")
	}

	pending, err := h.instances.PendingApprovals(c.Context(), companyID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": pending})
}

func (h *APIHandlers) RespondApproval(c fiber.Ctx) error {
	var req RespondApprovalRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	resolved, err := h.instances.Respond(c.Context(), companyID(c), c.Params("id"), req.Decision, req.Comments, actor(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resolved)
}
